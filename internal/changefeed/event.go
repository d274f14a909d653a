// Package changefeed turns row change notifications into progress work.
//
// Three streams arrive on one Postgres channel: activity inserts, progress
// updates and assessment writes. Activity inserts go straight to the action
// classifier. Progress and assessment events pass a self-update filter and a
// quarantine set so the same document is never processed twice at once.
package changefeed

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

// Stream names a watched table family.
type Stream string

const (
	StreamActivity   Stream = "activity"
	StreamProgress   Stream = "progress"
	StreamAssessment Stream = "assessment"
)

// Streams lists every watched stream.
var Streams = []Stream{StreamActivity, StreamProgress, StreamAssessment}

// Operation is the row operation that produced the event.
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
)

// ChangeEvent is one change notification.
type ChangeEvent struct {
	Stream        Stream          `json:"stream"`
	Operation     Operation       `json:"operation"`
	DocumentID    string          `json:"documentId"`
	UpdatedFields []string        `json:"updatedFields,omitempty"`
	FullDocument  json.RawMessage `json:"fullDocument,omitempty"`
}

// ParseChangeEvent decodes and validates a notification payload.
func ParseChangeEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if !slices.Contains(Streams, ev.Stream) {
		return ChangeEvent{}, fmt.Errorf("unknown stream %q", ev.Stream)
	}
	if ev.DocumentID == "" {
		return ChangeEvent{}, fmt.Errorf("change event on %s has no documentId", ev.Stream)
	}
	return ev, nil
}

type documentHeader struct {
	UserID       uuid.UUID `json:"user_id"`
	UpdateSource string    `json:"update_source"`
}

func (e ChangeEvent) header() (documentHeader, error) {
	var h documentHeader
	if len(e.FullDocument) == 0 {
		return h, fmt.Errorf("change event %s has no fullDocument", e.DocumentID)
	}
	if err := json.Unmarshal(e.FullDocument, &h); err != nil {
		return h, fmt.Errorf("decode fullDocument: %w", err)
	}
	return h, nil
}

// UserID returns the owner of the changed row.
func (e ChangeEvent) UserID() (uuid.UUID, error) {
	h, err := e.header()
	if err != nil {
		return uuid.Nil, err
	}
	if h.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("change event %s has no user_id", e.DocumentID)
	}
	return h.UserID, nil
}

// Activity decodes the inserted activity row.
func (e ChangeEvent) Activity() (domain.Activity, error) {
	var a domain.Activity
	if len(e.FullDocument) == 0 {
		return a, fmt.Errorf("activity event %s has no fullDocument", e.DocumentID)
	}
	if err := json.Unmarshal(e.FullDocument, &a); err != nil {
		return a, fmt.Errorf("decode activity: %w", err)
	}
	if a.UserID == uuid.Nil || a.Action == "" {
		return a, fmt.Errorf("activity event %s is missing user_id or action", e.DocumentID)
	}
	return a, nil
}

// SelfUpdate reports whether the event was produced by a promotion write and
// names the reason. Promotion writes set the promotion marker and carry the
// evaluator update source.
func (e ChangeEvent) SelfUpdate() (bool, string) {
	if slices.Contains(e.UpdatedFields, domain.PromotionMarkerField) {
		return true, "promotion marker changed"
	}
	if h, err := e.header(); err == nil && h.UpdateSource == domain.UpdateSourceEvaluator {
		return true, "written by evaluator"
	}
	return false, ""
}
