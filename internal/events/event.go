// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"encoding/json"

	"achievement_engine/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Achievement Domain Events
// =============================================================================

// AchievementUnlocked is published after a promotion has been persisted.
type AchievementUnlocked struct {
	BaseEvent
	UserID        uuid.UUID `json:"userId"`
	OldLevel      string    `json:"oldLevel"`
	OldBadge      string    `json:"oldBadge"`
	NewLevel      string    `json:"newLevel"`
	NewBadge      string    `json:"newBadge"`
	TaskCompleted int       `json:"taskCompleted"`
}

func (e AchievementUnlocked) EventName() string { return "achievement.unlocked" }

// =============================================================================
// Notification Domain Events
// =============================================================================

// NotificationRequested carries a notification request to the push transport.
type NotificationRequested struct {
	BaseEvent
	Kind             string            `json:"kind"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	RecipientUserIDs []uuid.UUID       `json:"recipientUserIds"`
	DeepLink         string            `json:"deepLink"`
	Data             map[string]string `json:"data,omitempty"`
}

func (e NotificationRequested) EventName() string { return "notification.requested" }

// NotificationOutboxDue is published by the scheduler worker when an outbox row is due.
type NotificationOutboxDue struct {
	BaseEvent
	OutboxID uuid.UUID       `json:"outboxId"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

func (e NotificationOutboxDue) EventName() string { return "notification.outbox.due" }
