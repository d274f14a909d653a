package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"achievement_engine/internal/events"
	"achievement_engine/internal/notification/outbox"
	"achievement_engine/platform/logger"
)

// Notification kinds. The outbox template column carries the same value.
const (
	KindAchievementUnlocked = "achievement.unlocked"
	KindInactivityReminder  = "engagement.inactivity"
	KindLeaderBoardDownFall = "leaderboard.downfall"
	KindPendingBadge        = "leaderboard.pending_badge"
)

// Request is the payload handed to the push transport.
type Request struct {
	Kind             string            `json:"kind"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	RecipientUserIDs []uuid.UUID       `json:"recipientUserIds"`
	DeepLink         string            `json:"deepLink"`
	OldLevel         string            `json:"oldLevel,omitempty"`
	NewLevel         string            `json:"newLevel,omitempty"`
	OldBadge         string            `json:"oldBadge,omitempty"`
	NewBadge         string            `json:"newBadge,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
}

func (r Request) validate() error {
	if r.Kind == "" {
		return fmt.Errorf("notification kind is required")
	}
	if len(r.RecipientUserIDs) == 0 {
		return fmt.Errorf("notification %s has no recipients", r.Kind)
	}
	return nil
}

func (r Request) event() events.NotificationRequested {
	data := make(map[string]string, len(r.Data)+4)
	for k, v := range r.Data {
		data[k] = v
	}
	for k, v := range map[string]string{"oldLevel": r.OldLevel, "newLevel": r.NewLevel, "oldBadge": r.OldBadge, "newBadge": r.NewBadge} {
		if v != "" {
			data[k] = v
		}
	}
	return events.NotificationRequested{
		BaseEvent:        events.NewBaseEvent(),
		Kind:             r.Kind,
		Title:            r.Title,
		Description:      r.Description,
		RecipientUserIDs: r.RecipientUserIDs,
		DeepLink:         r.DeepLink,
		Data:             data,
	}
}

// Dispatcher accepts notification requests for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// OutboxWriter persists outbox rows.
type OutboxWriter interface {
	Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error)
}

// OutboxDispatcher stores requests in the notification outbox. The scheduler
// relay picks them up from there.
type OutboxDispatcher struct {
	writer OutboxWriter
	log    *logger.Logger
}

// NewOutboxDispatcher creates an outbox-backed dispatcher.
func NewOutboxDispatcher(writer OutboxWriter, log *logger.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{writer: writer, log: log}
}

func (d *OutboxDispatcher) Dispatch(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	id, err := d.writer.Insert(ctx, outbox.InsertParams{
		Kind:       req.Kind,
		Recipients: len(req.RecipientUserIDs),
		Payload:    req,
	})
	if err != nil {
		return fmt.Errorf("queue %s notification: %w", req.Kind, err)
	}
	d.log.Debug("notification queued", "outboxId", id, "kind", req.Kind, "recipients", len(req.RecipientUserIDs))
	return nil
}

// BusDispatcher publishes requests straight onto the event bus.
type BusDispatcher struct {
	bus events.Bus
}

// NewBusDispatcher creates a dispatcher for single-process setups.
func NewBusDispatcher(bus events.Bus) *BusDispatcher {
	return &BusDispatcher{bus: bus}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	d.bus.Publish(ctx, req.event())
	return nil
}

// MemoryDispatcher records requests in memory.
type MemoryDispatcher struct {
	mu       sync.Mutex
	requests []Request
	err      error
}

// NewMemoryDispatcher creates an empty recorder.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

// FailWith makes subsequent dispatches return err.
func (d *MemoryDispatcher) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *MemoryDispatcher) Dispatch(_ context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.requests = append(d.requests, req)
	return nil
}

// Requests returns the recorded requests.
func (d *MemoryDispatcher) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}
