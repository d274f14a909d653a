// Package notification provides the notification dispatcher port, its
// outbox-backed implementation and the handler that turns due outbox rows
// into NotificationRequested events for the push transport.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"achievement_engine/internal/events"
	"achievement_engine/internal/notification/outbox"
	"achievement_engine/platform/logger"
)

// OutboxStatusWriter records delivery progress of outbox rows.
type OutboxStatusWriter interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// Module owns the notification outbox.
type Module struct {
	outbox     *outbox.Repository
	status     OutboxStatusWriter
	bus        events.Bus
	dispatcher Dispatcher
	log        *logger.Logger
}

// New creates the notification module on Postgres.
func New(pool *pgxpool.Pool, bus events.Bus, log *logger.Logger) *Module {
	repo := outbox.New(pool)
	return &Module{
		outbox:     repo,
		status:     repo,
		bus:        bus,
		dispatcher: NewOutboxDispatcher(repo, log),
		log:        log,
	}
}

// newWithStatus is used where no Postgres outbox exists.
func newWithStatus(status OutboxStatusWriter, bus events.Bus, dispatcher Dispatcher, log *logger.Logger) *Module {
	return &Module{status: status, bus: bus, dispatcher: dispatcher, log: log}
}

// Dispatcher returns the dispatcher engine components should use.
func (m *Module) Dispatcher() Dispatcher {
	return m.dispatcher
}

// Outbox returns the outbox repository for the scheduler relay.
func (m *Module) Outbox() *outbox.Repository {
	return m.outbox
}

// RegisterHandlers subscribes the module to due outbox rows.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		due, ok := event.(events.NotificationOutboxDue)
		if !ok {
			return nil
		}
		return m.handleOutboxDue(ctx, due)
	}))
}

func (m *Module) handleOutboxDue(ctx context.Context, due events.NotificationOutboxDue) error {
	if err := m.status.MarkProcessing(ctx, due.OutboxID); err != nil {
		if errors.Is(err, outbox.ErrNotTransitioned) {
			m.log.Debug("outbox row already handled", "outboxId", due.OutboxID)
			return nil
		}
		return fmt.Errorf("mark outbox %s processing: %w", due.OutboxID, err)
	}

	var req Request
	if err := json.Unmarshal(due.Payload, &req); err != nil {
		return m.fail(ctx, due.OutboxID, fmt.Errorf("decode outbox payload: %w", err))
	}
	if err := req.validate(); err != nil {
		return m.fail(ctx, due.OutboxID, err)
	}

	if err := m.bus.PublishSync(ctx, req.event()); err != nil {
		return m.fail(ctx, due.OutboxID, err)
	}
	if err := m.status.MarkSucceeded(ctx, due.OutboxID); err != nil {
		return fmt.Errorf("mark outbox %s succeeded: %w", due.OutboxID, err)
	}
	m.log.Info("notification handed to transport", "outboxId", due.OutboxID, "kind", req.Kind)
	return nil
}

func (m *Module) fail(ctx context.Context, id uuid.UUID, cause error) error {
	if err := m.status.MarkFailed(ctx, id, cause.Error()); err != nil {
		m.log.DatabaseError("mark outbox failed", err)
	}
	return cause
}
