package changefeed

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"achievement_engine/platform/logger"
)

const (
	listenBaseDelay = 500 * time.Millisecond
	listenMaxDelay  = 30 * time.Second
)

// Sink receives parsed change events.
type Sink interface {
	Submit(ctx context.Context, ev ChangeEvent) error
}

// Listener holds a dedicated connection that LISTENs on the change channel
// and forwards every notification to the sink. Notifications sent while the
// connection is down are lost; the periodic sweep covers that gap.
type Listener struct {
	dsn     string
	channel string
	sink    Sink
	log     *logger.Logger
}

// NewListener creates a listener on channel.
func NewListener(dsn, channel string, sink Sink, log *logger.Logger) *Listener {
	return &Listener{dsn: dsn, channel: channel, sink: sink, log: log.WithComponent("pglistener")}
}

// Run listens until ctx is done, reconnecting with quadratic backoff.
func (l *Listener) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		attempt++
		delay := backoff(attempt)
		l.log.Warn("change feed connection lost", "error", err, "attempt", attempt, "retryIn", delay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// listen runs one connection lifetime. connected reports whether LISTEN
// succeeded before the failure.
func (l *Listener) listen(ctx context.Context) (connected bool, err error) {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, err
	}
	l.log.Info("listening for change events", "channel", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		ev, err := ParseChangeEvent([]byte(n.Payload))
		if err != nil {
			l.log.Warn("malformed change event dropped", "error", err)
			continue
		}
		if err := l.sink.Submit(ctx, ev); err != nil {
			if errors.Is(err, context.Canceled) {
				return true, err
			}
			l.log.Warn("change event not queued", "stream", ev.Stream, "documentId", ev.DocumentID, "error", err)
		}
	}
}

func backoff(attempt int) time.Duration {
	delay := listenBaseDelay * time.Duration(attempt*attempt)
	if delay > listenMaxDelay {
		return listenMaxDelay
	}
	return delay
}
