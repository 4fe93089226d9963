package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PgFeed listens for the notifications sent by the menu table triggers.
type PgFeed struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPgFeed(pool *pgxpool.Pool, log zerolog.Logger) *PgFeed {
	return &PgFeed{pool: pool, log: log.With().Str("component", "pg_feed").Logger()}
}

type pgSubscription struct {
	events chan ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *pgSubscription) Events() <-chan ChangeEvent { return s.events }

func (s *pgSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Subscribe holds one pool connection in LISTEN mode until the subscription
// is closed or ctx ends.
func (f *PgFeed) Subscribe(ctx context.Context, menuID string) (Subscription, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+PgNotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", PgNotifyChannel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &pgSubscription{events: make(chan ChangeEvent, 64), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer close(sub.events)
		defer func() {
			// the connection goes back to the pool, so stop listening first
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.log.Warn().Err(err).Msg("wait for notification")
				}
				return
			}
			ev, err := decodeChangeEvent(n.Payload)
			if err != nil {
				f.log.Warn().Err(err).Str("payload", n.Payload).Msg("skip notification")
				continue
			}
			if !matchesMenu(ev, menuID) {
				continue
			}
			select {
			case sub.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}
