package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is satisfied by PgStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunKeepAlive pings the store every interval until ctx ends, so hosted
// databases that pause when idle stay awake.
func RunKeepAlive(ctx context.Context, p Pinger, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 || p == nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := p.Ping(pctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("keepalive ping")
				continue
			}
			log.Debug().Msg("keepalive ping ok")
		}
	}
}
