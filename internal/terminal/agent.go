package terminal

import (
	"context"
	"time"

	"possync/internal/infra"
	"possync/internal/reconcile"

	"github.com/rs/zerolog/log"
)

// Syncer runs one reconciliation pass.
type Syncer interface {
	Run(ctx context.Context) (reconcile.Result, error)
}

// RetryLoop periodically re-runs the reconciler while the server is
// reachable, so records left by transient failures do not wait for the next
// connectivity flip. Ticks are skipped while offline or while the
// submission breaker is open.
type RetryLoop struct {
	Syncer   Syncer
	Link     Connectivity
	Breaker  *infra.CircuitBreaker
	Interval time.Duration
}

// Start launches the loop; it stops when ctx is cancelled.
func (l RetryLoop) Start(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Info().Dur("interval", interval).Msg("retry_loop: started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retry_loop: shutting down")
				return
			case <-ticker.C:
				l.tick(ctx)
			}
		}
	}()
}

func (l RetryLoop) tick(ctx context.Context) {
	if !l.Link.Online() {
		return
	}
	if l.Breaker != nil && l.Breaker.State() == infra.CBOpen {
		log.Debug().Msg("retry_loop: circuit breaker is open, skipping tick")
		return
	}
	if _, err := l.Syncer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("retry_loop: pass failed")
	}
}
