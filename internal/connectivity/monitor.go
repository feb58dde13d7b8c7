// Package connectivity tracks whether the sale server is reachable and
// fires a callback on every offline to online transition.
package connectivity

import (
	"context"
	"sync"
	"time"

	"possync/internal/metrics"

	"github.com/rs/zerolog/log"
)

type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor holds only the last observed state. A terminal starts offline, so
// the first successful probe counts as a transition.
type Monitor struct {
	prober   Prober
	interval time.Duration
	onOnline func()

	mu     sync.Mutex
	online bool
}

// New returns a monitor probing every interval. onOnline runs in its own
// goroutine; it must guard itself against overlapping runs.
func New(prober Prober, interval time.Duration, onOnline func()) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{prober: prober, interval: interval, onOnline: onOnline}
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Msg("connectivity: monitor started")
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connectivity: monitor stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check probes once and records the outcome.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.Ping(ctx)
	if err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Msg("connectivity: probe failed")
	}
	online := err == nil
	m.Observe(online)
	return online
}

// Observe records a state seen elsewhere, such as a submission that could
// not reach the server.
func (m *Monitor) Observe(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if online {
		metrics.TerminalOnline.Set(1)
	} else {
		metrics.TerminalOnline.Set(0)
	}

	switch {
	case online && !was:
		log.Info().Msg("connectivity: server reachable")
		if m.onOnline != nil {
			go m.onOnline()
		}
	case !online && was:
		log.Warn().Msg("connectivity: server unreachable, sales will be queued")
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
