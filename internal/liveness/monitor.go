// Package liveness periodically probes sessions and evicts the ones that stop answering.
package liveness

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
)

// Probeable is a connection the monitor can probe and evict.
type Probeable interface {
	ID() string
	// TakeAlive reports whether a probe reply arrived since the last call and
	// resets the flag.
	TakeAlive() bool
	// Probe sends a liveness probe.
	Probe() error
	// Evict closes the connection. It must unregister it from any room.
	Evict()
}

// Monitor runs a probe cycle for every tracked connection once per interval.
// A connection that has not answered the previous cycle's probe is evicted,
// so an unresponsive connection is gone within two intervals.
type Monitor struct {
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	tracked map[string]Probeable
}

// NewMonitor returns a monitor that cycles every interval.
//
// Precondition: interval must be > 0; logger and metrics must be non-nil.
func NewMonitor(interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Monitor {
	if interval <= 0 {
		panic("liveness.NewMonitor: interval must be > 0")
	}
	return &Monitor{
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		tracked:  make(map[string]Probeable),
	}
}

// Track adds p to the probe set. Tracking the same id again replaces it.
func (m *Monitor) Track(p Probeable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[p.ID()] = p
}

// Untrack removes id from the probe set.
func (m *Monitor) Untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, id)
}

// Len returns the number of tracked connections.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Start runs Cycle every interval until ctx is cancelled.
//
// Postcondition: The returned channel is closed once the loop has exited.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cycle()
			}
		}
	}()
	return done
}

// Cycle runs one probe round. Connections that missed the previous probe, or
// whose probe cannot be sent, are untracked and evicted.
//
// Postcondition: Returns the number of connections evicted.
func (m *Monitor) Cycle() int {
	m.mu.Lock()
	targets := make([]Probeable, 0, len(m.tracked))
	for _, p := range m.tracked {
		targets = append(targets, p)
	}
	m.mu.Unlock()

	evicted := 0
	for _, p := range targets {
		if p.TakeAlive() {
			err := p.Probe()
			if err == nil {
				continue
			}
			m.logger.Debug("probe failed", zap.String("session_id", p.ID()), zap.Error(err))
		} else {
			m.logger.Info("no probe reply, evicting", zap.String("session_id", p.ID()))
		}
		m.Untrack(p.ID())
		p.Evict()
		m.metrics.Evictions.Inc()
		evicted++
	}
	return evicted
}
