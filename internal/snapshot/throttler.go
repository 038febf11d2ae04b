// Package snapshot decides which canvas snapshots get persisted and writes
// them off the broadcast path.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Prasannaverse13/ArtChainCollective/internal/config"
	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage"
)

// Store persists the latest snapshot of a canvas.
type Store interface {
	Put(ctx context.Context, roomID int64, snapshot json.RawMessage) error
}

// Write results recorded on the snapshot_writes_total counter.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultDropped  = "dropped"
)

type job struct {
	roomID   int64
	snapshot json.RawMessage
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithClock replaces time.Now for the interval gate.
func WithClock(now func() time.Time) Option {
	return func(t *Throttler) { t.now = now }
}

// WithRandom replaces the uniform [0,1) source used in sample mode.
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) { t.random = fn }
}

// room is the interval state of one canvas.
type room struct {
	limiter *rate.Limiter
	// pending is the newest snapshot the gate rejected, written once the window reopens.
	pending json.RawMessage
}

// Throttler admits at most one snapshot per room per min_interval (or a
// random fraction of them in sample mode) and hands admitted snapshots to a
// bounded pool of writers. In interval mode the newest rejected snapshot is
// kept and written when the window reopens, so a burst always ends persisted.
// MaybePersist never blocks the caller.
type Throttler struct {
	cfg     config.SnapshotConfig
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	random  func() float64

	mu      sync.Mutex
	rooms   map[int64]*room
	stopped bool

	jobs      chan job
	wg        sync.WaitGroup
	sweep     chan struct{}
	sweepWG   sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewThrottler creates a Throttler. Call Start before offering snapshots.
//
// Precondition: cfg must have passed config validation; store, logger and metrics must be non-nil.
func NewThrottler(cfg config.SnapshotConfig, store Store, logger *zap.Logger, metrics *observability.Metrics, opts ...Option) *Throttler {
	t := &Throttler{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		random:  rand.Float64,
		rooms:   make(map[int64]*room),
		jobs:    make(chan job, cfg.Queue),
		sweep:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the writer goroutines and, in interval mode, the sweep that
// flushes pending snapshots. Writes keep the values of ctx but are not
// cancelled with it, so Stop can drain the queue during shutdown.
func (t *Throttler) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		base := context.WithoutCancel(ctx)
		for i := 0; i < t.cfg.Workers; i++ {
			t.wg.Add(1)
			go t.worker(base)
		}
		if t.cfg.Mode == config.SnapshotModeInterval {
			t.sweepWG.Add(1)
			go t.sweepLoop()
		}
		t.logger.Info("snapshot writers started",
			zap.String("mode", t.cfg.Mode),
			zap.Int("workers", t.cfg.Workers),
			zap.Duration("min_interval", t.cfg.MinInterval),
		)
	})
}

// Stop rejects further snapshots, queues every pending snapshot, and waits
// for queued writes to finish. It must only be called after Start.
func (t *Throttler) Stop() {
	t.stopOnce.Do(func() {
		close(t.sweep)
		t.sweepWG.Wait()

		t.mu.Lock()
		t.stopped = true
		var final []job
		for id, r := range t.rooms {
			if r.pending != nil {
				final = append(final, job{roomID: id, snapshot: r.pending})
				r.pending = nil
			}
		}
		t.mu.Unlock()

		// Nothing else sends once stopped is set; the writers drain as we go.
		for _, j := range final {
			t.jobs <- j
		}
		close(t.jobs)
		t.wg.Wait()
		if len(final) > 0 {
			t.logger.Info("pending snapshots flushed", zap.Int("rooms", len(final)))
		}
	})
}

// MaybePersist offers the latest snapshot for roomID.
//
// Postcondition: Returns true if a write was queued. Returns false when the
// policy rejected the snapshot, the queue was full, or the throttler is
// stopped. In interval mode a rejected snapshot replaces the room's pending one.
func (t *Throttler) MaybePersist(roomID int64, snapshot json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if t.cfg.Mode == config.SnapshotModeSample {
		if t.random() >= t.cfg.SampleRate {
			return false
		}
		return t.enqueueLocked(job{roomID: roomID, snapshot: snapshot})
	}

	r := t.roomLocked(roomID)
	if !r.limiter.AllowN(t.now(), 1) {
		r.pending = snapshot
		return false
	}
	r.pending = nil
	return t.enqueueLocked(job{roomID: roomID, snapshot: snapshot})
}

func (t *Throttler) roomLocked(roomID int64) *room {
	r, ok := t.rooms[roomID]
	if !ok {
		r = &room{limiter: rate.NewLimiter(rate.Every(t.cfg.MinInterval), 1)}
		t.rooms[roomID] = r
	}
	return r
}

func (t *Throttler) enqueueLocked(j job) bool {
	select {
	case t.jobs <- j:
		return true
	default:
		t.metrics.SnapshotWrites.WithLabelValues(ResultDropped).Inc()
		t.logger.Warn("snapshot queue full, dropping write", zap.Int64("room_id", j.roomID))
		return false
	}
}

// idleLocked reports whether r is indistinguishable from a fresh room.
func (t *Throttler) idleLocked(r *room, now time.Time) bool {
	return r.pending == nil && r.limiter.TokensAt(now) >= 1
}

// FlushDue queues the pending snapshot of every room whose window has
// reopened and drops the state of idle rooms. It returns the number of
// snapshots queued. The sweep calls it every min_interval.
func (t *Throttler) FlushDue() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0
	}
	now := t.now()
	queued := 0
	for id, r := range t.rooms {
		if r.pending != nil && r.limiter.TokensAt(now) >= 1 {
			// A full queue keeps the snapshot pending for the next sweep.
			select {
			case t.jobs <- job{roomID: id, snapshot: r.pending}:
				r.limiter.AllowN(now, 1)
				r.pending = nil
				queued++
			default:
			}
			continue
		}
		if t.idleLocked(r, now) {
			delete(t.rooms, id)
		}
	}
	return queued
}

func (t *Throttler) sweepLoop() {
	defer t.sweepWG.Done()
	ticker := time.NewTicker(t.cfg.MinInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.sweep:
			return
		case <-ticker.C:
			if n := t.FlushDue(); n > 0 {
				t.logger.Debug("pending snapshots queued", zap.Int("rooms", n))
			}
		}
	}
}

// Forget drops the interval state for roomID, typically when the room
// empties. A room with a pending snapshot or a window still closed keeps its
// state until FlushDue retires it, so rejoining cannot reset the rate bound.
func (t *Throttler) Forget(roomID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rooms[roomID]; ok && t.idleLocked(r, t.now()) {
		delete(t.rooms, roomID)
	}
}

// Rooms returns the number of rooms with interval state.
func (t *Throttler) Rooms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

func (t *Throttler) worker(ctx context.Context) {
	defer t.wg.Done()
	for j := range t.jobs {
		t.write(ctx, j)
	}
}

func (t *Throttler) write(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := t.store.Put(ctx, j.roomID, j.snapshot)
	switch {
	case err == nil:
		t.metrics.SnapshotWrites.WithLabelValues(ResultOK).Inc()
		t.logger.Debug("snapshot persisted",
			zap.Int64("room_id", j.roomID),
			zap.Int("bytes", len(j.snapshot)),
			zap.Duration("took", time.Since(start)),
		)
	case errors.Is(err, storage.ErrArtworkNotFound):
		t.metrics.SnapshotWrites.WithLabelValues(ResultNotFound).Inc()
		t.logger.Debug("snapshot for unknown artwork discarded", zap.Int64("room_id", j.roomID))
	default:
		t.metrics.SnapshotWrites.WithLabelValues(ResultError).Inc()
		t.metrics.Report(t.logger, observability.CategoryPersistence, err,
			zap.Int64("room_id", j.roomID),
			zap.String("op", "put_snapshot"),
		)
	}
}
