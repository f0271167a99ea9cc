// Package stats accumulates relay counters and keeps them durable.
package stats

import (
	"context"
	"sync"
	"time"

	"telerelay/internal/models"

	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the tracker needs. A crash loses at most
// one flush interval of counts.
type Store interface {
	LoadStats(ctx context.Context) (models.Stats, error)
	SaveStats(ctx context.Context, s models.Stats) error
}

// Tracker is the single writer for relay counters. All mutation goes through
// its increment methods; readers get a copy via Snapshot. Dirty counters are
// flushed to the store on a short timer rather than per increment.
type Tracker struct {
	mu    sync.Mutex
	stats models.Stats
	dirty bool

	store         Store
	flushInterval time.Duration
	logger        *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker loads persisted counters from the store so counts survive
// restarts. A load failure starts the tracker from zero rather than failing
// the relay.
func NewTracker(ctx context.Context, store Store, flushInterval time.Duration, logger *logrus.Logger) *Tracker {
	t := &Tracker{
		store:         store,
		flushInterval: flushInterval,
		logger:        logger,
	}

	loaded, err := store.LoadStats(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to load persisted stats, starting from zero")
	} else {
		t.stats = loaded
	}
	return t
}

// Start launches the background flush loop.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.flushLoop(ctx)
}

// Stop halts the flush loop and writes any pending counters.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.flush(context.Background())
}

func (t *Tracker) flushLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.flush(ctx)
		}
	}
}

func (t *Tracker) flush(ctx context.Context) {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	snapshot := t.stats
	t.dirty = false
	t.mu.Unlock()

	if err := t.store.SaveStats(ctx, snapshot); err != nil {
		t.logger.WithError(err).Warn("Failed to persist stats")
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}

// IncrementReceived counts one message observed on the source chat.
func (t *Tracker) IncrementReceived() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Received++
	t.dirty = true
}

// IncrementForwarded counts one delivered message.
func (t *Tracker) IncrementForwarded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Forwarded++
	t.dirty = true
}

// IncrementFiltered counts one message rejected by the filter.
func (t *Tracker) IncrementFiltered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Filtered++
	t.dirty = true
}

// IncrementFailed counts one abandoned job and records why.
func (t *Tracker) IncrementFailed(reason string) {
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Failed++
	t.stats.LastError = reason
	t.stats.LastErrAt = &now
	t.dirty = true
}

// Snapshot returns a copy of the current counters, safe for any number of
// concurrent readers.
func (t *Tracker) Snapshot() models.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	if t.stats.LastErrAt != nil {
		at := *t.stats.LastErrAt
		s.LastErrAt = &at
	}
	return s
}
