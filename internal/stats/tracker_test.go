package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telerelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	saved []models.Stats
	load  models.Stats
	err   error
}

func (m *memStore) LoadStats(ctx context.Context) (models.Stats, error) {
	return m.load, m.err
}

func (m *memStore) SaveStats(ctx context.Context, s models.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return nil
}

func (m *memStore) lastSaved() (models.Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return models.Stats{}, false
	}
	return m.saved[len(m.saved)-1], true
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestTrackerLoadsPersistedCounts(t *testing.T) {
	store := &memStore{load: models.Stats{Received: 10, Forwarded: 7, Filtered: 2, Failed: 1}}
	tr := NewTracker(context.Background(), store, time.Minute, newTestLogger())

	s := tr.Snapshot()
	assert.Equal(t, int64(10), s.Received)
	assert.Equal(t, int64(7), s.Forwarded)
}

func TestTrackerLoadFailureStartsFromZero(t *testing.T) {
	store := &memStore{err: errors.New("no table")}
	tr := NewTracker(context.Background(), store, time.Minute, newTestLogger())

	assert.Equal(t, models.Stats{}, tr.Snapshot())
}

func TestTrackerCounters(t *testing.T) {
	tr := NewTracker(context.Background(), &memStore{}, time.Minute, newTestLogger())

	for i := 0; i < 5; i++ {
		tr.IncrementReceived()
	}
	tr.IncrementForwarded()
	tr.IncrementForwarded()
	tr.IncrementFiltered()
	tr.IncrementFailed("destination forbidden")
	tr.IncrementFailed("max retries exceeded")

	s := tr.Snapshot()
	assert.Equal(t, int64(5), s.Received)
	assert.Equal(t, int64(2), s.Forwarded)
	assert.Equal(t, int64(1), s.Filtered)
	assert.Equal(t, int64(2), s.Failed)
	assert.Equal(t, "max retries exceeded", s.LastError)
	require.NotNil(t, s.LastErrAt)

	// Quiescent invariant: received == forwarded + filtered + failed.
	assert.Equal(t, s.Received, s.Forwarded+s.Filtered+s.Failed)
}

func TestTrackerFlushOnStop(t *testing.T) {
	store := &memStore{}
	tr := NewTracker(context.Background(), store, time.Hour, newTestLogger())
	tr.Start(context.Background())

	tr.IncrementReceived()
	tr.IncrementForwarded()
	tr.Stop()

	saved, ok := store.lastSaved()
	require.True(t, ok)
	assert.Equal(t, int64(1), saved.Received)
	assert.Equal(t, int64(1), saved.Forwarded)
}

func TestTrackerPeriodicFlush(t *testing.T) {
	store := &memStore{}
	tr := NewTracker(context.Background(), store, 10*time.Millisecond, newTestLogger())
	tr.Start(context.Background())
	defer tr.Stop()

	tr.IncrementReceived()

	require.Eventually(t, func() bool {
		_, ok := store.lastSaved()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerConcurrentWriters(t *testing.T) {
	tr := NewTracker(context.Background(), &memStore{}, time.Minute, newTestLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.IncrementReceived()
				tr.IncrementFiltered()
			}
		}()
	}
	wg.Wait()

	s := tr.Snapshot()
	assert.Equal(t, int64(800), s.Received)
	assert.Equal(t, int64(800), s.Filtered)
}
