package relay

import (
	"context"
	"sync"

	"telerelay/internal/models"
)

// fakeTransport scripts Send results and hands out subscription streams the
// test controls.
type fakeTransport struct {
	mu           sync.Mutex
	sendErrs     []error
	sendCalls    int
	sent         []models.Message
	subscribeErr error
	subs         []*fakeSubscription
}

type fakeSubscription struct {
	msgs chan models.Message
	errs chan error
}

func (f *fakeTransport) Subscribe(ctx context.Context, sourceID string) (<-chan models.Message, <-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return nil, nil, f.subscribeErr
	}
	sub := &fakeSubscription{
		msgs: make(chan models.Message, 16),
		errs: make(chan error, 1),
	}
	f.subs = append(f.subs, sub)
	return sub.msgs, sub.errs, nil
}

func (f *fakeTransport) Send(ctx context.Context, destinationID string, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.sendCalls < len(f.sendErrs) {
		err = f.sendErrs[f.sendCalls]
	}
	f.sendCalls++
	if err == nil {
		f.sent = append(f.sent, msg)
	}
	return err
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

func (f *fakeTransport) delivered() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) subscription(i int) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		return nil
	}
	return f.subs[i]
}

func (f *fakeTransport) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// fakeStats is an in-memory StatsSink.
type fakeStats struct {
	mu    sync.Mutex
	stats models.Stats
}

func (f *fakeStats) IncrementReceived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.Received++
}

func (f *fakeStats) IncrementForwarded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.Forwarded++
}

func (f *fakeStats) IncrementFiltered() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.Filtered++
}

func (f *fakeStats) IncrementFailed(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.Failed++
	f.stats.LastError = reason
}

func (f *fakeStats) Snapshot() models.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// fakeHistory collects forward and error rows.
type fakeHistory struct {
	mu       sync.Mutex
	forwards []models.ForwardRecord
	errors   []models.ErrorRecord
}

func (f *fakeHistory) RecordForward(ctx context.Context, rec models.ForwardRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, rec)
	return nil
}

func (f *fakeHistory) RecordError(ctx context.Context, kind, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, models.ErrorRecord{Kind: kind, Message: message})
	return nil
}

func (f *fakeHistory) forwardCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forwards)
}

func (f *fakeHistory) errorKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.errors))
	for _, e := range f.errors {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
