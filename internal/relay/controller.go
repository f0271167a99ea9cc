// Package relay implements the forwarding pipeline: an ingestion loop fed by
// the transport's subscription stream, a keyword filter, a bounded job
// queue, and rate-limited delivery lanes with retry.
package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"telerelay/internal/filter"
	"telerelay/internal/models"
	"telerelay/internal/ratelimit"
	"telerelay/internal/retry"
	"telerelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries   = 3
	defaultQueueSize    = 100
	defaultWorkers      = 1
	defaultDrainGrace   = 20 * time.Second
	reconnectMaxBackoff = 60 * time.Second
)

// StatsSink is the counter surface the controller mutates. Implemented by
// stats.Tracker.
type StatsSink interface {
	IncrementReceived()
	IncrementForwarded()
	IncrementFiltered()
	IncrementFailed(reason string)
	Snapshot() models.Stats
}

// History records durable forward and error rows. Implemented by
// database.Database.
type History interface {
	RecordForward(ctx context.Context, rec models.ForwardRecord) error
	RecordError(ctx context.Context, kind, message string) error
}

// Config holds the pipeline settings the controller consumes. How they are
// loaded is the caller's concern.
type Config struct {
	SourceChat      string
	DestinationChat string
	ForwardMedia    bool
	MinSendInterval time.Duration
	MaxRetries      int
	QueueSize       int
	Workers         int
	DrainGrace      time.Duration
}

func (c *Config) validate() error {
	if c.SourceChat == "" {
		return models.ConfigError{Message: "source chat is required"}
	}
	if c.DestinationChat == "" {
		return models.ConfigError{Message: "destination chat is required"}
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Workers <= 0 {
		// Provider rate limits are global, so extra delivery lanes buy
		// nothing and raise ban risk.
		c.Workers = defaultWorkers
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = defaultDrainGrace
	}
	return nil
}

// Snapshot is a point-in-time view of the relay for status readers.
type Snapshot struct {
	State        string       `json:"state"`
	Stats        models.Stats `json:"stats"`
	BackoffUntil *time.Time   `json:"backoffUntil,omitempty"`
	QueueDepth   int          `json:"queueDepth"`
}

// Controller owns the subscription loop, wires filter, rate limiter, and
// delivery lanes together, and supervises reconnection.
type Controller struct {
	cfg        Config
	transport  transport.Transport
	filter     *filter.Engine
	limiter    *ratelimit.Limiter
	stats      StatsSink
	history    History
	reconnect  *retry.Backoff
	retryDelay *retry.Backoff
	logger     *logrus.Logger

	state atomic.Int32
	queue chan *models.ForwardJob

	started      bool
	mu           sync.Mutex
	ingestCancel context.CancelFunc
	workerCancel context.CancelFunc
	ingestWG     sync.WaitGroup
	workerWG     sync.WaitGroup
}

// NewController validates the config and assembles the pipeline. A config
// fault is fatal here: the relay refuses to start rather than run in an
// undefined configuration.
func NewController(
	cfg Config,
	tp transport.Transport,
	fe *filter.Engine,
	limiter *ratelimit.Limiter,
	stats StatsSink,
	history History,
	retryCfg retry.BackoffConfig,
	logger *logrus.Logger,
) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:       cfg,
		transport: tp,
		filter:    fe,
		limiter:   limiter,
		stats:     stats,
		history:   history,
		reconnect: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: retryCfg.InitialDelay,
			MaxDelay:     reconnectMaxBackoff,
			Multiplier:   2.0,
			MaxAttempts:  retryCfg.MaxAttempts,
			Jitter:       retryCfg.Jitter,
		}),
		retryDelay: retry.NewBackoff(retryCfg),
		logger:     logger,
		queue:      make(chan *models.ForwardJob, cfg.QueueSize),
	}
	c.state.Store(int32(StateDisconnected))
	return c, nil
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.WithFields(logrus.Fields{
			"from": old.String(),
			"to":   s.String(),
		}).Info("Relay state changed")
	}
}

// Snapshot returns the current state, counters, and backoff deadline. Safe
// for any number of concurrent readers; never blocks the relay path.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		State:      c.State().String(),
		Stats:      c.stats.Snapshot(),
		QueueDepth: len(c.queue),
	}
	if until := c.limiter.BackoffUntil(); !until.IsZero() {
		snap.BackoffUntil = &until
	}
	return snap
}

// Start launches the ingestion loop and delivery lanes. Returns an error if
// already started.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("relay controller is already running")
	}
	c.started = true

	ingestCtx, ingestCancel := context.WithCancel(ctx)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	c.ingestCancel = ingestCancel
	c.workerCancel = workerCancel

	for i := 0; i < c.cfg.Workers; i++ {
		c.workerWG.Add(1)
		go c.deliveryLoop(workerCtx)
	}

	c.ingestWG.Add(1)
	go c.run(ingestCtx)

	c.logger.WithFields(logrus.Fields{
		"source":      c.cfg.SourceChat,
		"destination": c.cfg.DestinationChat,
		"workers":     c.cfg.Workers,
		"queue_size":  c.cfg.QueueSize,
	}).Info("Relay controller started")

	return nil
}

// Stop drains the pipeline: the subscription stops accepting first, queued
// jobs get the grace period to finish or exhaust retries, then remaining
// waits are cancelled and their jobs end abandoned.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.setState(StateDraining)
	c.ingestCancel()
	c.ingestWG.Wait()
	close(c.queue)

	done := make(chan struct{})
	go func() {
		c.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.cfg.DrainGrace):
		c.logger.Warn("Drain grace period elapsed, cancelling in-flight deliveries")
		c.workerCancel()
		<-done
	}
	c.workerCancel()

	c.setState(StateStopped)
	c.logger.Info("Relay controller stopped")
}

// run is the connection supervision loop: subscribe, consume until the
// stream dies, reconnect with capped exponential backoff, forever.
// Connection loss is never fatal.
func (c *Controller) run(ctx context.Context) {
	defer c.ingestWG.Done()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		msgs, errs, err := c.transport.Subscribe(ctx, c.cfg.SourceChat)
		if err != nil {
			delay := c.reconnect.DelayFor(attempt)
			attempt++
			c.logger.WithError(err).WithFields(logrus.Fields{
				"attempt":     attempt,
				"retry_after": delay,
			}).Warn("Subscription failed, reconnecting")
			c.recordError(ctx, "connection", err.Error())

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setState(StateListening)
		c.consume(ctx, msgs, errs)

		if ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
	}
}

// consume drains the subscription until the stream ends or ctx is done.
func (c *Controller) consume(ctx context.Context, msgs <-chan models.Message, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.ingest(ctx, msg)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				c.logger.WithError(err).Warn("Transport connection lost")
				c.recordError(ctx, "connection", err.Error())
			}
			return
		}
	}
}

// ingest counts, filters, and enqueues one incoming message. It never blocks
// on delivery: when the queue is full the oldest queued job is dropped and
// counted failed.
func (c *Controller) ingest(ctx context.Context, msg models.Message) {
	c.stats.IncrementReceived()

	if !c.filter.Qualifies(msg.Body) {
		c.stats.IncrementFiltered()
		c.logger.WithField("message_id", msg.MessageID).Debug("Message filtered out")
		return
	}

	if msg.HasMedia && !c.cfg.ForwardMedia {
		// Media forwarding disabled: the whole message is withheld, caption
		// match or not.
		c.stats.IncrementFiltered()
		c.logger.WithField("message_id", msg.MessageID).Debug("Media message withheld, forwarding disabled")
		return
	}

	job := &models.ForwardJob{
		Message: msg,
		Matched: c.filter.Matches(msg.Body),
	}

	for {
		select {
		case c.queue <- job:
			return
		default:
		}

		select {
		case dropped := <-c.queue:
			c.stats.IncrementFailed("queue overflow")
			c.recordError(ctx, "backpressure", fmt.Sprintf("dropped message %d, queue full", dropped.Message.MessageID))
		default:
		}
	}
}

func (c *Controller) recordError(ctx context.Context, kind, message string) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordError(ctx, kind, message); err != nil {
		c.logger.WithError(err).Debug("Failed to record error log entry")
	}
}
