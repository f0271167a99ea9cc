package relay

import (
	"context"
	"strings"
	"time"

	"telerelay/internal/models"
	"telerelay/internal/tracing"
	"telerelay/pkg/transport"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const shutdownReason = "shutdown"

// deliveryLoop is one delivery lane. It owns each job from dequeue until a
// terminal outcome; retry waits happen in-lane so a job is never shared.
func (c *Controller) deliveryLoop(ctx context.Context) {
	defer c.workerWG.Done()

	for job := range c.queue {
		c.deliver(ctx, job)
	}
}

// deliver drives one job to a terminal outcome, sleeping between retries.
func (c *Controller) deliver(ctx context.Context, job *models.ForwardJob) {
	for {
		outcome := c.process(ctx, job)

		switch outcome.Kind {
		case models.OutcomeDelivered:
			c.logger.WithFields(logrus.Fields{
				"message_id": job.Message.MessageID,
				"attempts":   job.Attempts + 1,
			}).Info("Message forwarded")
			return

		case models.OutcomeRetryLater:
			c.logger.WithFields(logrus.Fields{
				"message_id":  job.Message.MessageID,
				"attempt":     job.Attempts,
				"retry_after": outcome.Delay,
			}).Warn("Delivery deferred")

			select {
			case <-ctx.Done():
				c.abandon(ctx, job, shutdownReason)
				return
			case <-time.After(outcome.Delay):
			}

		case models.OutcomeAbandoned:
			c.abandon(ctx, job, outcome.Reason)
			return
		}
	}
}

// abandon applies the terminal failure side effects exactly once per job.
func (c *Controller) abandon(ctx context.Context, job *models.ForwardJob, reason string) {
	c.stats.IncrementFailed(reason)
	c.recordError(ctx, "delivery", reason)
	c.logger.WithFields(logrus.Fields{
		"message_id": job.Message.MessageID,
		"attempts":   job.Attempts,
		"reason":     reason,
	}).Error("Message abandoned")
}

// process performs a single delivery attempt: rate-limit wait, send, outcome
// classification. All transport errors are converted to outcomes here; none
// propagate further.
func (c *Controller) process(ctx context.Context, job *models.ForwardJob) models.Outcome {
	if wait := c.limiter.Reserve(); wait > 0 {
		select {
		case <-ctx.Done():
			return models.Abandoned(shutdownReason)
		case <-time.After(wait):
		}
	}
	if ctx.Err() != nil {
		return models.Abandoned(shutdownReason)
	}

	sendCtx, span := tracing.StartSpan(ctx, "relay.send",
		attribute.Int64("message.id", job.Message.MessageID),
		attribute.Int("delivery.attempt", job.Attempts),
	)
	defer span.End()

	err := c.transport.Send(sendCtx, c.cfg.DestinationChat, job.Message)
	if err == nil {
		c.limiter.NotifySent()
		c.stats.IncrementForwarded()
		c.recordForward(sendCtx, job)
		return models.Delivered()
	}

	tracing.RecordError(sendCtx, err)

	if rle, ok := transport.AsRateLimit(err); ok {
		// Expected operating condition, not a fault. The whole pipeline
		// pauses; the job is re-scheduled, not dropped.
		c.limiter.NotifyBackoff(rle.RetryAfter)
		job.Attempts++
		return models.RetryLater(rle.RetryAfter)
	}

	if pe, ok := transport.AsPermanent(err); ok {
		return models.Abandoned(pe.Reason)
	}

	// Transient failures, and anything the transport could not classify,
	// get the exponential retry schedule up to the cap.
	job.Attempts++
	if job.Attempts >= c.cfg.MaxRetries {
		return models.Abandoned("max retries exceeded")
	}
	return models.RetryLater(c.retryDelay.DelayFor(job.Attempts - 1))
}

// recordForward writes the history row for a delivered message. History is
// best-effort; a write failure never fails the delivery.
func (c *Controller) recordForward(ctx context.Context, job *models.ForwardJob) {
	if c.history == nil {
		return
	}

	rec := models.ForwardRecord{
		MessageID:   job.Message.MessageID,
		SourceChat:  job.Message.SourceID,
		DestChat:    c.cfg.DestinationChat,
		Body:        job.Message.Body,
		HasMedia:    job.Message.HasMedia,
		MediaKind:   string(job.Message.MediaKind),
		Matched:     strings.Join(job.Matched, ","),
		ForwardedAt: time.Now().UTC(),
	}
	if err := c.history.RecordForward(ctx, rec); err != nil {
		c.logger.WithError(err).Warn("Failed to record forward history")
	}
}
