// Package transport defines the contract between the relay core and the
// messaging provider: a subscription stream of incoming messages and a send
// primitive, together with the error taxonomy the delivery path classifies
// against.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telerelay/internal/models"
)

// Transport is the provider-facing surface the relay core consumes. The
// subscription delivers messages from the source chat and signals connection
// loss on a separate channel; Send delivers one message to the destination.
type Transport interface {
	// Subscribe opens the event stream for sourceID. Messages arrive on the
	// first channel; a connection-loss error on the second channel means the
	// stream is dead and must be re-established with a fresh Subscribe call.
	// Both channels are closed when the stream terminates.
	Subscribe(ctx context.Context, sourceID string) (<-chan models.Message, <-chan error, error)

	// Send delivers msg to destinationID. A nil return means delivered.
	// Errors are one of *RateLimitError, *TransientError, *PermanentError.
	Send(ctx context.Context, destinationID string, msg models.Message) error
}

// RateLimitError reports provider flood control: the caller must pause all
// sending for RetryAfter before trying again. An expected operating
// condition, not a fault.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by provider, retry after %s", e.RetryAfter)
}

// TransientError reports a delivery failure worth retrying: timeouts,
// connection resets, provider 5xx responses.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// PermanentError reports a delivery failure that will not succeed on retry:
// destination unreachable or forbidden, malformed content.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %s", e.Reason)
}

// ConnectionError reports loss of the subscription stream. Recoverable;
// drives the controller's reconnect loop.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport connection lost: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// AsRateLimit extracts a RateLimitError from err, if present.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AsPermanent extracts a PermanentError from err, if present.
func AsPermanent(err error) (*PermanentError, bool) {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
