package models

import (
	"time"
)

// MediaKind labels the attachment carried by a message, when any.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaVoice    MediaKind = "voice"
	MediaSticker  MediaKind = "sticker"
)

// Message is an immutable record of a message observed on the source chat.
// It is produced by the transport and never mutated afterwards.
type Message struct {
	SourceID   string
	MessageID  int64
	Body       string
	HasMedia   bool
	MediaKind  MediaKind
	MediaRef   string
	ReceivedAt time.Time
}

// ForwardJob pairs a qualifying message with its retry bookkeeping. A job is
// owned by a single delivery lane from creation until it reaches a terminal
// outcome.
type ForwardJob struct {
	Message  Message
	Attempts int
	NotAfter time.Time
	Matched  []string
}

// OutcomeKind classifies the result of a delivery attempt.
type OutcomeKind int

const (
	OutcomeDelivered OutcomeKind = iota
	OutcomeRetryLater
	OutcomeAbandoned
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRetryLater:
		return "retry_later"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Outcome is the terminal or intermediate result of processing a ForwardJob.
// Delay is meaningful only for RetryLater; Reason only for Abandoned.
type Outcome struct {
	Kind   OutcomeKind
	Delay  time.Duration
	Reason string
}

func Delivered() Outcome {
	return Outcome{Kind: OutcomeDelivered}
}

func RetryLater(delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeRetryLater, Delay: delay}
}

func Abandoned(reason string) Outcome {
	return Outcome{Kind: OutcomeAbandoned, Reason: reason}
}
