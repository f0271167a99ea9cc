package models

import "time"

// Stats holds the monotonically increasing relay counters plus the most
// recent failure, persisted so counts survive restarts. At any quiescent
// point received == forwarded + filtered + failed.
type Stats struct {
	Received  int64      `json:"received"`
	Forwarded int64      `json:"forwarded"`
	Filtered  int64      `json:"filtered"`
	Failed    int64      `json:"failed"`
	LastError string     `json:"lastError,omitempty"`
	LastErrAt *time.Time `json:"lastErrorAt,omitempty"`
}

// FilterRule is an immutable set of keywords. An empty rule set passes every
// message. A config reload swaps the whole value, never mutates it in place.
type FilterRule struct {
	Keywords []string
}

// ForwardRecord is one row of durable forward history.
type ForwardRecord struct {
	ID          int64     `json:"id" db:"id"`
	MessageID   int64     `json:"messageId" db:"message_id"`
	SourceChat  string    `json:"sourceChat" db:"source_chat"`
	DestChat    string    `json:"destinationChat" db:"destination_chat"`
	Body        string    `json:"text" db:"message_text"`
	HasMedia    bool      `json:"hasMedia" db:"has_media"`
	MediaKind   string    `json:"mediaType" db:"media_type"`
	Matched     string    `json:"keywordsMatched" db:"keywords_matched"`
	ForwardedAt time.Time `json:"forwardedAt" db:"forwarded_at"`
}

// ErrorRecord is one row of the durable error log.
type ErrorRecord struct {
	ID         int64     `json:"id" db:"id"`
	Kind       string    `json:"errorType" db:"error_type"`
	Message    string    `json:"errorMessage" db:"error_message"`
	OccurredAt time.Time `json:"occurredAt" db:"occurred_at"`
}
