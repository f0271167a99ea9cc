// Package filter decides whether a message body qualifies for forwarding.
package filter

import (
	"strings"

	"telerelay/internal/models"
)

// Engine evaluates message bodies against a keyword rule set. Matching is a
// case-insensitive substring check; an empty rule set passes everything,
// including media-only messages with no caption. Filtering is text-based
// only, so under non-empty rules a bodyless message never qualifies.
type Engine struct {
	keywords []string
}

// NewEngine builds an engine from a rule set. Keywords are lowercased once
// here; the rule set is never mutated afterwards.
func NewEngine(rules models.FilterRule) *Engine {
	keywords := make([]string, 0, len(rules.Keywords))
	for _, kw := range rules.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		keywords = append(keywords, strings.ToLower(kw))
	}
	return &Engine{keywords: keywords}
}

// Qualifies reports whether body passes the rule set.
func (e *Engine) Qualifies(body string) bool {
	if len(e.keywords) == 0 {
		return true
	}
	if body == "" {
		return false
	}
	lower := strings.ToLower(body)
	for _, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Matches returns the keywords found in body, for forward-history records.
// Nil when the rule set is empty or nothing matched.
func (e *Engine) Matches(body string) []string {
	if len(e.keywords) == 0 || body == "" {
		return nil
	}
	lower := strings.ToLower(body)
	var matched []string
	for _, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
