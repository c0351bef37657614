package models

import (
	"fmt"
	"time"
)

// PublishFailure is the error returned by a channel publisher. Retryable
// decides whether the failed publication stays eligible for automatic
// retry; permanent failures are only surfaced through the alert path.
type PublishFailure struct {
	Publisher  string `json:"publisher"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"retryable"`
}

func (f *PublishFailure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", f.Publisher, f.Message, f.StatusCode)
	}
	return fmt.Sprintf("%s: %s", f.Publisher, f.Message)
}

// PublishResult is returned by a channel publisher on success.
type PublishResult struct {
	PublishID   string    `json:"publish_id"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// FailedPublication tracks an in-flight publish failure, keyed uniquely
// by (Channel, PublicationID).
type FailedPublication struct {
	Channel       Channel         `json:"channel"`
	PublicationID string          `json:"publication_id"`
	Attempts      int             `json:"attempts"`
	LastError     *PublishFailure `json:"last_error"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
	NextRetryAt   time.Time       `json:"next_retry_at"`
}

// RetrySummary reports the outcome of one RetryFailed pass. Total counts
// only entries that were actually attempted; Remaining is the table size
// after the pass, including entries that were never eligible.
type RetrySummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}
