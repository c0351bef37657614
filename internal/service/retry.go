package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/models"
)

// PublishFunc retries a single failed publication. Failures should be
// returned as *models.PublishFailure so the retryable flag survives;
// anything else is treated as a permanent failure.
type PublishFunc func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error)

type failureKey struct {
	channel       models.Channel
	publicationID string
}

// RetryService tracks publish failures keyed by (channel, publication id)
// and retries the eligible ones with exponential backoff. An entry is
// eligible when it is retryable, under the attempt budget, and past its
// computed next-retry instant.
type RetryService struct {
	config    *config.RetryConfig
	logger    *zap.Logger
	client    *http.Client
	baseDelay time.Duration

	mu       sync.Mutex
	failures map[failureKey]*models.FailedPublication

	// retryMu serializes RetryFailed passes so a key is never re-entered
	// while its own retry is outstanding.
	retryMu sync.Mutex

	now func() time.Time
}

func NewRetryService(cfg *config.RetryConfig, logger *zap.Logger) *RetryService {
	return &RetryService{
		config:    cfg,
		logger:    logger,
		client:    &http.Client{Timeout: 10 * time.Second},
		baseDelay: time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		failures:  make(map[failureKey]*models.FailedPublication),
		now:       time.Now,
	}
}

// TrackFailure upserts the failure record for (channel, publicationID).
// Repeat failures increment the attempt count and push the next retry out
// by baseDelay * 2^(attempts-1).
func (s *RetryService) TrackFailure(channel models.Channel, publicationID string, failure *models.PublishFailure) {
	s.mu.Lock()
	entry := s.trackLocked(channel, publicationID, failure)
	s.mu.Unlock()

	s.logger.Warn("Publish failure tracked",
		zap.String("channel", channel.String()),
		zap.String("publication_id", publicationID),
		zap.Int("attempts", entry.Attempts),
		zap.Bool("retryable", failure.Retryable),
		zap.Time("next_retry_at", entry.NextRetryAt))
}

// trackLocked is the shared upsert used by TrackFailure and by RetryFailed
// when a retry attempt fails again. Caller must hold s.mu.
func (s *RetryService) trackLocked(channel models.Channel, publicationID string, failure *models.PublishFailure) *models.FailedPublication {
	now := s.now()
	key := failureKey{channel: channel, publicationID: publicationID}

	entry, exists := s.failures[key]
	if !exists {
		entry = &models.FailedPublication{
			Channel:       channel,
			PublicationID: publicationID,
		}
		s.failures[key] = entry
	}

	entry.Attempts++
	entry.LastError = failure
	entry.LastAttemptAt = now
	entry.NextRetryAt = now.Add(s.backoff(entry.Attempts))
	return entry
}

// backoff doubles per attempt, rooted at baseDelay for the first retry.
func (s *RetryService) backoff(attempts int) time.Duration {
	return s.baseDelay * time.Duration(1<<(attempts-1))
}

// FailedPublications returns all tracked failures in no particular order.
func (s *RetryService) FailedPublications() []*models.FailedPublication {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*models.FailedPublication, 0, len(s.failures))
	for _, entry := range s.failures {
		entries = append(entries, entry)
	}
	return entries
}

func (s *RetryService) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

// RetryFailed retries every eligible failure through publishFn. Successes
// are removed from the table; failures are re-tracked so their attempt
// count and backoff advance. Ineligible entries are left untouched and
// excluded from the summary's Total.
func (s *RetryService) RetryFailed(ctx context.Context, publishFn PublishFunc) (*models.RetrySummary, error) {
	if publishFn == nil {
		return nil, fmt.Errorf("%w: publish function is required", ErrInvalidInput)
	}

	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	s.mu.Lock()
	now := s.now()
	eligible := make([]*models.FailedPublication, 0)
	for _, entry := range s.failures {
		if s.eligibleLocked(entry, now) {
			eligible = append(eligible, entry)
		}
	}
	s.mu.Unlock()

	summary := &models.RetrySummary{Total: len(eligible)}

	for _, entry := range eligible {
		result, err := s.attempt(ctx, publishFn, entry)

		key := failureKey{channel: entry.Channel, publicationID: entry.PublicationID}
		if err == nil {
			s.mu.Lock()
			delete(s.failures, key)
			s.mu.Unlock()
			summary.Succeeded++

			s.logger.Info("Retry succeeded",
				zap.String("channel", entry.Channel.String()),
				zap.String("publication_id", entry.PublicationID),
				zap.String("publish_id", result.PublishID))
			continue
		}

		summary.Failed++

		var failure *models.PublishFailure
		if !errors.As(err, &failure) {
			// Non-conforming errors get no retryable signal; treat them as
			// permanent so they surface through the alert path instead of
			// looping forever.
			failure = &models.PublishFailure{
				Publisher: entry.Channel.String(),
				Message:   err.Error(),
				Retryable: false,
			}
		}

		s.mu.Lock()
		retried := s.trackLocked(entry.Channel, entry.PublicationID, failure)
		s.mu.Unlock()

		s.logger.Warn("Retry failed",
			zap.String("channel", entry.Channel.String()),
			zap.String("publication_id", entry.PublicationID),
			zap.Int("attempts", retried.Attempts),
			zap.Error(err))
	}

	s.mu.Lock()
	summary.Remaining = len(s.failures)
	s.mu.Unlock()

	s.logger.Info("Retry pass completed",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("remaining", summary.Remaining))

	return summary, nil
}

// attempt invokes publishFn, converting a panic into an error so a broken
// callback cannot take the retry pass down with it.
func (s *RetryService) attempt(ctx context.Context, publishFn PublishFunc, entry *models.FailedPublication) (result *models.PublishResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish callback panicked: %v", r)
		}
	}()
	return publishFn(ctx, entry)
}

func (s *RetryService) eligibleLocked(entry *models.FailedPublication, now time.Time) bool {
	if entry.LastError == nil || !entry.LastError.Retryable {
		return false
	}
	if entry.Attempts >= s.config.MaxRetries {
		return false
	}
	return !now.Before(entry.NextRetryAt)
}

// SendAlert posts a best-effort notification about a failing publication
// to the configured webhook. It never returns an error: a missing URL is
// a no-op and delivery failures are only logged. The returned flag says
// whether the webhook accepted the alert.
func (s *RetryService) SendAlert(ctx context.Context, entry *models.FailedPublication) bool {
	if s.config.AlertWebhookURL == "" {
		return false
	}

	payload := map[string]any{
		"channel":        entry.Channel,
		"publication_id": entry.PublicationID,
		"attempts":       entry.Attempts,
		"last_error":     entry.LastError,
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("Failed to marshal alert payload", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.AlertWebhookURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		s.logger.Warn("Failed to create alert request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Alert delivery failed",
			zap.String("channel", entry.Channel.String()),
			zap.String("publication_id", entry.PublicationID),
			zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		s.logger.Warn("Alert webhook returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return false
	}

	s.logger.Info("Alert sent",
		zap.String("channel", entry.Channel.String()),
		zap.String("publication_id", entry.PublicationID),
		zap.Int("attempts", entry.Attempts))
	return true
}

// Clear empties the failure table.
func (s *RetryService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[failureKey]*models.FailedPublication)
}
