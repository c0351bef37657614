package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/models"
)

var retryTestNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestRetry(t *testing.T, cfg config.RetryConfig) *RetryService {
	t.Helper()

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	s := NewRetryService(&cfg, zap.NewNop())
	s.now = func() time.Time { return retryTestNow }
	return s
}

func retryableFailure() *models.PublishFailure {
	return &models.PublishFailure{Publisher: "medium", Message: "rate limited", StatusCode: 429, Retryable: true}
}

func TestTrackFailureUpsert(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 1000})

	for i := 1; i <= 4; i++ {
		s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())

		entries := s.FailedPublications()
		require.Len(t, entries, 1)
		assert.Equal(t, i, entries[0].Attempts)
		assert.Equal(t, retryTestNow, entries[0].LastAttemptAt)
	}

	assert.Equal(t, 1, s.FailureCount())
}

func TestTrackFailureBackoffDoubles(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 1000})

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for _, delay := range expected {
		s.TrackFailure(models.ChannelDevTo, "pub-9", retryableFailure())

		entry := s.FailedPublications()[0]
		assert.Equal(t, delay, entry.NextRetryAt.Sub(entry.LastAttemptAt))
	}
}

func TestTrackFailureSeparateKeys(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 1000})

	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())
	s.TrackFailure(models.ChannelMedium, "pub-2", retryableFailure())
	s.TrackFailure(models.ChannelDevTo, "pub-1", retryableFailure())

	assert.Equal(t, 3, s.FailureCount())
}

func TestRetryFailedSuccessRemovesEntry(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())

	summary, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		return &models.PublishResult{PublishID: "ok-1", PublishedAt: retryTestNow}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, &models.RetrySummary{Total: 1, Succeeded: 1, Failed: 0, Remaining: 0}, summary)
	assert.Zero(t, s.FailureCount())
}

func TestRetryFailedSkipsNonRetryable(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-1", &models.PublishFailure{
		Publisher: "medium", Message: "unauthorized", StatusCode: 401, Retryable: false,
	})

	invoked := false
	summary, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		invoked = true
		return &models.PublishResult{}, nil
	})
	require.NoError(t, err)

	assert.False(t, invoked)
	assert.Equal(t, &models.RetrySummary{Total: 0, Succeeded: 0, Failed: 0, Remaining: 1}, summary)
}

func TestRetryFailedSkipsExhaustedBudget(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{MaxRetries: 2, BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())

	invoked := false
	summary, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		invoked = true
		return &models.PublishResult{}, nil
	})
	require.NoError(t, err)

	assert.False(t, invoked)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 1, summary.Remaining)
}

func TestRetryFailedSkipsNotYetDue(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 60000})
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())

	invoked := false
	summary, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		invoked = true
		return &models.PublishResult{}, nil
	})
	require.NoError(t, err)
	assert.False(t, invoked)
	assert.Equal(t, 0, summary.Total)

	// Past the backoff window the entry becomes eligible.
	s.now = func() time.Time { return retryTestNow.Add(2 * time.Minute) }
	summary, err = s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		return &models.PublishResult{PublishID: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRetryFailedFailureReTracks(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{MaxRetries: 5, BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())

	summary, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		return nil, retryableFailure()
	})
	require.NoError(t, err)

	assert.Equal(t, &models.RetrySummary{Total: 1, Succeeded: 0, Failed: 1, Remaining: 1}, summary)
	entry := s.FailedPublications()[0]
	assert.Equal(t, 2, entry.Attempts)
}

func TestRetryFailedMixedOutcomes(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{MaxRetries: 5, BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-ok", retryableFailure())
	s.TrackFailure(models.ChannelMedium, "pub-bad", retryableFailure())
	s.TrackFailure(models.ChannelDevTo, "pub-perm", &models.PublishFailure{
		Publisher: "devto", Message: "gone", StatusCode: 410, Retryable: false,
	})

	before := s.FailureCount()
	summary, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		if entry.PublicationID == "pub-ok" {
			return &models.PublishResult{PublishID: "done"}, nil
		}
		return nil, retryableFailure()
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Remaining)
	assert.Equal(t, before-summary.Succeeded, s.FailureCount())
}

func TestRetryFailedUnknownErrorTreatedPermanent(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{MaxRetries: 5, BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())

	_, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		return nil, assert.AnError
	})
	require.NoError(t, err)

	entry := s.FailedPublications()[0]
	require.NotNil(t, entry.LastError)
	assert.False(t, entry.LastError.Retryable)
}

func TestRetryFailedRecoversFromPanic(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{MaxRetries: 5, BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())

	summary, err := s.RetryFailed(context.Background(), func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		panic("publisher blew up")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
}

func TestRetryFailedNilCallback(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 0})
	_, err := s.RetryFailed(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendAlertNoWebhookConfigured(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 0})
	entry := &models.FailedPublication{Channel: models.ChannelMedium, PublicationID: "pub-1", Attempts: 3}

	assert.False(t, s.SendAlert(context.Background(), entry))
}

func TestSendAlertPostsPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 0, AlertWebhookURL: srv.URL})
	entry := &models.FailedPublication{
		Channel:       models.ChannelMedium,
		PublicationID: "pub-1",
		Attempts:      3,
		LastError:     retryableFailure(),
	}

	assert.True(t, s.SendAlert(context.Background(), entry))
	assert.Equal(t, "medium", received["channel"])
	assert.Equal(t, "pub-1", received["publication_id"])
	assert.Equal(t, float64(3), received["attempts"])
}

func TestSendAlertSwallowsDeliveryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 0, AlertWebhookURL: srv.URL})
	entry := &models.FailedPublication{Channel: models.ChannelMedium, PublicationID: "pub-1", Attempts: 3}

	assert.False(t, s.SendAlert(context.Background(), entry))

	// A dead endpoint must not surface either.
	s.config.AlertWebhookURL = "http://127.0.0.1:1"
	assert.False(t, s.SendAlert(context.Background(), entry))
}

func TestClear(t *testing.T) {
	s := newTestRetry(t, config.RetryConfig{BaseDelayMs: 0})
	s.TrackFailure(models.ChannelMedium, "pub-1", retryableFailure())
	s.TrackFailure(models.ChannelMedium, "pub-2", retryableFailure())

	s.Clear()
	assert.Zero(t, s.FailureCount())
	assert.Empty(t, s.FailedPublications())
}
