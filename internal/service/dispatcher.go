package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/models"
)

// ChannelPublisher performs the actual publish for one channel. The
// transport behind it (HTTP APIs of the destination platforms) is not
// this package's concern.
type ChannelPublisher func(ctx context.Context, pub *models.ScheduledPublication) (*models.PublishResult, error)

// Dispatcher drives scheduled publications through their lifecycle: it
// polls for due entries, invokes the registered channel publisher, and
// owns the pending to published/failed transitions. Failures flow into the
// retry manager; exhausted or permanent failures trigger alerts.
type Dispatcher struct {
	config     *config.DispatcherConfig
	logger     *zap.Logger
	scheduler  *SchedulerService
	retry      *RetryService
	history    *HistoryService
	publishers map[models.Channel]ChannelPublisher

	// alerted remembers the attempt count at the last alert per key, so a
	// stuck entry is not re-alerted every pass.
	alerted map[failureKey]int

	ticker      *time.Ticker
	statsTicker *time.Ticker
	stopCh      chan struct{}
}

func NewDispatcher(cfg *config.DispatcherConfig, logger *zap.Logger, scheduler *SchedulerService, retry *RetryService, history *HistoryService) *Dispatcher {
	return &Dispatcher{
		config:     cfg,
		logger:     logger,
		scheduler:  scheduler,
		retry:      retry,
		history:    history,
		publishers: make(map[models.Channel]ChannelPublisher),
		alerted:    make(map[failureKey]int),
		stopCh:     make(chan struct{}),
	}
}

// RegisterPublisher wires the publish callback for a channel.
func (d *Dispatcher) RegisterPublisher(channel models.Channel, publisher ChannelPublisher) error {
	if _, exists := d.publishers[channel]; exists {
		return fmt.Errorf("publisher for channel %s already registered", channel)
	}
	d.publishers[channel] = publisher
	d.logger.Info("Publisher registered", zap.String("channel", channel.String()))
	return nil
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.config.Enabled {
		d.logger.Info("Dispatcher is disabled")
		return nil
	}

	pollInterval, err := time.ParseDuration(d.config.PollInterval)
	if err != nil {
		d.logger.Error("Invalid poll interval", zap.String("interval", d.config.PollInterval), zap.Error(err))
		return err
	}
	statsInterval, err := time.ParseDuration(d.config.StatsInterval)
	if err != nil {
		d.logger.Error("Invalid stats interval", zap.String("interval", d.config.StatsInterval), zap.Error(err))
		return err
	}

	d.logger.Info("Starting dispatcher",
		zap.String("poll_interval", d.config.PollInterval),
		zap.String("stats_interval", d.config.StatsInterval))

	d.ticker = time.NewTicker(pollInterval)
	d.statsTicker = time.NewTicker(statsInterval)

	go func() {
		for {
			select {
			case <-d.ticker.C:
				d.runPass(ctx)
			case <-d.statsTicker.C:
				d.updateStats()
			case <-d.stopCh:
				d.logger.Info("Dispatcher stopped")
				return
			case <-ctx.Done():
				d.logger.Info("Dispatcher context cancelled")
				return
			}
		}
	}()

	return nil
}

func (d *Dispatcher) Stop() {
	if d.ticker != nil {
		d.ticker.Stop()
	}
	if d.statsTicker != nil {
		d.statsTicker.Stop()
	}
	close(d.stopCh)
	d.logger.Info("Dispatcher shutdown completed")
}

// runPass executes one dispatch cycle: publish everything due, then give
// the retry manager a chance to drain eligible failures.
func (d *Dispatcher) runPass(ctx context.Context) {
	start := time.Now()
	d.dispatchDue(ctx)
	d.retryPass(ctx)
	d.logger.Debug("Dispatch pass completed", zap.Duration("duration", time.Since(start)))
}

func (d *Dispatcher) dispatchDue(ctx context.Context) {
	due := d.scheduler.Due()
	if len(due) == 0 {
		return
	}
	d.logger.Info("Dispatching due publications", zap.Int("count", len(due)))

	for _, pub := range due {
		publisher, exists := d.publishers[pub.Channel]
		if !exists {
			d.logger.Error("No publisher registered for channel",
				zap.String("channel", pub.Channel.String()),
				zap.String("publication_id", pub.ID))
			d.markFailed(pub, &models.PublishFailure{
				Publisher: pub.Channel.String(),
				Message:   "no publisher registered",
				Retryable: false,
			})
			continue
		}

		result, err := publisher(ctx, pub)
		if err != nil {
			failure, ok := err.(*models.PublishFailure)
			if !ok {
				failure = &models.PublishFailure{
					Publisher: pub.Channel.String(),
					Message:   err.Error(),
					Retryable: true,
				}
			}
			d.markFailed(pub, failure)
			continue
		}

		if err := d.scheduler.MarkPublished(pub.ID); err != nil {
			d.logger.Error("Failed to mark publication published",
				zap.String("publication_id", pub.ID),
				zap.Error(err))
		}
		d.recordHistory(pub, 1, nil)

		d.logger.Info("Publication dispatched",
			zap.String("channel", pub.Channel.String()),
			zap.String("publication_id", pub.ID),
			zap.String("publish_id", result.PublishID))
	}
}

func (d *Dispatcher) markFailed(pub *models.ScheduledPublication, failure *models.PublishFailure) {
	if err := d.scheduler.MarkFailed(pub.ID); err != nil {
		d.logger.Error("Failed to mark publication failed",
			zap.String("publication_id", pub.ID),
			zap.Error(err))
	}
	d.retry.TrackFailure(pub.Channel, pub.ID, failure)
	d.recordHistory(pub, 1, failure)
}

// retryPass drains eligible failures through the registered publishers
// and alerts on entries that need human attention.
func (d *Dispatcher) retryPass(ctx context.Context) {
	if d.retry.FailureCount() == 0 {
		return
	}

	summary, err := d.RetryNow(ctx)
	if err != nil {
		d.logger.Error("Retry pass failed", zap.Error(err))
		return
	}

	if summary.Total > 0 {
		d.logger.Info("Retry pass finished",
			zap.Int("total", summary.Total),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("remaining", summary.Remaining))
	}

	// Entries that will never retry automatically need a human.
	for _, entry := range d.retry.FailedPublications() {
		if entry.LastError != nil && entry.LastError.Retryable && entry.Attempts < d.retry.config.MaxRetries {
			continue
		}
		key := failureKey{channel: entry.Channel, publicationID: entry.PublicationID}
		if d.alerted[key] == entry.Attempts {
			continue
		}
		d.alerted[key] = entry.Attempts
		delivered := d.retry.SendAlert(ctx, entry)
		if d.history != nil {
			if err := d.history.RecordAlert(entry, delivered); err != nil {
				d.logger.Error("Failed to record alert", zap.Error(err))
			}
		}
	}
}

// RetryNow runs one retry pass through the registered publishers.
func (d *Dispatcher) RetryNow(ctx context.Context) (*models.RetrySummary, error) {
	return d.retry.RetryFailed(ctx, func(ctx context.Context, entry *models.FailedPublication) (*models.PublishResult, error) {
		publisher, exists := d.publishers[entry.Channel]
		if !exists {
			return nil, &models.PublishFailure{
				Publisher: entry.Channel.String(),
				Message:   "no publisher registered",
				Retryable: false,
			}
		}
		pub := d.scheduler.GetPublication(entry.PublicationID)
		if pub == nil {
			return nil, &models.PublishFailure{
				Publisher: entry.Channel.String(),
				Message:   "publication no longer tracked",
				Retryable: false,
			}
		}
		return publisher(ctx, pub)
	})
}

func (d *Dispatcher) recordHistory(pub *models.ScheduledPublication, attempts int, publishErr error) {
	if d.history == nil {
		return
	}
	if err := d.history.RecordPublishAttempt(pub, attempts, publishErr); err != nil {
		d.logger.Error("Failed to record publish attempt",
			zap.String("publication_id", pub.ID),
			zap.Error(err))
	}
}

// updateStats refreshes rollups and prunes old audit data.
func (d *Dispatcher) updateStats() {
	if d.history == nil {
		return
	}

	d.logger.Debug("Updating channel statistics")

	if err := d.history.UpdateChannelStats(); err != nil {
		d.logger.Error("Failed to update channel stats", zap.Error(err))
	}
	if err := d.history.CleanupOldData(d.config.RetentionDays); err != nil {
		d.logger.Error("Failed to cleanup old data", zap.Error(err))
	}
}
