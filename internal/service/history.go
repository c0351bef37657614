package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cascadehq/cascade/internal/models"
)

// HistoryService is the orchestration layer's persistent audit trail of
// publish attempts and alerts. The in-memory managers never touch it.
type HistoryService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewHistoryService(db *gorm.DB, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		db:     db,
		logger: logger,
	}
}

// RecordPublishAttempt writes one audit row for a publish attempt.
func (h *HistoryService) RecordPublishAttempt(pub *models.ScheduledPublication, attempts int, publishErr error) error {
	record := &models.PublishRecord{
		PublicationID: pub.ID,
		Channel:       pub.Channel.String(),
		ContentID:     pub.ContentID,
		Status:        string(pub.Status),
		Attempts:      attempts,
	}
	if publishErr != nil {
		record.Error = publishErr.Error()
	}
	if pub.Status == models.PublicationStatusPublished {
		now := time.Now()
		record.PublishedAt = &now
	}

	return h.db.Create(record).Error
}

// RecordAlert writes an audit row for an alert, delivered or not.
func (h *HistoryService) RecordAlert(entry *models.FailedPublication, delivered bool) error {
	record := &models.AlertRecord{
		Channel:       entry.Channel.String(),
		PublicationID: entry.PublicationID,
		Attempts:      entry.Attempts,
		Delivered:     delivered,
	}
	if entry.LastError != nil {
		record.LastError = entry.LastError.Error()
	}

	return h.db.Create(record).Error
}

// UpdateChannelStats refreshes today's per-channel rollup from the
// publish records.
func (h *HistoryService) UpdateChannelStats() error {
	today := time.Now().Truncate(24 * time.Hour)

	var channels []string
	if err := h.db.Model(&models.PublishRecord{}).
		Where("created_at >= ?", today).
		Distinct("channel").
		Pluck("channel", &channels).Error; err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	for _, channel := range channels {
		var total, successful, failed, pending int64
		h.db.Model(&models.PublishRecord{}).Where("channel = ? AND created_at >= ?", channel, today).Count(&total)
		h.db.Model(&models.PublishRecord{}).Where("channel = ? AND created_at >= ? AND status = ?", channel, today, string(models.PublicationStatusPublished)).Count(&successful)
		h.db.Model(&models.PublishRecord{}).Where("channel = ? AND created_at >= ? AND status = ?", channel, today, string(models.PublicationStatusFailed)).Count(&failed)
		h.db.Model(&models.PublishRecord{}).Where("channel = ? AND created_at >= ? AND status = ?", channel, today, string(models.PublicationStatusPending)).Count(&pending)

		var stats models.ChannelStats
		result := h.db.Where("date = ? AND channel = ?", today, channel).First(&stats)

		if result.Error == gorm.ErrRecordNotFound {
			stats = models.ChannelStats{
				Date:           today,
				Channel:        channel,
				TotalPublishes: int(total),
				Successful:     int(successful),
				Failed:         int(failed),
				Pending:        int(pending),
			}
			if err := h.db.Create(&stats).Error; err != nil {
				return err
			}
		} else {
			if err := h.db.Model(&stats).Updates(map[string]interface{}{
				"total_publishes": total,
				"successful":      successful,
				"failed":          failed,
				"pending":         pending,
			}).Error; err != nil {
				return err
			}
		}
	}

	return nil
}

// GetRecentAlerts returns the most recent alert rows.
func (h *HistoryService) GetRecentAlerts(limit int) ([]models.AlertRecord, error) {
	var alerts []models.AlertRecord
	err := h.db.Order("created_at desc").Limit(limit).Find(&alerts).Error
	return alerts, err
}

// GetChannelStats returns per-channel rollups for the last n days.
func (h *HistoryService) GetChannelStats(days int) ([]models.ChannelStats, error) {
	var stats []models.ChannelStats
	startDate := time.Now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	err := h.db.Where("date >= ?", startDate).
		Order("date desc, channel").
		Find(&stats).Error
	return stats, err
}

// CleanupOldData drops audit rows older than the retention window.
func (h *HistoryService) CleanupOldData(daysToKeep int) error {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)

	if err := h.db.Where("created_at < ?", cutoffDate).Delete(&models.PublishRecord{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup publish records: %w", err)
	}
	if err := h.db.Where("created_at < ?", cutoffDate).Delete(&models.AlertRecord{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup alert records: %w", err)
	}
	if err := h.db.Where("date < ?", cutoffDate).Delete(&models.ChannelStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup channel stats: %w", err)
	}

	return nil
}
