package models

import (
	"time"

	"gorm.io/gorm"
)

// PublishRecord is the persisted audit row for one publish attempt,
// written by the orchestration layer (the core managers stay in-memory).
type PublishRecord struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	PublicationID string         `gorm:"not null;index;size:64" json:"publication_id"`
	Channel       string         `gorm:"not null;index;size:50" json:"channel"`
	ContentID     string         `gorm:"not null;size:64" json:"content_id"`
	Status        string         `gorm:"size:50;default:'pending'" json:"status"`
	Error         string         `gorm:"type:text" json:"error"`
	Attempts      int            `gorm:"default:0" json:"attempts"`
	PublishedAt   *time.Time     `json:"published_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// AlertRecord is the persisted trail of retry alerts, whether or not the
// webhook delivery itself succeeded.
type AlertRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Channel       string    `gorm:"not null;index;size:50" json:"channel"`
	PublicationID string    `gorm:"not null;size:64" json:"publication_id"`
	Attempts      int       `gorm:"not null" json:"attempts"`
	LastError     string    `gorm:"type:text" json:"last_error"`
	Delivered     bool      `gorm:"default:false" json:"delivered"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ChannelStats is a daily per-channel rollup of publish outcomes.
type ChannelStats struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Date           time.Time `gorm:"not null;index" json:"date"`
	Channel        string    `gorm:"not null;index;size:50" json:"channel"`
	TotalPublishes int       `gorm:"default:0" json:"total_publishes"`
	Successful     int       `gorm:"default:0" json:"successful"`
	Failed         int       `gorm:"default:0" json:"failed"`
	Pending        int       `gorm:"default:0" json:"pending"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
