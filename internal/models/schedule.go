package models

import (
	"time"
)

// ScheduleSlot is a recurring weekly window associated with higher
// engagement for a channel. DayOfWeek follows time.Weekday (0 = Sunday).
type ScheduleSlot struct {
	Channel   Channel `yaml:"channel" json:"channel"`
	DayOfWeek int     `yaml:"day_of_week" json:"day_of_week"`
	Hour      int     `yaml:"hour" json:"hour"`
	Minute    int     `yaml:"minute" json:"minute"`
}

type PublicationStatus string

const (
	PublicationStatusPending   PublicationStatus = "pending"
	PublicationStatusPublished PublicationStatus = "published"
	PublicationStatusFailed    PublicationStatus = "failed"
	PublicationStatusCancelled PublicationStatus = "cancelled"
)

// ScheduledPublication is a single outbound publication placed into a
// time window. Status transitions to published/failed are driven by the
// dispatcher, not by the scheduler itself.
type ScheduledPublication struct {
	ID          string            `json:"id"`
	Channel     Channel           `json:"channel"`
	ContentID   string            `json:"content_id"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Status      PublicationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}
