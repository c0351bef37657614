package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/models"
)

// defaultSlots is the built-in optimal-time table used when the config
// provides none. Hours are wall-clock in the process's local time.
var defaultSlots = []models.ScheduleSlot{
	{Channel: models.ChannelMedium, DayOfWeek: 2, Hour: 9, Minute: 0},
	{Channel: models.ChannelMedium, DayOfWeek: 4, Hour: 9, Minute: 0},
	{Channel: models.ChannelDevTo, DayOfWeek: 1, Hour: 8, Minute: 30},
	{Channel: models.ChannelDevTo, DayOfWeek: 3, Hour: 8, Minute: 30},
	{Channel: models.ChannelYouTube, DayOfWeek: 6, Hour: 11, Minute: 0},
	{Channel: models.ChannelLinkedIn, DayOfWeek: 2, Hour: 7, Minute: 45},
	{Channel: models.ChannelTwitter, DayOfWeek: 5, Hour: 17, Minute: 0},
}

// SchedulerService places outbound publications into channel-specific
// optimal time windows and tracks the scheduled entries. All state is
// in-memory and guarded by a single mutex.
type SchedulerService struct {
	config *config.SchedulerConfig
	logger *zap.Logger

	mu           sync.Mutex
	slots        []models.ScheduleSlot
	publications map[string]*models.ScheduledPublication

	now   func() time.Time
	newID func() string
}

func NewSchedulerService(cfg *config.SchedulerConfig, logger *zap.Logger) *SchedulerService {
	slots := cfg.DefaultSlots
	if len(slots) == 0 {
		slots = defaultSlots
	}

	return &SchedulerService{
		config:       cfg,
		logger:       logger,
		slots:        slots,
		publications: make(map[string]*models.ScheduledPublication),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// OptimalSlots returns the configured recurring slots for a channel, empty
// if the channel has none.
func (s *SchedulerService) OptimalSlots(channel models.Channel) []models.ScheduleSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := make([]models.ScheduleSlot, 0)
	for _, slot := range s.slots {
		if slot.Channel == channel {
			slots = append(slots, slot)
		}
	}
	return slots
}

// SchedulePublication creates a pending publication at the preferred time,
// or at the channel's next optimal slot when no preference is given. The
// preferred time must be strictly in the future.
func (s *SchedulerService) SchedulePublication(channel models.Channel, contentID string, preferred *time.Time) (*models.ScheduledPublication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var scheduledAt time.Time
	if preferred != nil {
		if !preferred.After(now) {
			return nil, fmt.Errorf("%w: scheduled time must be in the future", ErrInvalidInput)
		}
		scheduledAt = *preferred
	} else {
		next, err := s.nextOptimalTime(channel, now)
		if err != nil {
			return nil, err
		}
		scheduledAt = next
	}

	pub := &models.ScheduledPublication{
		ID:          s.newID(),
		Channel:     channel,
		ContentID:   contentID,
		ScheduledAt: scheduledAt,
		Status:      models.PublicationStatusPending,
		CreatedAt:   now,
	}
	s.publications[pub.ID] = pub

	s.logger.Info("Publication scheduled",
		zap.String("id", pub.ID),
		zap.String("channel", channel.String()),
		zap.String("content_id", contentID),
		zap.Time("scheduled_at", scheduledAt))

	return pub, nil
}

// nextOptimalTime returns the earliest strictly-future occurrence among
// the channel's slots, considering this week's and next week's instance
// of each slot. Caller must hold s.mu.
func (s *SchedulerService) nextOptimalTime(channel models.Channel, now time.Time) (time.Time, error) {
	var best time.Time
	found := false

	for _, slot := range s.slots {
		if slot.Channel != channel {
			continue
		}
		found = true

		first := slotOccurrence(slot, now)
		for _, candidate := range []time.Time{first, first.AddDate(0, 0, 7)} {
			if !candidate.After(now) {
				continue
			}
			if best.IsZero() || candidate.Before(best) {
				best = candidate
			}
		}
	}

	if !found {
		return time.Time{}, fmt.Errorf("%w for channel %s", ErrNoOptimalSlots, channel)
	}
	if best.IsZero() {
		return time.Time{}, fmt.Errorf("%w for channel %s", ErrNoOptimalSlots, channel)
	}
	return best, nil
}

// slotOccurrence computes the slot's occurrence in the current week: the
// nearest day on or after today matching the slot's weekday, at the
// slot's wall-clock time.
func slotOccurrence(slot models.ScheduleSlot, now time.Time) time.Time {
	days := (slot.DayOfWeek - int(now.Weekday()) + 7) % 7
	day := now.AddDate(0, 0, days)
	return time.Date(day.Year(), day.Month(), day.Day(), slot.Hour, slot.Minute, 0, 0, now.Location())
}

// Upcoming returns pending publications scheduled strictly after now,
// ascending by scheduled time. A limit of 0 means no limit.
func (s *SchedulerService) Upcoming(limit int) []*models.ScheduledPublication {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	upcoming := make([]*models.ScheduledPublication, 0)
	for _, pub := range s.publications {
		if pub.Status == models.PublicationStatusPending && pub.ScheduledAt.After(now) {
			upcoming = append(upcoming, pub)
		}
	}

	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].ScheduledAt.Before(upcoming[j].ScheduledAt)
	})

	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming
}

// Due returns pending publications whose scheduled time has passed. The
// dispatcher consumes these and drives the published/failed transitions.
func (s *SchedulerService) Due() []*models.ScheduledPublication {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	due := make([]*models.ScheduledPublication, 0)
	for _, pub := range s.publications {
		if pub.Status == models.PublicationStatusPending && !pub.ScheduledAt.After(now) {
			due = append(due, pub)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due
}

// CancelScheduled marks a pending publication cancelled. Cancelling an
// already-cancelled (or otherwise non-pending) entry is an error.
func (s *SchedulerService) CancelScheduled(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pub, exists := s.publications[id]
	if !exists {
		return fmt.Errorf("publication %s: %w", id, ErrNotFound)
	}
	if pub.Status != models.PublicationStatusPending {
		return fmt.Errorf("%w: publication %s is %s", ErrNotPending, id, pub.Status)
	}

	pub.Status = models.PublicationStatusCancelled
	s.logger.Info("Publication cancelled", zap.String("id", id))
	return nil
}

// MarkPublished transitions a pending publication to published.
func (s *SchedulerService) MarkPublished(id string) error {
	return s.transition(id, models.PublicationStatusPublished)
}

// MarkFailed transitions a pending publication to failed.
func (s *SchedulerService) MarkFailed(id string) error {
	return s.transition(id, models.PublicationStatusFailed)
}

func (s *SchedulerService) transition(id string, status models.PublicationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pub, exists := s.publications[id]
	if !exists {
		return fmt.Errorf("publication %s: %w", id, ErrNotFound)
	}
	if pub.Status != models.PublicationStatusPending {
		return fmt.Errorf("%w: publication %s is %s", ErrNotPending, id, pub.Status)
	}

	pub.Status = status
	return nil
}

// GetPublication returns the publication with the given id, nil if unknown.
func (s *SchedulerService) GetPublication(id string) *models.ScheduledPublication {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publications[id]
}
