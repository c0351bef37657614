package models

import (
	"time"
)

// TestVariable is the content dimension an experiment varies.
type TestVariable string

const (
	TestVariableTitle       TestVariable = "title"
	TestVariableThumbnail   TestVariable = "thumbnail"
	TestVariableCTA         TestVariable = "cta"
	TestVariablePublishTime TestVariable = "publish-time"
)

type TestStatus string

const (
	TestStatusDraft     TestStatus = "draft"
	TestStatusRunning   TestStatus = "running"
	TestStatusCompleted TestStatus = "completed"
)

// VariantMetrics holds the running totals for one variant. Counters only
// ever increase; SampleSize counts metric recordings, not views.
type VariantMetrics struct {
	Views      int64 `json:"views"`
	Engagement int64 `json:"engagement"`
	Clicks     int64 `json:"clicks"`
}

// MetricDelta is one batch of observations added to a variant.
type MetricDelta struct {
	Views      int64 `json:"views"`
	Engagement int64 `json:"engagement"`
	Clicks     int64 `json:"clicks"`
}

type ABVariant struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Value      string         `json:"value"`
	Metrics    VariantMetrics `json:"metrics"`
	SampleSize int            `json:"sample_size"`
}

// EngagementRate is the primary comparison metric: engagement / views,
// zero when no views were recorded.
func (v *ABVariant) EngagementRate() float64 {
	if v.Metrics.Views == 0 {
		return 0
	}
	return float64(v.Metrics.Engagement) / float64(v.Metrics.Views)
}

type ABTest struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Channel     Channel      `json:"channel"`
	Variable    TestVariable `json:"variable"`
	Variants    []*ABVariant `json:"variants"`
	Status      TestStatus   `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	WinnerID    string       `json:"winner_id,omitempty"`
}

// ABTestResult is the derived output of analyzing a test; it is computed
// on demand and never stored.
type ABTestResult struct {
	TestID         string     `json:"test_id"`
	Winner         *ABVariant `json:"winner"`
	Confidence     float64    `json:"confidence"`
	Improvement    float64    `json:"improvement"`
	Recommendation string     `json:"recommendation"`
}
