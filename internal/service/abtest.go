package service

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/models"
)

// maxConfidence caps the significance score; the approximation never
// reports certainty.
const maxConfidence = 0.999

// ABTestService runs controlled experiments on content variables and
// scores them for statistical confidence. Purely in-memory, no config.
type ABTestService struct {
	logger *zap.Logger

	mu    sync.Mutex
	tests map[string]*models.ABTest

	now   func() time.Time
	newID func() string
}

func NewABTestService(logger *zap.Logger) *ABTestService {
	return &ABTestService{
		logger: logger,
		tests:  make(map[string]*models.ABTest),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// VariantInput describes one variant at test creation.
type VariantInput struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// CreateTest starts a running experiment with at least two variants, each
// assigned a fresh id and zeroed metrics.
func (s *ABTestService) CreateTest(name string, channel models.Channel, variable models.TestVariable, variants []VariantInput) (*models.ABTest, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: test name is required", ErrInvalidInput)
	}
	if len(variants) < 2 {
		return nil, fmt.Errorf("%w: a test needs at least 2 variants, got %d", ErrInvalidInput, len(variants))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	test := &models.ABTest{
		ID:        s.newID(),
		Name:      name,
		Channel:   channel,
		Variable:  variable,
		Status:    models.TestStatusRunning,
		StartedAt: s.now(),
	}
	for _, v := range variants {
		test.Variants = append(test.Variants, &models.ABVariant{
			ID:    s.newID(),
			Label: v.Label,
			Value: v.Value,
		})
	}
	s.tests[test.ID] = test

	s.logger.Info("A/B test created",
		zap.String("test_id", test.ID),
		zap.String("name", name),
		zap.String("channel", channel.String()),
		zap.String("variable", string(variable)),
		zap.Int("variants", len(variants)))

	return test, nil
}

// RecordMetric accumulates one batch of observations into a variant's
// running totals and bumps its sample size.
func (s *ABTestService) RecordMetric(testID, variantID string, delta models.MetricDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	test, exists := s.tests[testID]
	if !exists {
		return fmt.Errorf("test %s: %w", testID, ErrNotFound)
	}
	if test.Status != models.TestStatusRunning {
		return fmt.Errorf("%w: test %s is %s", ErrTestCompleted, testID, test.Status)
	}

	for _, variant := range test.Variants {
		if variant.ID == variantID {
			variant.Metrics.Views += delta.Views
			variant.Metrics.Engagement += delta.Engagement
			variant.Metrics.Clicks += delta.Clicks
			variant.SampleSize++
			return nil
		}
	}
	return fmt.Errorf("variant %s: %w", variantID, ErrNotFound)
}

// AnalyzeResults ranks variants by engagement rate, scores the winner
// against the runner-up with an approximate two-proportion z-test, and
// marks the test completed. Re-analyzing a completed test recomputes over
// the same accumulated metrics.
func (s *ABTestService) AnalyzeResults(testID string) (*models.ABTestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	test, exists := s.tests[testID]
	if !exists {
		return nil, fmt.Errorf("test %s: %w", testID, ErrNotFound)
	}

	totalSamples := 0
	for _, variant := range test.Variants {
		totalSamples += variant.SampleSize
	}
	if totalSamples == 0 {
		return nil, fmt.Errorf("%w for test %s", ErrNoData, testID)
	}

	ranked := make([]*models.ABVariant, len(test.Variants))
	copy(ranked, test.Variants)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EngagementRate() > ranked[j].EngagementRate()
	})

	winner := ranked[0]

	var confidence, improvement float64
	if len(ranked) > 1 && ranked[1].Metrics.Views > 0 {
		runnerUp := ranked[1]
		confidence = proportionConfidence(winner, runnerUp)
		if rate := runnerUp.EngagementRate(); rate > 0 {
			improvement = (winner.EngagementRate() - rate) / rate * 100
		}
	}

	result := &models.ABTestResult{
		TestID:         testID,
		Winner:         winner,
		Confidence:     confidence,
		Improvement:    improvement,
		Recommendation: recommendation(winner, improvement, confidence),
	}

	completedAt := s.now()
	test.Status = models.TestStatusCompleted
	test.CompletedAt = &completedAt
	test.WinnerID = winner.ID

	s.logger.Info("A/B test analyzed",
		zap.String("test_id", testID),
		zap.String("winner", winner.Label),
		zap.Float64("confidence", confidence),
		zap.Float64("improvement", improvement))

	return result, nil
}

// proportionConfidence approximates the significance of the engagement
// rate difference with a pooled two-proportion z statistic, mapped
// through 1 - exp(-z²/2) and capped. Monotone in z, not an exact p-value.
func proportionConfidence(winner, runnerUp *models.ABVariant) float64 {
	n1 := float64(winner.Metrics.Views)
	n2 := float64(runnerUp.Metrics.Views)
	if n1 == 0 || n2 == 0 {
		return 0
	}

	pooled := float64(winner.Metrics.Engagement+runnerUp.Metrics.Engagement) / (n1 + n2)
	if pooled <= 0 || pooled >= 1 {
		return 0
	}

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 0
	}

	z := math.Abs(winner.EngagementRate()-runnerUp.EngagementRate()) / se
	return math.Min(1-math.Exp(-0.5*z*z), maxConfidence)
}

func recommendation(winner *models.ABVariant, improvement, confidence float64) string {
	switch {
	case confidence >= 0.95:
		return fmt.Sprintf("Variant %q is a strong winner with a %.1f%% improvement (confidence %.3f): adopt immediately.",
			winner.Label, improvement, confidence)
	case confidence >= 0.90:
		return fmt.Sprintf("Variant %q shows an improvement of %.1f%% (confidence %.3f): consider adopting.",
			winner.Label, improvement, confidence)
	default:
		return fmt.Sprintf("Results are not yet significant (improvement %.1f%%, confidence %.3f): collect more data.",
			improvement, confidence)
	}
}

// GetTest returns the test with the given id, nil if unknown.
func (s *ABTestService) GetTest(testID string) *models.ABTest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tests[testID]
}
