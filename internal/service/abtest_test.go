package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/models"
)

func newTestABService(t *testing.T) *ABTestService {
	t.Helper()
	return NewABTestService(zap.NewNop())
}

func titleVariants() []VariantInput {
	return []VariantInput{
		{Label: "A", Value: "How to ship faster"},
		{Label: "B", Value: "Shipping faster, explained"},
	}
}

func TestCreateTestValidation(t *testing.T) {
	s := newTestABService(t)

	tests := []struct {
		name     string
		testName string
		variants []VariantInput
	}{
		{"empty name", "", titleVariants()},
		{"whitespace name", "   ", titleVariants()},
		{"one variant", "T", titleVariants()[:1]},
		{"no variants", "T", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateTest(tt.testName, models.ChannelMedium, models.TestVariableTitle, tt.variants)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCreateTestInitialState(t *testing.T) {
	s := newTestABService(t)

	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)

	assert.Equal(t, models.TestStatusRunning, test.Status)
	assert.False(t, test.StartedAt.IsZero())
	require.Len(t, test.Variants, 2)
	assert.NotEqual(t, test.Variants[0].ID, test.Variants[1].ID)
	for _, v := range test.Variants {
		assert.Zero(t, v.Metrics)
		assert.Zero(t, v.SampleSize)
	}

	assert.Same(t, test, s.GetTest(test.ID))
	assert.Nil(t, s.GetTest("missing"))
}

func TestRecordMetricAccumulates(t *testing.T) {
	s := newTestABService(t)
	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)

	variant := test.Variants[0]
	require.NoError(t, s.RecordMetric(test.ID, variant.ID, models.MetricDelta{Views: 100, Engagement: 20, Clicks: 5}))
	require.NoError(t, s.RecordMetric(test.ID, variant.ID, models.MetricDelta{Views: 50, Engagement: 10, Clicks: 3}))

	assert.Equal(t, models.VariantMetrics{Views: 150, Engagement: 30, Clicks: 8}, variant.Metrics)
	assert.Equal(t, 2, variant.SampleSize)
}

func TestRecordMetricErrors(t *testing.T) {
	s := newTestABService(t)
	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)

	assert.ErrorIs(t, s.RecordMetric("missing", test.Variants[0].ID, models.MetricDelta{}), ErrNotFound)
	assert.ErrorIs(t, s.RecordMetric(test.ID, "missing", models.MetricDelta{}), ErrNotFound)

	require.NoError(t, s.RecordMetric(test.ID, test.Variants[0].ID, models.MetricDelta{Views: 1}))
	_, err = s.AnalyzeResults(test.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.RecordMetric(test.ID, test.Variants[0].ID, models.MetricDelta{Views: 1}), ErrTestCompleted)
}

func TestAnalyzeResultsClearWinner(t *testing.T) {
	s := newTestABService(t)
	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)

	a, b := test.Variants[0], test.Variants[1]
	require.NoError(t, s.RecordMetric(test.ID, a.ID, models.MetricDelta{Views: 500, Engagement: 100, Clicks: 50}))
	require.NoError(t, s.RecordMetric(test.ID, b.ID, models.MetricDelta{Views: 500, Engagement: 25, Clicks: 10}))

	result, err := s.AnalyzeResults(test.ID)
	require.NoError(t, err)

	assert.Equal(t, a.ID, result.Winner.ID)
	assert.InDelta(t, 300.0, result.Improvement, 1e-9)
	assert.Greater(t, result.Confidence, 0.95)
	assert.LessOrEqual(t, result.Confidence, 0.999)
	assert.Contains(t, result.Recommendation, "adopt immediately")

	assert.Equal(t, models.TestStatusCompleted, test.Status)
	assert.NotNil(t, test.CompletedAt)
	assert.Equal(t, a.ID, test.WinnerID)
}

func TestAnalyzeResultsWinnerOrderInvariant(t *testing.T) {
	s := newTestABService(t)

	record := func(variants []VariantInput) string {
		test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, variants)
		require.NoError(t, err)
		for _, v := range test.Variants {
			delta := models.MetricDelta{Views: 500, Engagement: 25}
			if v.Label == "A" {
				delta.Engagement = 100
			}
			require.NoError(t, s.RecordMetric(test.ID, v.ID, delta))
		}
		result, err := s.AnalyzeResults(test.ID)
		require.NoError(t, err)
		return result.Winner.Label
	}

	forward := record(titleVariants())
	reversed := record([]VariantInput{titleVariants()[1], titleVariants()[0]})
	assert.Equal(t, "A", forward)
	assert.Equal(t, forward, reversed)
}

func TestAnalyzeResultsConfidenceMonotoneInSampleSize(t *testing.T) {
	s := newTestABService(t)

	confidenceAt := func(scale int64) float64 {
		test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
		require.NoError(t, err)
		require.NoError(t, s.RecordMetric(test.ID, test.Variants[0].ID, models.MetricDelta{Views: 100 * scale, Engagement: 12 * scale}))
		require.NoError(t, s.RecordMetric(test.ID, test.Variants[1].ID, models.MetricDelta{Views: 100 * scale, Engagement: 10 * scale}))
		result, err := s.AnalyzeResults(test.ID)
		require.NoError(t, err)
		return result.Confidence
	}

	small := confidenceAt(1)
	large := confidenceAt(2)
	assert.GreaterOrEqual(t, large, small)
}

func TestAnalyzeResultsNoRunnerUpViews(t *testing.T) {
	s := newTestABService(t)
	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)

	require.NoError(t, s.RecordMetric(test.ID, test.Variants[0].ID, models.MetricDelta{Views: 100, Engagement: 30}))

	result, err := s.AnalyzeResults(test.ID)
	require.NoError(t, err)

	assert.Zero(t, result.Confidence)
	assert.Zero(t, result.Improvement)
	assert.Contains(t, result.Recommendation, "collect more data")
}

func TestAnalyzeResultsZeroRunnerUpRate(t *testing.T) {
	s := newTestABService(t)
	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)

	require.NoError(t, s.RecordMetric(test.ID, test.Variants[0].ID, models.MetricDelta{Views: 100, Engagement: 30}))
	require.NoError(t, s.RecordMetric(test.ID, test.Variants[1].ID, models.MetricDelta{Views: 100, Engagement: 0}))

	result, err := s.AnalyzeResults(test.ID)
	require.NoError(t, err)

	// Improvement over a zero rate is reported as zero, not infinity.
	assert.Zero(t, result.Improvement)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestAnalyzeResultsErrors(t *testing.T) {
	s := newTestABService(t)

	_, err := s.AnalyzeResults("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)
	_, err = s.AnalyzeResults(test.ID)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestAnalyzeResultsIdempotentReAnalysis(t *testing.T) {
	s := newTestABService(t)
	test, err := s.CreateTest("T", models.ChannelMedium, models.TestVariableTitle, titleVariants())
	require.NoError(t, err)

	require.NoError(t, s.RecordMetric(test.ID, test.Variants[0].ID, models.MetricDelta{Views: 500, Engagement: 100}))
	require.NoError(t, s.RecordMetric(test.ID, test.Variants[1].ID, models.MetricDelta{Views: 500, Engagement: 25}))

	first, err := s.AnalyzeResults(test.ID)
	require.NoError(t, err)
	second, err := s.AnalyzeResults(test.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Winner.ID, second.Winner.ID)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Improvement, second.Improvement)
}
