package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHealthScorerDefaults(t *testing.T) {
	scorer, err := NewHealthScorer(ScorerConfig{})
	require.NoError(t, err)

	assert.Len(t, scorer.weights, 4)
	assert.Equal(t, DefaultHealthyThreshold, scorer.healthyThreshold)
	assert.Equal(t, DefaultDegradedThreshold, scorer.degradedThreshold)
	assert.Equal(t, DefaultExecutionBaseline, scorer.executionBaseline)
	assert.Equal(t, DefaultExecutionMax, scorer.executionMax)
}

func TestNewHealthScorerValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ScorerConfig
		wantSub string
	}{
		{
			name:    "weight above one",
			cfg:     ScorerConfig{Weights: map[string]float64{"task_success_rate": 1.5}},
			wantSub: "out of range",
		},
		{
			name:    "negative weight",
			cfg:     ScorerConfig{Weights: map[string]float64{"task_success_rate": -0.2}},
			wantSub: "out of range",
		},
		{
			name: "weights sum below one",
			cfg: ScorerConfig{Weights: map[string]float64{
				"task_success_rate": 0.5,
				"task_error_rate":   0.3,
			}},
			wantSub: "health weights sum to 0.8000",
		},
		{
			name:    "degraded above healthy",
			cfg:     ScorerConfig{HealthyThreshold: 50, DegradedThreshold: 60},
			wantSub: "health thresholds invalid",
		},
		{
			name:    "healthy above hundred",
			cfg:     ScorerConfig{HealthyThreshold: 120},
			wantSub: "health thresholds invalid",
		},
		{
			name:    "negative degraded",
			cfg:     ScorerConfig{DegradedThreshold: -5},
			wantSub: "health thresholds invalid",
		},
		{
			name:    "baseline above max",
			cfg:     ScorerConfig{ExecutionBaseline: 700},
			wantSub: "execution bounds invalid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer, err := NewHealthScorer(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, scorer)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestComputePerfectRun(t *testing.T) {
	scorer, err := NewHealthScorer(ScorerConfig{})
	require.NoError(t, err)

	score := scorer.Compute(map[string]float64{
		string(MetricTaskSuccessRate): 1.0,
		string(MetricTaskErrorRate):   0.0,
	})

	assert.Equal(t, 100.0, score.Score)
	assert.Equal(t, StatusHealthy, score.Status)
	assert.Equal(t, 58.33, score.Components[string(MetricTaskSuccessRate)])
	assert.Equal(t, 41.67, score.Components[string(MetricTaskErrorRate)])
	assert.NotEmpty(t, score.ID)
	assert.False(t, score.Timestamp.IsZero())
	assert.Equal(t, time.UTC, score.Timestamp.Location())
}

func TestComputeEmptyInput(t *testing.T) {
	scorer, err := NewHealthScorer(ScorerConfig{})
	require.NoError(t, err)

	for name, values := range map[string]map[string]float64{
		"no metrics":          {},
		"only unknown metric": {"deploy_frequency": 1.0},
	} {
		t.Run(name, func(t *testing.T) {
			score := scorer.Compute(values)
			assert.Equal(t, 0.0, score.Score)
			assert.Equal(t, StatusCritical, score.Status)
			assert.Empty(t, score.Components)
		})
	}
}

func TestComputeNormalization(t *testing.T) {
	tests := []struct {
		name       string
		metric     MetricType
		value      float64
		wantScore  float64
		wantStatus HealthStatus
	}{
		{"execution at baseline", MetricAvgExecutionTime, 30, 100, StatusHealthy},
		{"execution under baseline", MetricAvgExecutionTime, 10, 100, StatusHealthy},
		{"execution midway", MetricAvgExecutionTime, 315, 50, StatusCritical},
		{"execution at max", MetricAvgExecutionTime, 600, 0, StatusCritical},
		{"execution beyond max", MetricAvgExecutionTime, 700, 0, StatusCritical},
		{"error rate inverted", MetricTaskErrorRate, 0.25, 75, StatusDegraded},
		{"error rate clamped", MetricTaskErrorRate, 1.5, 0, StatusCritical},
		{"qa score scaled", MetricQAScoreAverage, 85, 85, StatusHealthy},
		{"qa score clamped", MetricQAScoreAverage, 150, 100, StatusHealthy},
		{"success rate direct", MetricTaskSuccessRate, 0.83, 83, StatusHealthy},
		{"success rate clamped low", MetricTaskSuccessRate, -0.5, 0, StatusCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer, err := NewHealthScorer(ScorerConfig{
				Weights: map[string]float64{string(tt.metric): 1.0},
			})
			require.NoError(t, err)

			score := scorer.Compute(map[string]float64{string(tt.metric): tt.value})
			assert.Equal(t, tt.wantScore, score.Score)
			assert.Equal(t, tt.wantStatus, score.Status)
		})
	}
}

func TestComputeRedistributesMissingWeights(t *testing.T) {
	scorer, err := NewHealthScorer(ScorerConfig{})
	require.NoError(t, err)

	t.Run("single present metric carries full weight", func(t *testing.T) {
		score := scorer.Compute(map[string]float64{
			string(MetricTaskSuccessRate): 0.5,
		})
		assert.Equal(t, 50.0, score.Score)
		assert.Equal(t, StatusCritical, score.Status)
		assert.Len(t, score.Components, 1)
	})

	t.Run("two perfect metrics still reach one hundred", func(t *testing.T) {
		score := scorer.Compute(map[string]float64{
			string(MetricTaskSuccessRate): 1.0,
			string(MetricPRApprovalRate):  1.0,
		})
		assert.Equal(t, 100.0, score.Score)
		assert.Equal(t, 63.64, score.Components[string(MetricTaskSuccessRate)])
		assert.Equal(t, 36.36, score.Components[string(MetricPRApprovalRate)])
	})
}

func TestComputeStatusBoundaries(t *testing.T) {
	scorer, err := NewHealthScorer(ScorerConfig{
		Weights: map[string]float64{string(MetricTaskSuccessRate): 1.0},
	})
	require.NoError(t, err)

	tests := []struct {
		value      float64
		wantStatus HealthStatus
	}{
		{0.80, StatusHealthy},
		{0.7999, StatusDegraded},
		{0.60, StatusDegraded},
		{0.5999, StatusCritical},
	}
	for _, tt := range tests {
		score := scorer.Compute(map[string]float64{string(MetricTaskSuccessRate): tt.value})
		assert.Equal(t, tt.wantStatus, score.Status, "value %v scored %v", tt.value, score.Score)
	}
}
