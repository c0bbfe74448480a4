package monitoring

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"autoforge/internal/logging"
)

// Default scorer parameters. Weights must sum to 1.0 within the
// tolerance below.
const (
	WeightSumTolerance = 0.01

	DefaultHealthyThreshold  = 80.0
	DefaultDegradedThreshold = 60.0

	// Execution-time normalization bounds in seconds. At or under the
	// baseline a task run is perfect; at or over the max it scores zero.
	DefaultExecutionBaseline = 30.0
	DefaultExecutionMax      = 600.0
)

// DefaultWeights covers the four produced metrics.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		string(MetricTaskSuccessRate):  0.35,
		string(MetricTaskErrorRate):    0.25,
		string(MetricAvgExecutionTime): 0.20,
		string(MetricPRApprovalRate):   0.20,
	}
}

// ScorerConfig parameterizes a HealthScorer. Zero values take the
// package defaults.
type ScorerConfig struct {
	Weights           map[string]float64
	HealthyThreshold  float64
	DegradedThreshold float64
	ExecutionBaseline float64
	ExecutionMax      float64
}

// HealthScorer maps a set of metric values to an overall score and
// status. Construction validates the configuration so a misconfigured
// scorer never runs.
type HealthScorer struct {
	weights           map[string]float64
	healthyThreshold  float64
	degradedThreshold float64
	executionBaseline float64
	executionMax      float64
}

// NewHealthScorer validates cfg and builds a scorer.
func NewHealthScorer(cfg ScorerConfig) (*HealthScorer, error) {
	weights := cfg.Weights
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	sum := 0.0
	for name, w := range weights {
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("health weight for %s out of range: %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return nil, fmt.Errorf("health weights sum to %.4f, want 1.0 +/- %.2f", sum, WeightSumTolerance)
	}

	healthy := cfg.HealthyThreshold
	if healthy == 0 {
		healthy = DefaultHealthyThreshold
	}
	degraded := cfg.DegradedThreshold
	if degraded == 0 {
		degraded = DefaultDegradedThreshold
	}
	if degraded < 0 || healthy > 100 || degraded >= healthy {
		return nil, fmt.Errorf("health thresholds invalid: need 0 <= degraded(%v) < healthy(%v) <= 100", degraded, healthy)
	}

	baseline := cfg.ExecutionBaseline
	if baseline == 0 {
		baseline = DefaultExecutionBaseline
	}
	maxExec := cfg.ExecutionMax
	if maxExec == 0 {
		maxExec = DefaultExecutionMax
	}
	if baseline < 0 || maxExec <= baseline {
		return nil, fmt.Errorf("execution bounds invalid: need 0 <= baseline(%v) < max(%v)", baseline, maxExec)
	}

	return &HealthScorer{
		weights:           weights,
		healthyThreshold:  healthy,
		degradedThreshold: degraded,
		executionBaseline: baseline,
		executionMax:      maxExec,
	}, nil
}

// Compute scores the given metric values. Metrics configured with a
// weight but absent from the input have their weight redistributed
// proportionally across the present ones. Empty input is critical with
// a zero score.
func (h *HealthScorer) Compute(values map[string]float64) HealthScore {
	score := HealthScore{
		ID:         uuid.New().String(),
		Components: map[string]float64{},
		Timestamp:  time.Now().UTC(),
	}

	presentSum := 0.0
	for name, w := range h.weights {
		if _, ok := values[name]; ok {
			presentSum += w
		}
	}
	if presentSum == 0 {
		score.Score = 0.0
		score.Status = StatusCritical
		return score
	}

	total := 0.0
	for name, w := range h.weights {
		value, ok := values[name]
		if !ok {
			continue
		}
		contribution := h.normalize(name, value) * (w / presentSum) * 100
		score.Components[name] = round2(contribution)
		total += contribution
	}

	score.Score = clampFloat(round2(total), 0, 100)
	switch {
	case score.Score >= h.healthyThreshold:
		score.Status = StatusHealthy
	case score.Score < h.degradedThreshold:
		score.Status = StatusCritical
	default:
		score.Status = StatusDegraded
	}

	logging.HealthDebug("health=%.2f status=%s from %d metrics", score.Score, score.Status, len(score.Components))
	return score
}

// normalize maps a raw metric value to [0,1] per the metric's kind.
func (h *HealthScorer) normalize(name string, value float64) float64 {
	switch MetricType(name) {
	case MetricTaskErrorRate:
		return 1.0 - clampFloat(value, 0, 1)
	case MetricAvgExecutionTime:
		switch {
		case value <= h.executionBaseline:
			return 1.0
		case value >= h.executionMax:
			return 0.0
		default:
			return (h.executionMax - value) / (h.executionMax - h.executionBaseline)
		}
	case MetricQAScoreAverage:
		return clampFloat(value/100, 0, 1)
	default:
		// Success and approval rates arrive already in [0,1].
		return clampFloat(value, 0, 1)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
