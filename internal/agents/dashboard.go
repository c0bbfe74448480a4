package agents

import (
	"fmt"
	"math"
	"time"

	"autoforge/internal/monitoring"
)

// Trend labels for a metric series over a query window.
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

// trendMinPoints is the sample floor below which no trend is claimed.
const trendMinPoints = 4

// trendBand is the relative dead zone around the first-half mean.
const trendBand = 0.05

// recentAlertLimit caps the alert list embedded in a summary.
const recentAlertLimit = 5

// MetricSummary condenses one metric's recent history.
type MetricSummary struct {
	Current    float64 `json:"current"`
	Average    float64 `json:"average"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Trend      string  `json:"trend"`
	DataPoints int     `json:"data_points"`
}

// MetricsSummary aggregates every metric with data in the window.
type MetricsSummary struct {
	WindowHours int                      `json:"window_hours"`
	Metrics     map[string]MetricSummary `json:"metrics"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// AlertsSummary condenses stored alerts for dashboards.
type AlertsSummary struct {
	Total        int                `json:"total"`
	Active       int                `json:"active"`
	Acknowledged int                `json:"acknowledged"`
	BySeverity   map[string]int     `json:"by_severity"`
	ByMetric     map[string]int     `json:"by_metric"`
	RecentAlerts []monitoring.Alert `json:"recent_alerts"`
}

// GetCurrentHealth returns the most recent health score, or nil when
// none has been recorded yet.
func (m *Monitor) GetCurrentHealth() (*monitoring.HealthScore, error) {
	scores, err := m.store.QueryHealthScores(time.Time{}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to query health scores: %w", err)
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return &scores[0], nil
}

// GetMetricsHistory returns stored samples for one metric, newest first.
// hours <= 0 defaults to 24, limit <= 0 defaults to 100.
func (m *Monitor) GetMetricsHistory(metricType monitoring.MetricType, hours, limit int) ([]monitoring.Metric, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 100
	}
	start := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return m.store.QueryMetrics(metricType, start, time.Time{}, limit)
}

// GetHealthScoreHistory returns stored health scores, newest first.
func (m *Monitor) GetHealthScoreHistory(hours, limit int) ([]monitoring.HealthScore, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 100
	}
	start := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return m.store.QueryHealthScores(start, limit)
}

// GetMetricsSummary aggregates each known metric's samples inside the
// window into current, average, min, max, and a trend label. Metrics
// with no samples are omitted entirely.
func (m *Monitor) GetMetricsSummary(hours int) (*MetricsSummary, error) {
	if hours <= 0 {
		hours = 24
	}
	summary := &MetricsSummary{
		WindowHours: hours,
		Metrics:     map[string]MetricSummary{},
		GeneratedAt: time.Now().UTC(),
	}

	for _, metricType := range monitoring.MetricTypeOrder() {
		history, err := m.GetMetricsHistory(metricType, hours, 1000)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			continue
		}

		// History arrives newest first; trend wants chronological order.
		values := make([]float64, len(history))
		for i, sample := range history {
			values[len(history)-1-i] = sample.Value
		}

		minV, maxV, sum := values[0], values[0], 0.0
		for _, v := range values {
			minV = min(minV, v)
			maxV = max(maxV, v)
			sum += v
		}

		summary.Metrics[string(metricType)] = MetricSummary{
			Current:    values[len(values)-1],
			Average:    roundTo(sum/float64(len(values)), 4),
			Min:        minV,
			Max:        maxV,
			Trend:      trendOf(values),
			DataPoints: len(values),
		}
	}
	return summary, nil
}

// trendOf classifies a chronological series by comparing the mean of
// its second half against the mean of its first half with a 5% dead
// zone. Fewer than four points is always stable.
func trendOf(values []float64) string {
	if len(values) < trendMinPoints {
		return TrendStable
	}
	half := len(values) / 2
	firstMean := meanOf(values[:half])
	secondMean := meanOf(values[half:])

	if firstMean == 0 {
		if secondMean > 0 {
			return TrendImproving
		}
		return TrendStable
	}
	switch {
	case secondMean > firstMean*(1+trendBand):
		return TrendImproving
	case secondMean < firstMean*(1-trendBand):
		return TrendDegrading
	default:
		return TrendStable
	}
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}

// GetActiveAlerts returns unacknowledged alerts, newest first.
func (m *Monitor) GetActiveAlerts() ([]monitoring.Alert, error) {
	active := false
	return m.store.QueryAlerts(monitoring.AlertQuery{Acknowledged: &active})
}

// GetAlertHistory returns all alerts raised inside the window.
func (m *Monitor) GetAlertHistory(hours int) ([]monitoring.Alert, error) {
	if hours <= 0 {
		hours = 24
	}
	start := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return m.store.QueryAlerts(monitoring.AlertQuery{Start: start, Limit: 1000})
}

// GetAlertsSummary aggregates stored alerts into counts by severity and
// metric plus the five most recent entries.
func (m *Monitor) GetAlertsSummary(hours int) (*AlertsSummary, error) {
	alerts, err := m.GetAlertHistory(hours)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	summary := &AlertsSummary{
		BySeverity:   map[string]int{},
		ByMetric:     map[string]int{},
		RecentAlerts: []monitoring.Alert{},
	}
	for _, alert := range alerts {
		summary.Total++
		if alert.Acknowledged {
			summary.Acknowledged++
		} else {
			summary.Active++
		}
		summary.BySeverity[string(alert.Severity)]++
		summary.ByMetric[alert.MetricName]++
	}
	if len(alerts) > recentAlertLimit {
		summary.RecentAlerts = alerts[:recentAlertLimit]
	} else {
		summary.RecentAlerts = alerts
	}
	return summary, nil
}

// GetAlertCountsBySeverity returns active alert counts keyed by severity.
func (m *Monitor) GetAlertCountsBySeverity() (map[string]int, error) {
	active, err := m.GetActiveAlerts()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, alert := range active {
		counts[string(alert.Severity)]++
	}
	return counts, nil
}

// AcknowledgeAlert marks an alert acknowledged. The first call for an
// id returns true, every later call false.
func (m *Monitor) AcknowledgeAlert(id, by string) (bool, error) {
	return m.store.AcknowledgeAlert(id, by)
}
