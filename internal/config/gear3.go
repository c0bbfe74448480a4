package config

import (
	"fmt"
	"strings"
	"time"
)

// Gear3Config holds the gear-3 subsystems. Gears 1 and 2 ignore it.
type Gear3Config struct {
	EverThinker EverThinkerConfig `yaml:"ever_thinker"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// EverThinkerConfig configures the improvement cycle scheduler.
type EverThinkerConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxCycles int  `yaml:"max_cycles"`
}

// MonitoringConfig configures the monitor agent's collection daemon.
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled"`

	// CollectionInterval is the collector wake period in seconds.
	CollectionInterval int `yaml:"collection_interval"`

	// MetricsWindowHours bounds how far back derivations look.
	MetricsWindowHours int `yaml:"metrics_window_hours"`

	// Metrics lists the metric names to derive each cycle.
	Metrics []string `yaml:"metrics"`

	HealthScore HealthScoreConfig `yaml:"health_score"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

// HealthScoreConfig configures health scoring.
type HealthScoreConfig struct {
	Enabled bool `yaml:"enabled"`

	// Weights overrides the scorer's default metric weights. Empty means
	// use the scorer defaults; a non-empty map must sum to 1.0 +/- 0.01.
	Weights map[string]float64 `yaml:"weights"`

	Thresholds HealthThresholds `yaml:"thresholds"`
}

// HealthThresholds are the status cut lines.
type HealthThresholds struct {
	Healthy  float64 `yaml:"healthy"`
	Degraded float64 `yaml:"degraded"`
}

// AlertsConfig configures threshold alerting.
type AlertsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Thresholds maps "<metric>_min" / "<metric>_max" keys to bounds.
	Thresholds map[string]float64 `yaml:"thresholds"`

	// SeverityLevels maps metric name to "warning" or "critical".
	SeverityLevels map[string]string `yaml:"severity_levels"`

	SuppressionWindowMinutes    int `yaml:"suppression_window_minutes"`
	SustainedViolationsRequired int `yaml:"sustained_violations_required"`
}

// DefaultGear3Config returns gear-3 defaults: everything off, standard
// intervals and thresholds ready to switch on.
func DefaultGear3Config() Gear3Config {
	return Gear3Config{
		EverThinker: EverThinkerConfig{
			Enabled:   false,
			MaxCycles: 5,
		},
		Monitoring: MonitoringConfig{
			Enabled:            false,
			CollectionInterval: 300,
			MetricsWindowHours: 24,
			Metrics: []string{
				"task_success_rate",
				"task_error_rate",
				"average_execution_time",
				"pr_approval_rate",
			},
			HealthScore: HealthScoreConfig{
				Enabled: true,
				Thresholds: HealthThresholds{
					Healthy:  80,
					Degraded: 60,
				},
			},
			Alerts: AlertsConfig{
				Enabled:                     true,
				SuppressionWindowMinutes:    15,
				SustainedViolationsRequired: 2,
			},
		},
	}
}

// Interval returns the collection interval as a duration.
func (m *MonitoringConfig) Interval() time.Duration {
	if m.CollectionInterval <= 0 {
		return 300 * time.Second
	}
	return time.Duration(m.CollectionInterval) * time.Second
}

// Window returns the metrics window as a duration.
func (m *MonitoringConfig) Window() time.Duration {
	if m.MetricsWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(m.MetricsWindowHours) * time.Hour
}

// Suppression returns the alert suppression window as a duration.
func (a *AlertsConfig) Suppression() time.Duration {
	if a.SuppressionWindowMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(a.SuppressionWindowMinutes) * time.Minute
}

func (g *Gear3Config) validate() error {
	if g.EverThinker.Enabled && g.EverThinker.MaxCycles < 1 {
		return &ValidationError{Field: "gear3.ever_thinker.max_cycles", Reason: fmt.Sprintf("must be >= 1 (got %d)", g.EverThinker.MaxCycles)}
	}
	m := &g.Monitoring
	if !m.Enabled {
		return nil
	}
	if m.CollectionInterval < 1 {
		return &ValidationError{Field: "gear3.monitoring.collection_interval", Reason: fmt.Sprintf("must be >= 1 second (got %d)", m.CollectionInterval)}
	}
	if m.MetricsWindowHours < 1 {
		return &ValidationError{Field: "gear3.monitoring.metrics_window_hours", Reason: fmt.Sprintf("must be >= 1 hour (got %d)", m.MetricsWindowHours)}
	}
	for _, name := range m.Metrics {
		if !metricNames[name] {
			return &ValidationError{Field: "gear3.monitoring.metrics", Reason: fmt.Sprintf("unknown metric %q", name)}
		}
	}
	if err := m.HealthScore.validate(); err != nil {
		return err
	}
	return m.Alerts.validate()
}

func (h *HealthScoreConfig) validate() error {
	if !h.Enabled {
		return nil
	}
	if len(h.Weights) > 0 {
		sum := 0.0
		for name, w := range h.Weights {
			if !metricNames[name] {
				return &ValidationError{Field: "gear3.monitoring.health_score.weights", Reason: fmt.Sprintf("unknown metric %q", name)}
			}
			if w < 0 || w > 1 {
				return &ValidationError{Field: "gear3.monitoring.health_score.weights." + name, Reason: fmt.Sprintf("must be in [0,1] (got %v)", w)}
			}
			sum += w
		}
		if sum < 0.99 || sum > 1.01 {
			return &ValidationError{Field: "gear3.monitoring.health_score.weights", Reason: fmt.Sprintf("must sum to 1.0 +/- 0.01 (got %v)", sum)}
		}
	}
	t := h.Thresholds
	if t.Degraded < 0 || t.Healthy > 100 || t.Degraded >= t.Healthy {
		return &ValidationError{Field: "gear3.monitoring.health_score.thresholds", Reason: fmt.Sprintf("need 0 <= degraded < healthy <= 100 (got degraded=%v healthy=%v)", t.Degraded, t.Healthy)}
	}
	return nil
}

func (a *AlertsConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if a.SuppressionWindowMinutes < 0 {
		return &ValidationError{Field: "gear3.monitoring.alerts.suppression_window_minutes", Reason: fmt.Sprintf("must be >= 0 (got %d)", a.SuppressionWindowMinutes)}
	}
	if a.SustainedViolationsRequired < 1 {
		return &ValidationError{Field: "gear3.monitoring.alerts.sustained_violations_required", Reason: fmt.Sprintf("must be >= 1 (got %d)", a.SustainedViolationsRequired)}
	}
	for key := range a.Thresholds {
		metric, ok := parseThresholdKey(key)
		if !ok || !metricNames[metric] {
			return &ValidationError{Field: "gear3.monitoring.alerts.thresholds", Reason: fmt.Sprintf("key %q must be <metric>_min or <metric>_max", key)}
		}
	}
	for metric, severity := range a.SeverityLevels {
		if !metricNames[metric] {
			return &ValidationError{Field: "gear3.monitoring.alerts.severity_levels", Reason: fmt.Sprintf("unknown metric %q", metric)}
		}
		if severity != "warning" && severity != "critical" {
			return &ValidationError{Field: "gear3.monitoring.alerts.severity_levels." + metric, Reason: fmt.Sprintf("must be warning or critical (got %q)", severity)}
		}
	}
	return nil
}

// parseThresholdKey splits "<metric>_min" / "<metric>_max" into the metric
// name. Returns false for any other shape.
func parseThresholdKey(key string) (string, bool) {
	switch {
	case strings.HasSuffix(key, "_min"):
		return strings.TrimSuffix(key, "_min"), true
	case strings.HasSuffix(key, "_max"):
		return strings.TrimSuffix(key, "_max"), true
	default:
		return "", false
	}
}
