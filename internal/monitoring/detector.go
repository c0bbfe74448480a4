package monitoring

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"autoforge/internal/logging"
)

// Detector defaults.
const (
	DefaultSuppressionWindow   = 15 * time.Minute
	DefaultSustainedViolations = 2
)

// DetectorConfig parameterizes an AnomalyDetector. Threshold keys take
// the form "<metric>_min" or "<metric>_max".
type DetectorConfig struct {
	Thresholds          map[string]float64
	Severities          map[string]Severity
	SuppressionWindow   time.Duration
	SustainedViolations int
}

// AnomalyDetector raises alerts when a metric violates its threshold on
// enough consecutive checks, with a per-metric suppression window to
// stop alert storms during extended violations.
type AnomalyDetector struct {
	mu sync.Mutex

	minThresholds map[string]float64
	maxThresholds map[string]float64
	severities    map[string]Severity
	window        time.Duration
	sustained     int

	// counters tracks consecutive same-direction violations per metric;
	// suppression remembers the last alert per metric for the window's
	// duration.
	counters   map[string]int
	directions map[string]string

	suppression *gocache.Cache
}

// NewAnomalyDetector builds a detector. Threshold keys with neither a
// _min nor a _max suffix are rejected.
func NewAnomalyDetector(cfg DetectorConfig) (*AnomalyDetector, error) {
	d := &AnomalyDetector{
		minThresholds: map[string]float64{},
		maxThresholds: map[string]float64{},
		severities:    map[string]Severity{},
		window:        cfg.SuppressionWindow,
		sustained:     cfg.SustainedViolations,
		counters:      map[string]int{},
		directions:    map[string]string{},
	}
	if d.window <= 0 {
		d.window = DefaultSuppressionWindow
	}
	if d.sustained <= 0 {
		d.sustained = DefaultSustainedViolations
	}

	for key, value := range cfg.Thresholds {
		switch {
		case strings.HasSuffix(key, "_min"):
			d.minThresholds[strings.TrimSuffix(key, "_min")] = value
		case strings.HasSuffix(key, "_max"):
			d.maxThresholds[strings.TrimSuffix(key, "_max")] = value
		default:
			return nil, fmt.Errorf("threshold key %q needs a _min or _max suffix", key)
		}
	}
	for metric, sev := range cfg.Severities {
		if sev != SeverityWarning && sev != SeverityCritical {
			return nil, fmt.Errorf("severity for %s must be warning or critical, got %q", metric, sev)
		}
		d.severities[metric] = sev
	}

	d.suppression = gocache.New(d.window, 2*d.window)
	return d, nil
}

// CheckMetric evaluates one observation. It returns a non-nil Alert
// only when the metric is configured, the violation is sustained, and
// no alert for the metric fired within the suppression window.
func (d *AnomalyDetector) CheckMetric(name string, value float64) *Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	minThreshold, hasMin := d.minThresholds[name]
	maxThreshold, hasMax := d.maxThresholds[name]
	if !hasMin && !hasMax {
		return nil
	}

	var violated bool
	var direction string
	var threshold float64
	switch {
	case hasMin && value < minThreshold:
		violated, direction, threshold = true, "below its minimum", minThreshold
	case hasMax && value > maxThreshold:
		violated, direction, threshold = true, "above its maximum", maxThreshold
	}
	if !violated {
		d.counters[name] = 0
		delete(d.directions, name)
		return nil
	}

	// A flip between the minimum and maximum bound starts a new streak.
	if d.directions[name] != direction {
		d.counters[name] = 0
		d.directions[name] = direction
	}
	d.counters[name]++
	if d.counters[name] < d.sustained {
		logging.AnomalyDebug("%s violation %d/%d (value=%.4f), holding", name, d.counters[name], d.sustained, value)
		return nil
	}

	if _, suppressed := d.suppression.Get(name); suppressed {
		logging.AnomalyDebug("%s still violating (value=%.4f) but suppressed", name, value)
		return nil
	}

	alert := &Alert{
		ID:         uuid.New().String(),
		Type:       AlertTypeThreshold,
		MetricName: name,
		Threshold:  threshold,
		Actual:     value,
		Severity:   d.severityFor(name),
		Message: fmt.Sprintf("%s is %s threshold: actual %.4f, threshold %.4f",
			name, direction, value, threshold),
		Context: map[string]interface{}{
			"consecutive_violations": d.counters[name],
			"direction":              direction,
		},
		Timestamp: time.Now().UTC(),
	}
	d.suppression.Set(name, alert.Timestamp, gocache.DefaultExpiration)
	logging.AnomalyDebug("alert raised for %s: %s", name, alert.Message)
	return alert
}

func (d *AnomalyDetector) severityFor(name string) Severity {
	if sev, ok := d.severities[name]; ok {
		return sev
	}
	return SeverityWarning
}

// ViolationCount exposes the current consecutive counter for a metric.
func (d *AnomalyDetector) ViolationCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters[name]
}
