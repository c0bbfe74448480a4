// Package monitoring derives metrics from observed pipeline events,
// scores overall health, detects threshold anomalies, and persists all
// of it to the learning store.
package monitoring

import (
	"time"

	"github.com/google/uuid"
)

// MetricType is the closed set of measurements the monitor produces.
type MetricType string

const (
	MetricTaskSuccessRate  MetricType = "task_success_rate"
	MetricTaskErrorRate    MetricType = "task_error_rate"
	MetricAvgExecutionTime MetricType = "average_execution_time"
	MetricPRApprovalRate   MetricType = "pr_approval_rate"

	// MetricQAScoreAverage is reserved for the external QA subsystem.
	// It is a valid type but nothing produces it yet.
	MetricQAScoreAverage MetricType = "qa_score_average"
)

// ValidMetricTypes lists every recognized metric type.
var ValidMetricTypes = map[MetricType]bool{
	MetricTaskSuccessRate:  true,
	MetricTaskErrorRate:    true,
	MetricAvgExecutionTime: true,
	MetricPRApprovalRate:   true,
	MetricQAScoreAverage:   true,
}

// MetricTypeOrder returns metric types in stable reporting order.
func MetricTypeOrder() []MetricType {
	return []MetricType{
		MetricTaskSuccessRate,
		MetricTaskErrorRate,
		MetricAvgExecutionTime,
		MetricPRApprovalRate,
		MetricQAScoreAverage,
	}
}

// Metric is a single measurement.
type Metric struct {
	ID        string                 `json:"id"`
	Type      MetricType             `json:"metric_type"`
	Value     float64                `json:"value"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// NewMetric stamps a measurement with a fresh id and the current time.
func NewMetric(t MetricType, value float64, context map[string]interface{}) *Metric {
	return &Metric{
		ID:        uuid.New().String(),
		Type:      t,
		Value:     value,
		Timestamp: time.Now().UTC(),
		Context:   context,
	}
}

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// HealthStatus buckets an overall score.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
)

// HealthScore is a computed snapshot of system health. Components hold
// each metric's contribution to the total.
type HealthScore struct {
	ID         string                 `json:"id"`
	Score      float64                `json:"score"`
	Status     HealthStatus           `json:"status"`
	Components map[string]float64     `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// AlertTypeThreshold is the only alert type the detector currently
// raises.
const AlertTypeThreshold = "threshold_exceeded"

// Alert records a fired anomaly. Alerts are append-only; acknowledgment
// mutates only the ack fields.
type Alert struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"alert_type"`
	MetricName     string                 `json:"metric_name"`
	Threshold      float64                `json:"threshold"`
	Actual         float64                `json:"actual"`
	Severity       Severity               `json:"severity"`
	Message        string                 `json:"message"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
}
