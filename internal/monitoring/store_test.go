package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LearningStore {
	t.Helper()
	store, err := NewLearningStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewLearningStoreCreatesFile(t *testing.T) {
	store := newTestStore(t)

	if got := filepath.Base(store.Path()); got != "learning.db" {
		t.Errorf("Path() base = %q, want learning.db", got)
	}
	if _, err := os.Stat(store.Path()); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestRecordAndQueryMetrics(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	metrics := []*Metric{
		{ID: "m-1", Type: MetricTaskSuccessRate, Value: 0.9, Timestamp: base},
		{ID: "m-2", Type: MetricTaskErrorRate, Value: 0.1, Timestamp: base.Add(time.Minute)},
		{ID: "m-3", Type: MetricTaskSuccessRate, Value: 0.95, Timestamp: base.Add(2 * time.Minute),
			Context: map[string]interface{}{"window_hours": 24}},
	}
	for _, m := range metrics {
		if err := store.RecordMetric(m); err != nil {
			t.Fatalf("Failed to record metric %s: %v", m.ID, err)
		}
	}

	all, err := store.QueryMetrics("", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("QueryMetrics failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d metrics, want 3", len(all))
	}
	for i, want := range []string{"m-3", "m-2", "m-1"} {
		if all[i].ID != want {
			t.Errorf("all[%d].ID = %q, want %q (newest first)", i, all[i].ID, want)
		}
	}
	if !all[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("all[0].Timestamp = %v, want %v", all[0].Timestamp, base.Add(2*time.Minute))
	}
	if got := all[0].Context["window_hours"]; got != float64(24) {
		t.Errorf("context round-trip = %v (%T), want 24", got, got)
	}

	successOnly, err := store.QueryMetrics(MetricTaskSuccessRate, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("QueryMetrics by type failed: %v", err)
	}
	if len(successOnly) != 2 || successOnly[0].ID != "m-3" || successOnly[1].ID != "m-1" {
		t.Errorf("type filter returned %+v, want [m-3 m-1]", successOnly)
	}

	late, err := store.QueryMetrics("", base.Add(90*time.Second), time.Time{}, 0)
	if err != nil {
		t.Fatalf("QueryMetrics with start failed: %v", err)
	}
	if len(late) != 1 || late[0].ID != "m-3" {
		t.Errorf("start filter returned %+v, want [m-3]", late)
	}

	early, err := store.QueryMetrics("", time.Time{}, base.Add(30*time.Second), 0)
	if err != nil {
		t.Fatalf("QueryMetrics with end failed: %v", err)
	}
	if len(early) != 1 || early[0].ID != "m-1" {
		t.Errorf("end filter returned %+v, want [m-1]", early)
	}

	limited, err := store.QueryMetrics("", time.Time{}, time.Time{}, 1)
	if err != nil {
		t.Fatalf("QueryMetrics with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "m-3" {
		t.Errorf("limit returned %+v, want just [m-3]", limited)
	}
}

func TestQueryMetricsEmptyStore(t *testing.T) {
	store := newTestStore(t)

	metrics, err := store.QueryMetrics(MetricTaskSuccessRate, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("QueryMetrics failed: %v", err)
	}
	if len(metrics) != 0 {
		t.Errorf("got %d metrics from empty store, want 0", len(metrics))
	}
}

func TestRecordMetricAssignsID(t *testing.T) {
	store := newTestStore(t)

	m := &Metric{Type: MetricTaskSuccessRate, Value: 1.0}
	if err := store.RecordMetric(m); err != nil {
		t.Fatalf("Failed to record metric: %v", err)
	}
	if !strings.HasPrefix(m.ID, "metric-") {
		t.Errorf("auto-assigned ID = %q, want metric- prefix", m.ID)
	}
	if m.Timestamp.IsZero() {
		t.Error("timestamp was not stamped")
	}
}

func TestRecordAndQueryHealthScores(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	scores := []*HealthScore{
		{ID: "h-1", Score: 72.5, Status: StatusDegraded,
			Components: map[string]float64{"task_success_rate": 40.0, "task_error_rate": 32.5},
			Timestamp:  base},
		{ID: "h-2", Score: 91.0, Status: StatusHealthy,
			Components: map[string]float64{"task_success_rate": 91.0},
			Timestamp:  base.Add(time.Hour)},
	}
	for _, h := range scores {
		if err := store.RecordHealthScore(h); err != nil {
			t.Fatalf("Failed to record health score %s: %v", h.ID, err)
		}
	}

	got, err := store.QueryHealthScores(time.Time{}, 0)
	if err != nil {
		t.Fatalf("QueryHealthScores failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "h-2" || got[1].ID != "h-1" {
		t.Fatalf("got %+v, want [h-2 h-1]", got)
	}
	if got[1].Status != StatusDegraded || got[1].Score != 72.5 {
		t.Errorf("h-1 round-trip = %v/%v, want degraded/72.5", got[1].Status, got[1].Score)
	}
	if got[1].Components["task_error_rate"] != 32.5 {
		t.Errorf("components round-trip = %v", got[1].Components)
	}

	recent, err := store.QueryHealthScores(base.Add(30*time.Minute), 0)
	if err != nil {
		t.Fatalf("QueryHealthScores with start failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "h-2" {
		t.Errorf("start filter returned %+v, want [h-2]", recent)
	}
}

func TestRecordAndQueryAlerts(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	alerts := []*Alert{
		{ID: "a-1", Type: AlertTypeThreshold, MetricName: "task_success_rate",
			Threshold: 0.9, Actual: 0.7, Severity: SeverityWarning,
			Message:   "task_success_rate is below its minimum threshold: actual 0.7000, threshold 0.9000",
			Context:   map[string]interface{}{"direction": "below its minimum"},
			Timestamp: base},
		{ID: "a-2", Type: AlertTypeThreshold, MetricName: "average_execution_time",
			Threshold: 300, Actual: 450, Severity: SeverityCritical,
			Message:   "average_execution_time is above its maximum threshold: actual 450.0000, threshold 300.0000",
			Timestamp: base.Add(time.Minute)},
		{ID: "a-3", Type: AlertTypeThreshold, MetricName: "task_success_rate",
			Threshold: 0.9, Actual: 0.6, Severity: SeverityWarning,
			Message:   "task_success_rate is below its minimum threshold: actual 0.6000, threshold 0.9000",
			Timestamp: base.Add(2 * time.Minute)},
	}
	for _, a := range alerts {
		if err := store.RecordAlert(a); err != nil {
			t.Fatalf("Failed to record alert %s: %v", a.ID, err)
		}
	}

	all, err := store.QueryAlerts(AlertQuery{})
	if err != nil {
		t.Fatalf("QueryAlerts failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a-3" || all[2].ID != "a-1" {
		t.Fatalf("got %+v, want newest first [a-3 a-2 a-1]", all)
	}
	if got := all[2].Context["direction"]; got != "below its minimum" {
		t.Errorf("context round-trip = %v", got)
	}

	critical, err := store.QueryAlerts(AlertQuery{Severity: SeverityCritical})
	if err != nil {
		t.Fatalf("QueryAlerts by severity failed: %v", err)
	}
	if len(critical) != 1 || critical[0].ID != "a-2" {
		t.Fatalf("severity filter returned %+v, want [a-2]", critical)
	}
	if critical[0].Threshold != 300 || critical[0].Actual != 450 {
		t.Errorf("a-2 round-trip = %+v", critical[0])
	}

	if ok, err := store.AcknowledgeAlert("a-3", "operator"); err != nil || !ok {
		t.Fatalf("AcknowledgeAlert = (%v, %v), want (true, nil)", ok, err)
	}

	unacked := false
	open, err := store.QueryAlerts(AlertQuery{Acknowledged: &unacked})
	if err != nil {
		t.Fatalf("QueryAlerts unacknowledged failed: %v", err)
	}
	if len(open) != 2 || open[0].ID != "a-2" || open[1].ID != "a-1" {
		t.Errorf("unacknowledged filter returned %+v, want [a-2 a-1]", open)
	}

	acked := true
	closed, err := store.QueryAlerts(AlertQuery{Acknowledged: &acked})
	if err != nil {
		t.Fatalf("QueryAlerts acknowledged failed: %v", err)
	}
	if len(closed) != 1 || closed[0].ID != "a-3" {
		t.Fatalf("acknowledged filter returned %+v, want [a-3]", closed)
	}
	if !closed[0].Acknowledged || closed[0].AcknowledgedBy != "operator" || closed[0].AcknowledgedAt == nil {
		t.Errorf("ack fields not persisted: %+v", closed[0])
	}

	limited, err := store.QueryAlerts(AlertQuery{Limit: 2})
	if err != nil {
		t.Fatalf("QueryAlerts with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit returned %d alerts, want 2", len(limited))
	}
}

func TestAcknowledgeAlertOnlyFlipsOnce(t *testing.T) {
	store := newTestStore(t)

	a := &Alert{ID: "a-1", Type: AlertTypeThreshold, MetricName: "task_success_rate",
		Threshold: 0.9, Actual: 0.5, Severity: SeverityWarning, Message: "below threshold"}
	if err := store.RecordAlert(a); err != nil {
		t.Fatalf("Failed to record alert: %v", err)
	}

	if ok, err := store.AcknowledgeAlert("a-1", "moderator"); err != nil || !ok {
		t.Fatalf("first acknowledge = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := store.AcknowledgeAlert("a-1", "moderator"); err != nil || ok {
		t.Fatalf("second acknowledge = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := store.AcknowledgeAlert("missing", "moderator"); err != nil || ok {
		t.Fatalf("unknown id acknowledge = (%v, %v), want (false, nil)", ok, err)
	}
}
