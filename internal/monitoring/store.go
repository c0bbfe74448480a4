package monitoring

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autoforge/internal/logging"
)

// LearningStore persists metrics, health scores, and alerts to SQLite
// so dashboards and later runs can learn from execution history.
type LearningStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// AlertQuery filters QueryAlerts. Zero times and empty fields are
// ignored; a nil Acknowledged matches both states.
type AlertQuery struct {
	Start        time.Time
	End          time.Time
	Acknowledged *bool
	Severity     Severity
	Limit        int
}

const defaultQueryLimit = 100

// NewLearningStore creates or opens the learning database under dir.
func NewLearningStore(dir string) (*LearningStore, error) {
	dbPath := filepath.Join(dir, "learning.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &LearningStore{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *LearningStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *LearningStore) Path() string {
	return s.dbPath
}

func (s *LearningStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metrics (
		id TEXT PRIMARY KEY,
		metric_type TEXT NOT NULL,
		value REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		context_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_type ON metrics(metric_type);
	CREATE INDEX IF NOT EXISTS idx_metrics_time ON metrics(timestamp);

	CREATE TABLE IF NOT EXISTS health_scores (
		id TEXT PRIMARY KEY,
		score REAL NOT NULL,
		status TEXT NOT NULL,
		components_json TEXT,
		timestamp DATETIME NOT NULL,
		context_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_health_time ON health_scores(timestamp);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		threshold REAL NOT NULL,
		actual REAL NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		context_json TEXT,
		timestamp DATETIME NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		acknowledged_by TEXT,
		acknowledged_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_metric ON alerts(metric_name);
	CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordMetric persists one measurement.
func (s *LearningStore) RecordMetric(m *Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = fmt.Sprintf("metric-%d", time.Now().UnixNano())
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	contextJSON, _ := json.Marshal(m.Context)

	_, err := s.db.Exec(`
		INSERT INTO metrics (id, metric_type, value, timestamp, context_json)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, string(m.Type), m.Value, m.Timestamp, contextJSON)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// RecordHealthScore persists one health snapshot.
func (s *LearningStore) RecordHealthScore(h *HealthScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		h.ID = fmt.Sprintf("health-%d", time.Now().UnixNano())
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	componentsJSON, _ := json.Marshal(h.Components)
	contextJSON, _ := json.Marshal(h.Context)

	_, err := s.db.Exec(`
		INSERT INTO health_scores (id, score, status, components_json, timestamp, context_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.ID, h.Score, string(h.Status), componentsJSON, h.Timestamp, contextJSON)
	if err != nil {
		return fmt.Errorf("failed to record health score: %w", err)
	}
	return nil
}

// RecordAlert persists one fired alert.
func (s *LearningStore) RecordAlert(a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = fmt.Sprintf("alert-%d", time.Now().UnixNano())
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	contextJSON, _ := json.Marshal(a.Context)

	_, err := s.db.Exec(`
		INSERT INTO alerts (id, alert_type, metric_name, threshold, actual, severity,
			message, context_json, timestamp, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, a.ID, a.Type, a.MetricName, a.Threshold, a.Actual, string(a.Severity),
		a.Message, contextJSON, a.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// AcknowledgeAlert marks an alert acknowledged. It returns true only for
// the call that flips the flag; later calls for the same id return
// false.
func (s *LearningStore) AcknowledgeAlert(id, by string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND acknowledged = 0
	`, by, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		logging.StoreDebug("alert %s acknowledged by %s", id, by)
	}
	return affected > 0, nil
}

// QueryMetrics returns metrics newest first, optionally filtered by
// type and time range.
func (s *LearningStore) QueryMetrics(metricType MetricType, start, end time.Time, limit int) ([]Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query := `SELECT id, metric_type, value, timestamp, context_json FROM metrics WHERE 1=1`
	var args []interface{}
	if metricType != "" {
		query += ` AND metric_type = ?`
		args = append(args, string(metricType))
	}
	if !start.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, start)
	}
	if !end.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []Metric
	for rows.Next() {
		var m Metric
		var metricTypeStr string
		var contextJSON sql.NullString
		if err := rows.Scan(&m.ID, &metricTypeStr, &m.Value, &m.Timestamp, &contextJSON); err != nil {
			continue
		}
		m.Type = MetricType(metricTypeStr)
		if contextJSON.Valid {
			json.Unmarshal([]byte(contextJSON.String), &m.Context)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// QueryHealthScores returns snapshots newest first.
func (s *LearningStore) QueryHealthScores(start time.Time, limit int) ([]HealthScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query := `SELECT id, score, status, components_json, timestamp, context_json FROM health_scores WHERE 1=1`
	var args []interface{}
	if !start.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, start)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []HealthScore
	for rows.Next() {
		var h HealthScore
		var statusStr string
		var componentsJSON, contextJSON sql.NullString
		if err := rows.Scan(&h.ID, &h.Score, &statusStr, &componentsJSON, &h.Timestamp, &contextJSON); err != nil {
			continue
		}
		h.Status = HealthStatus(statusStr)
		if componentsJSON.Valid {
			json.Unmarshal([]byte(componentsJSON.String), &h.Components)
		}
		if contextJSON.Valid {
			json.Unmarshal([]byte(contextJSON.String), &h.Context)
		}
		scores = append(scores, h)
	}
	return scores, rows.Err()
}

// QueryAlerts returns alerts newest first, filtered by q.
func (s *LearningStore) QueryAlerts(q AlertQuery) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query := `SELECT id, alert_type, metric_name, threshold, actual, severity, message,
		context_json, timestamp, acknowledged, acknowledged_by, acknowledged_at
		FROM alerts WHERE 1=1`
	var args []interface{}
	if !q.Start.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.Start)
	}
	if !q.End.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.End)
	}
	if q.Acknowledged != nil {
		query += ` AND acknowledged = ?`
		if *q.Acknowledged {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(q.Severity))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var severityStr string
		var contextJSON, ackBy sql.NullString
		var acked int
		var ackAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Type, &a.MetricName, &a.Threshold, &a.Actual,
			&severityStr, &a.Message, &contextJSON, &a.Timestamp, &acked, &ackBy, &ackAt); err != nil {
			continue
		}
		a.Severity = Severity(severityStr)
		a.Acknowledged = acked == 1
		if contextJSON.Valid {
			json.Unmarshal([]byte(contextJSON.String), &a.Context)
		}
		if ackBy.Valid {
			a.AcknowledgedBy = ackBy.String
		}
		if ackAt.Valid {
			t := ackAt.Time
			a.AcknowledgedAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
