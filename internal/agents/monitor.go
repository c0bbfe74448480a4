package agents

import (
	"sort"
	"sync"
	"time"

	"autoforge/internal/agent"
	"autoforge/internal/bus"
	"autoforge/internal/logging"
	"autoforge/internal/monitoring"
)

// monitorShutdownDeadline bounds how long Stop waits for the worker.
const monitorShutdownDeadline = 5 * time.Second

// monitoredTypes are the pipeline events the monitor observes.
var monitoredTypes = []bus.MessageType{
	bus.TypeTaskStarted,
	bus.TypeTaskCompleted,
	bus.TypeTaskFailed,
	bus.TypePRCreated,
	bus.TypePRApproved,
	bus.TypePRRejected,
}

// eventRecord is the minimal slice of a message the cache keeps.
type eventRecord struct {
	ID        string
	Type      bus.MessageType
	Timestamp time.Time
	TaskID    string
	PRNumber  int
	Duration  float64
	Error     string
	Payload   map[string]interface{}
}

// MonitorConfig tunes the collection worker.
type MonitorConfig struct {
	// CollectionInterval between metric derivations. Default 300s.
	CollectionInterval time.Duration
	// MetricsWindow bounds how far back cached events count. Default 24h.
	MetricsWindow time.Duration
	// Metrics enables specific metric names; empty enables the four
	// produced ones.
	Metrics []string
}

// Monitor observes pipeline events through bus taps and derives metrics
// on a background worker. The event cache is guarded by one mutex shared
// between the dispatch goroutine and the worker; everything durable goes
// through the learning store.
type Monitor struct {
	*agent.Base

	store *monitoring.LearningStore

	interval time.Duration
	window   time.Duration
	enabled  map[string]bool

	// mu guards the event cache, the cycle counter, and the scorer and
	// detector, which Reconfigure may swap between collection cycles.
	mu       sync.Mutex
	events   map[bus.MessageType][]eventRecord
	scorer   *monitoring.HealthScorer
	detector *monitoring.AnomalyDetector
	cycles   int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor wires the monitor. scorer and detector may be nil to
// disable health scoring or anomaly checks.
func NewMonitor(b *bus.MessageBus, store *monitoring.LearningStore,
	scorer *monitoring.HealthScorer, detector *monitoring.AnomalyDetector, cfg MonitorConfig) *Monitor {

	if cfg.CollectionInterval <= 0 {
		cfg.CollectionInterval = 300 * time.Second
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = 24 * time.Hour
	}
	metrics := cfg.Metrics
	if len(metrics) == 0 {
		metrics = []string{
			string(monitoring.MetricTaskSuccessRate),
			string(monitoring.MetricTaskErrorRate),
			string(monitoring.MetricAvgExecutionTime),
			string(monitoring.MetricPRApprovalRate),
		}
	}
	enabled := map[string]bool{}
	for _, name := range metrics {
		enabled[name] = true
	}

	m := &Monitor{
		Base:     agent.NewBase(MonitorID, b, logging.CategoryMonitor),
		store:    store,
		scorer:   scorer,
		detector: detector,
		interval: cfg.CollectionInterval,
		window:   cfg.MetricsWindow,
		enabled:  enabled,
		events:   map[bus.MessageType][]eventRecord{},
	}
	m.SetHandler(m.HandleMessage)
	return m
}

// Start subscribes the event taps and launches the worker.
func (m *Monitor) Start() error {
	if err := m.Base.Start(); err != nil {
		return err
	}
	if err := m.Bus().SubscribeEvents(m.ID(), m.handleTapped, monitoredTypes...); err != nil {
		m.Base.Stop()
		return agent.Categorize(agent.CategoryConfiguration, err)
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.worker(m.stopCh, m.doneCh)

	logging.MonitorDebug("worker started (interval=%s, window=%s)", m.interval, m.window)
	return nil
}

// Stop signals the worker and waits up to the shutdown deadline before
// abandoning it, then removes the subscriptions.
func (m *Monitor) Stop() error {
	if m.stopCh != nil {
		close(m.stopCh)
		select {
		case <-m.doneCh:
		case <-time.After(monitorShutdownDeadline):
			logging.MonitorWarn("worker did not stop within %s, abandoning", monitorShutdownDeadline)
		}
		m.stopCh = nil
	}
	m.Bus().UnsubscribeEvents(m.ID())
	return m.Base.Stop()
}

// HandleMessage records directed pipeline events; the tap path records
// everything else.
func (m *Monitor) HandleMessage(msg *bus.AgentMessage) error {
	for _, t := range monitoredTypes {
		if msg.Type == t {
			m.recordEvent(msg)
			return nil
		}
	}
	return nil
}

func (m *Monitor) handleTapped(msg *bus.AgentMessage) error {
	m.recordEvent(msg)
	return nil
}

// recordEvent appends a minimal record to the cache.
func (m *Monitor) recordEvent(msg *bus.AgentMessage) {
	rec := eventRecord{
		ID:        msg.ID,
		Type:      msg.Type,
		Timestamp: msg.Timestamp,
		TaskID:    msg.PayloadString("task_id"),
		PRNumber:  msg.PayloadInt("pr_number"),
		Duration:  msg.PayloadFloat("duration_seconds"),
		Error:     msg.PayloadString("error"),
		Payload:   msg.Payload,
	}
	if rec.Duration == 0 {
		rec.Duration = msg.PayloadFloat("duration")
	}

	m.mu.Lock()
	m.events[msg.Type] = append(m.events[msg.Type], rec)
	m.mu.Unlock()
}

// worker wakes every interval and runs one collection cycle. The sleep
// is cancellable so shutdown never waits out a full interval.
func (m *Monitor) worker(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case <-time.After(m.interval):
			m.Collect()
		}
	}
}

// Collect runs one metric derivation cycle: snapshot under the mutex,
// then derive, persist, score, and check thresholds outside it.
// Collector errors are logged and never stop the worker.
func (m *Monitor) Collect() {
	snapshot := m.snapshot()
	metrics := m.deriveMetrics(snapshot)

	m.mu.Lock()
	scorer, detector := m.scorer, m.detector
	m.mu.Unlock()

	for _, metric := range metrics {
		if err := m.store.RecordMetric(metric); err != nil {
			logging.MonitorError("metric persistence failed: %v",
				agent.Categorize(agent.CategoryCollector, err))
		}
	}

	values := map[string]float64{}
	for _, metric := range metrics {
		values[string(metric.Type)] = metric.Value
	}

	if scorer != nil && len(values) > 0 {
		score := scorer.Compute(values)
		if err := m.store.RecordHealthScore(&score); err != nil {
			logging.MonitorError("health persistence failed: %v",
				agent.Categorize(agent.CategoryCollector, err))
		}
	}

	if detector != nil {
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			alert := detector.CheckMetric(name, values[name])
			if alert == nil {
				continue
			}
			if err := m.store.RecordAlert(alert); err != nil {
				logging.MonitorError("alert persistence failed: %v",
					agent.Categorize(agent.CategoryCollector, err))
			}
		}
	}

	m.mu.Lock()
	m.cycles++
	m.mu.Unlock()
	logging.MonitorDebug("collection cycle done: %d metrics from %d event types", len(metrics), len(snapshot))
}

// Reconfigure swaps the scorer and detector. Config hot reload calls
// this between collection cycles; the next Collect uses the new pair.
func (m *Monitor) Reconfigure(scorer *monitoring.HealthScorer, detector *monitoring.AnomalyDetector) {
	m.mu.Lock()
	m.scorer = scorer
	m.detector = detector
	m.mu.Unlock()
	logging.Monitor("scorer and detector reconfigured")
}

// Cycles reports completed collection cycles.
func (m *Monitor) Cycles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

// snapshot prunes events outside the window and copies the rest.
func (m *Monitor) snapshot() map[bus.MessageType][]eventRecord {
	cutoff := time.Now().UTC().Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[bus.MessageType][]eventRecord, len(m.events))
	for t, records := range m.events {
		kept := records[:0]
		for _, rec := range records {
			if rec.Timestamp.After(cutoff) {
				kept = append(kept, rec)
			}
		}
		m.events[t] = kept
		copied := make([]eventRecord, len(kept))
		copy(copied, kept)
		out[t] = copied
	}
	return out
}

// deriveMetrics computes the enabled metrics from an event snapshot.
// Metrics whose denominator is zero are skipped, never emitted as zero.
// qa_score_average stays reserved until an external producer exists.
func (m *Monitor) deriveMetrics(snapshot map[bus.MessageType][]eventRecord) []*monitoring.Metric {
	var metrics []*monitoring.Metric
	completed := snapshot[bus.TypeTaskCompleted]
	failed := snapshot[bus.TypeTaskFailed]
	finished := len(completed) + len(failed)

	if m.enabled[string(monitoring.MetricTaskSuccessRate)] && finished > 0 {
		metrics = append(metrics, monitoring.NewMetric(
			monitoring.MetricTaskSuccessRate,
			float64(len(completed))/float64(finished),
			map[string]interface{}{"completed": len(completed), "failed": len(failed)},
		))
	}
	if m.enabled[string(monitoring.MetricTaskErrorRate)] && finished > 0 {
		metrics = append(metrics, monitoring.NewMetric(
			monitoring.MetricTaskErrorRate,
			float64(len(failed))/float64(finished),
			map[string]interface{}{"completed": len(completed), "failed": len(failed)},
		))
	}

	if m.enabled[string(monitoring.MetricAvgExecutionTime)] {
		durations := taskDurations(snapshot[bus.TypeTaskStarted], completed)
		if len(durations) > 0 {
			sum := 0.0
			for _, d := range durations {
				sum += d
			}
			metrics = append(metrics, monitoring.NewMetric(
				monitoring.MetricAvgExecutionTime,
				sum/float64(len(durations)),
				map[string]interface{}{"samples": len(durations)},
			))
		}
	}

	approved := len(snapshot[bus.TypePRApproved])
	rejected := len(snapshot[bus.TypePRRejected])
	if m.enabled[string(monitoring.MetricPRApprovalRate)] && approved+rejected > 0 {
		metrics = append(metrics, monitoring.NewMetric(
			monitoring.MetricPRApprovalRate,
			float64(approved)/float64(approved+rejected),
			map[string]interface{}{"approved": approved, "rejected": rejected},
		))
	}

	return metrics
}

// taskDurations extracts execution durations for completed tasks,
// preferring an explicit duration field and falling back to pairing the
// completion with its TASK_STARTED record.
func taskDurations(started, completed []eventRecord) []float64 {
	startedAt := make(map[string]time.Time, len(started))
	for _, rec := range started {
		if rec.TaskID != "" {
			startedAt[rec.TaskID] = rec.Timestamp
		}
	}
	var durations []float64
	for _, rec := range completed {
		if rec.Duration > 0 {
			durations = append(durations, rec.Duration)
			continue
		}
		if begin, ok := startedAt[rec.TaskID]; ok {
			if d := rec.Timestamp.Sub(begin).Seconds(); d >= 0 {
				durations = append(durations, d)
			}
		}
	}
	return durations
}

// EventCount reports cached events for one type.
func (m *Monitor) EventCount(t bus.MessageType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[t])
}
