// Package orchestrator assembles the bus, the stores, and the agent set
// for a configured gear, then drives a project to a terminal phase.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"autoforge/internal/agent"
	"autoforge/internal/agents"
	"autoforge/internal/backend"
	"autoforge/internal/bus"
	"autoforge/internal/config"
	"autoforge/internal/gitops"
	"autoforge/internal/logging"
	"autoforge/internal/monitoring"
	"autoforge/internal/project"
	"autoforge/internal/review"
)

// orchestratorID is the sender id on startup failure broadcasts.
const orchestratorID = "orchestrator"

// Orchestrator owns the wiring for one project run: the message bus,
// the project store, and the gear-selected agents in registration order.
type Orchestrator struct {
	cfg   *config.Config
	bus   *bus.MessageBus
	store *project.FileStore
	state *project.State

	moderator   *agents.Moderator
	techlead    *agents.TechLead
	monitor     *agents.Monitor
	everThinker *agents.EverThinker

	learning *monitoring.LearningStore

	// watcher feeds edited alert thresholds to the monitor between
	// collection cycles; nil when the config did not come from a file.
	watcher *config.Watcher

	registry *agent.Registry
}

// New builds an orchestrator around a fresh project for the requirement.
func New(cfg *config.Config, requirement string) (*Orchestrator, error) {
	if requirement == "" {
		return nil, agent.Categorize(agent.CategoryConfiguration,
			errors.New("requirement text is empty"))
	}
	store, err := project.NewFileStore(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open project store: %w", err)
	}
	return build(cfg, store, project.NewState(requirement))
}

// Resume builds an orchestrator around a previously persisted project.
func Resume(cfg *config.Config, projectID string) (*Orchestrator, error) {
	store, err := project.NewFileStore(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open project store: %w", err)
	}
	state, err := store.LoadProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	return build(cfg, store, state)
}

// build wires collaborators and agents for the configured gear.
// Construction errors are configuration errors: nothing has started yet
// and nothing needs tearing down besides the learning store.
func build(cfg *config.Config, store *project.FileStore, state *project.State) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, agent.Categorize(agent.CategoryConfiguration, err)
	}

	o := &Orchestrator{
		cfg:      cfg,
		bus:      bus.New(),
		store:    store,
		state:    state,
		registry: agent.NewRegistry(),
	}

	driver, err := gitops.NewCLIDriver(cfg.Git.WorkDir, cfg.Git.Remote, cfg.Git.BaseBranch,
		filepath.Join(cfg.ProjectRoot, "gitops"))
	if err != nil {
		return nil, agent.Categorize(agent.CategoryConfiguration,
			fmt.Errorf("git driver construction failed: %w", err))
	}
	if err := driver.EnsureRepo(context.Background()); err != nil {
		return nil, agent.Categorize(agent.CategoryConfiguration,
			fmt.Errorf("git repository preparation failed: %w", err))
	}

	var be backend.Backend
	if cfg.Backend.Command != "" {
		be, err = backend.NewCommandBackend(cfg.Backend.Command, cfg.BackendTimeout())
		if err != nil {
			return nil, agent.Categorize(agent.CategoryConfiguration,
				fmt.Errorf("backend construction failed: %w", err))
		}
	} else {
		be = backend.NewScaffoldBackend()
	}

	var reviewer review.Reviewer
	if cfg.Gear >= 2 {
		reviewer = review.NewPRReviewer(cfg.Review.ApprovalThreshold, cfg.Review.CriteriaDefaults)
	} else {
		reviewer = review.PassThroughReviewer{}
	}

	maxCycles := 0
	if cfg.Gear >= 3 {
		maxCycles = cfg.Gear3.EverThinker.MaxCycles
	}
	o.moderator = agents.NewModerator(o.bus, state, store, project.NewHeuristicDecomposer(), reviewer,
		agents.ModeratorConfig{
			MaxIterations:        cfg.MaxIterations,
			MaxImprovementCycles: maxCycles,
		})
	o.techlead = agents.NewTechLead(o.bus, state, store, be, driver)

	if err := o.registry.Register(o.moderator); err != nil {
		return nil, err
	}
	if err := o.registry.Register(o.techlead); err != nil {
		return nil, err
	}

	if cfg.Gear >= 3 && cfg.Gear3.Monitoring.Enabled {
		if err := o.buildMonitor(); err != nil {
			return nil, err
		}
	}
	if cfg.Gear >= 3 && cfg.Gear3.EverThinker.Enabled {
		o.everThinker = agents.NewEverThinker(o.bus, o.moderator)
		if err := o.registry.Register(o.everThinker); err != nil {
			return nil, err
		}
	}

	logging.Orchestrator("orchestrator built: gear=%d agents=%d project=%s",
		cfg.Gear, len(o.registry.IDs()), state.ID)
	return o, nil
}

// buildMonitor constructs the learning store, the optional scorer and
// detector, and the monitor agent from the gear-3 section. When the
// config came from a file, a watcher feeds edits back to the monitor.
func (o *Orchestrator) buildMonitor() error {
	mc := o.cfg.Gear3.Monitoring

	learning, err := monitoring.NewLearningStore(filepath.Join(o.cfg.ProjectRoot, "learning"))
	if err != nil {
		return agent.Categorize(agent.CategoryConfiguration,
			fmt.Errorf("learning store construction failed: %w", err))
	}
	o.learning = learning

	scorer, detector, err := monitorPair(mc)
	if err != nil {
		return agent.Categorize(agent.CategoryConfiguration, err)
	}

	o.monitor = agents.NewMonitor(o.bus, learning, scorer, detector, agents.MonitorConfig{
		CollectionInterval: mc.Interval(),
		MetricsWindow:      mc.Window(),
		Metrics:            mc.Metrics,
	})
	if err := o.registry.Register(o.monitor); err != nil {
		return err
	}

	if o.cfg.Path != "" {
		watcher, werr := config.NewWatcher(o.cfg.Path, o.applyMonitoringReload)
		if werr != nil {
			// Hot reload is a convenience; the run proceeds without it.
			logging.OrchestratorError("config watcher unavailable: %v", werr)
			return nil
		}
		o.watcher = watcher
	}
	return nil
}

// monitorPair builds the scorer and detector from a monitoring section.
// Either may come back nil when its subsystem is disabled.
func monitorPair(mc config.MonitoringConfig) (*monitoring.HealthScorer, *monitoring.AnomalyDetector, error) {
	var scorer *monitoring.HealthScorer
	if mc.HealthScore.Enabled {
		s, err := monitoring.NewHealthScorer(monitoring.ScorerConfig{
			Weights:           mc.HealthScore.Weights,
			HealthyThreshold:  mc.HealthScore.Thresholds.Healthy,
			DegradedThreshold: mc.HealthScore.Thresholds.Degraded,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("health scorer construction failed: %w", err)
		}
		scorer = s
	}

	var detector *monitoring.AnomalyDetector
	if mc.Alerts.Enabled {
		severities := make(map[string]monitoring.Severity, len(mc.Alerts.SeverityLevels))
		for metric, level := range mc.Alerts.SeverityLevels {
			severities[metric] = monitoring.Severity(level)
		}
		d, err := monitoring.NewAnomalyDetector(monitoring.DetectorConfig{
			Thresholds:          mc.Alerts.Thresholds,
			Severities:          severities,
			SuppressionWindow:   mc.Alerts.Suppression(),
			SustainedViolations: mc.Alerts.SustainedViolationsRequired,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("anomaly detector construction failed: %w", err)
		}
		detector = d
	}
	return scorer, detector, nil
}

// applyMonitoringReload rebuilds the scorer and detector from a reloaded
// config and hands them to the monitor. The watcher already validated the
// file; a failed rebuild keeps the previous pair.
func (o *Orchestrator) applyMonitoringReload(cfg *config.Config) {
	if o.monitor == nil || cfg.Gear < 3 || !cfg.Gear3.Monitoring.Enabled {
		return
	}
	scorer, detector, err := monitorPair(cfg.Gear3.Monitoring)
	if err != nil {
		logging.OrchestratorError("reloaded monitoring config rejected: %v", err)
		return
	}
	o.monitor.Reconfigure(scorer, detector)
	logging.Orchestrator("monitoring thresholds reloaded from %s", cfg.Path)
}

// Start brings every registered agent up in registration order. The
// first failure broadcasts AGENT_ERROR, stops whatever already started,
// and aborts: a partially started system never runs.
func (o *Orchestrator) Start() error {
	for _, id := range o.registry.IDs() {
		a, ok := o.registry.Get(id)
		if !ok {
			continue
		}
		if err := a.Start(); err != nil {
			err = fmt.Errorf("agent %s failed to start: %w", id, err)
			logging.OrchestratorError("startup aborted: %v", err)
			o.broadcastStartupFailure(id, err)
			if serr := o.registry.StopAll(); serr != nil {
				logging.OrchestratorError("partial startup teardown: %v", serr)
			}
			return agent.Categorize(agent.CategoryConfiguration, err)
		}
		logging.Orchestrator("agent %s started", id)
	}
	if o.watcher != nil {
		if err := o.watcher.Start(context.Background()); err != nil {
			logging.OrchestratorError("config watcher start failed: %v", err)
		}
	}
	logging.Orchestrator("%d agents running", o.registry.RunningCount())
	return nil
}

// broadcastStartupFailure announces a failed agent start to whoever is
// already subscribed.
func (o *Orchestrator) broadcastStartupFailure(agentID string, failure error) {
	msg, err := bus.NewMessage(bus.TypeAgentError, orchestratorID, bus.Broadcast,
		map[string]interface{}{
			"error_type":    string(agent.CategoryConfiguration),
			"error_message": failure.Error(),
			"agent_id":      agentID,
		})
	if err != nil {
		logging.OrchestratorError("startup failure broadcast construction failed: %v", err)
		return
	}
	if _, err := o.bus.Send(msg); err != nil {
		logging.OrchestratorError("startup failure broadcast failed: %v", err)
	}
}

// Stop shuts the system down: the config watcher first so nothing
// reconfigures a stopping monitor, then agents in reverse start order,
// then the learning store.
func (o *Orchestrator) Stop() error {
	if o.watcher != nil && o.watcher.IsWatching() {
		o.watcher.Stop()
	}

	var errs []error
	if err := o.registry.StopAll(); err != nil {
		errs = append(errs, err)
	}

	if o.learning != nil {
		if err := o.learning.Close(); err != nil {
			errs = append(errs, fmt.Errorf("learning store: %w", err))
		}
		o.learning = nil
	}
	logging.Orchestrator("orchestrator stopped")
	return errors.Join(errs...)
}

// Run starts the agents, kicks the moderator off, and returns the final
// phase. Dispatch is synchronous, so the kickoff call returns only after
// the project has played out; a non-terminal phase afterwards means the
// pipeline stalled and is reported as an error.
func (o *Orchestrator) Run() (project.Phase, error) {
	if err := o.Start(); err != nil {
		return o.state.Phase, err
	}
	defer func() {
		if err := o.Stop(); err != nil {
			logging.OrchestratorError("shutdown error: %v", err)
		}
	}()

	logging.Orchestrator("project %s starting: %s", o.state.ID, firstWords(o.state.Requirement, 12))
	if err := o.moderator.DecomposeAndAssignTasks(); err != nil {
		return o.state.Phase, fmt.Errorf("project kickoff failed: %w", err)
	}

	phase := o.state.Phase
	if !phase.IsTerminal() {
		return phase, fmt.Errorf("project %s stalled in phase %s", o.state.ID, phase)
	}
	logging.Orchestrator("project %s finished: phase=%s", o.state.ID, phase)
	return phase, nil
}

// State exposes the project state for status reporting.
func (o *Orchestrator) State() *project.State {
	return o.state
}

// Bus exposes the message bus, mainly for history inspection.
func (o *Orchestrator) Bus() *bus.MessageBus {
	return o.bus
}

// Moderator exposes the moderator agent.
func (o *Orchestrator) Moderator() *agents.Moderator {
	return o.moderator
}

// Monitor exposes the monitor agent, nil below gear 3 or when disabled.
func (o *Orchestrator) Monitor() *agents.Monitor {
	return o.monitor
}

// EverThinker exposes the ever-thinker, nil unless gear 3 enables it.
func (o *Orchestrator) EverThinker() *agents.EverThinker {
	return o.everThinker
}

// Registry exposes the agent registry for status reporting.
func (o *Orchestrator) Registry() *agent.Registry {
	return o.registry
}

// firstWords truncates a requirement for log lines.
func firstWords(s string, n int) string {
	words := 0
	for i, r := range s {
		if r == ' ' {
			words++
			if words >= n {
				return s[:i] + "..."
			}
		}
		if r == '\n' {
			return s[:i] + "..."
		}
	}
	return s
}
