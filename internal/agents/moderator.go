package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"autoforge/internal/agent"
	"autoforge/internal/analysis"
	"autoforge/internal/bus"
	"autoforge/internal/logging"
	"autoforge/internal/project"
	"autoforge/internal/review"
)

// ModeratorConfig tunes the moderator's review loop and improvement
// budget.
type ModeratorConfig struct {
	// MaxIterations caps PR feedback rounds per task. Default 3.
	MaxIterations int
	// MaxImprovementCycles caps how many improvement cycles may run
	// after completion. Zero disables the cycle entirely.
	MaxImprovementCycles int
	// MaxImprovementsPerCycle is the engine's selection size. Default 1.
	MaxImprovementsPerCycle int
}

// Moderator owns the project state. It decomposes the requirement into
// tasks, assigns them, reviews submitted PRs, runs the feedback loop,
// and drives improvement cycles once everything is done. Task status
// and phase move only on this agent's dispatch turns.
type Moderator struct {
	*agent.Base

	state      *project.State
	store      project.Store
	decomposer project.Decomposer
	reviewer   review.Reviewer
	pipeline   *analysis.Pipeline
	engine     *analysis.Engine

	maxIterations int
	maxCycles     int
	cyclesRun     int

	// highestIteration tracks the largest PR_SUBMITTED iteration seen
	// per task; anything lower is a late duplicate.
	highestIteration map[string]int
	// chainCorr maps a correlation id to the task or improvement id it
	// drives, so AGENT_ERROR broadcasts can be attributed.
	chainCorr map[string]string

	// improvements is the registry of proposed improvements by id;
	// addressed holds their fingerprints so a cycle never re-proposes
	// a finding it already sent out.
	improvements map[string]analysis.Improvement
	addressed    map[string]bool
	pendingImp   string
}

// NewModerator wires the moderator. The reviewer decides approvals; the
// pipeline and engine feed improvement cycles.
func NewModerator(b *bus.MessageBus, state *project.State, store project.Store,
	decomposer project.Decomposer, reviewer review.Reviewer, cfg ModeratorConfig) *Moderator {

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.MaxImprovementsPerCycle <= 0 {
		cfg.MaxImprovementsPerCycle = 1
	}

	m := &Moderator{
		Base:             agent.NewBase(ModeratorID, b, logging.CategoryModerator),
		state:            state,
		store:            store,
		decomposer:       decomposer,
		reviewer:         reviewer,
		pipeline:         analysis.NewPipeline(),
		engine:           analysis.NewEngine(cfg.MaxImprovementsPerCycle),
		maxIterations:    cfg.MaxIterations,
		maxCycles:        cfg.MaxImprovementCycles,
		highestIteration: map[string]int{},
		chainCorr:        map[string]string{},
		improvements:     map[string]analysis.Improvement{},
		addressed:        map[string]bool{},
	}
	m.SetHandler(m.HandleMessage)
	return m
}

// State exposes the owned project state for read-only callers.
func (m *Moderator) State() *project.State {
	return m.state
}

// HandleMessage routes the message types the moderator cares about.
func (m *Moderator) HandleMessage(msg *bus.AgentMessage) error {
	switch msg.Type {
	case bus.TypePRSubmitted:
		return m.handlePRSubmitted(msg)
	case bus.TypeImprovementCompleted:
		return m.handleImprovementCompleted(msg)
	case bus.TypeAgentError:
		return m.handleAgentError(msg)
	case bus.TypeAgentReady:
		return nil
	default:
		logging.ModeratorDebug("ignoring %s from %s", msg.Type, msg.From)
		return nil
	}
}

// DecomposeAndAssignTasks turns the requirement into the task list and
// assigns the first task. Called once by the orchestrator after start.
func (m *Moderator) DecomposeAndAssignTasks() error {
	if err := m.state.AdvancePhase(project.PhaseDecomposing); err != nil {
		return agent.Categorize(agent.CategoryConfiguration, err)
	}
	m.persist()

	tasks, err := m.decomposer.Decompose(m.state.Requirement)
	if err != nil {
		m.failProject(fmt.Sprintf("decomposition failed: %v", err))
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("decompose: %w", err))
	}
	m.state.Tasks = tasks
	m.log("project_decomposed", fmt.Sprintf("requirement split into %d tasks", len(tasks)), map[string]interface{}{
		"task_count": len(tasks),
	})

	if err := m.state.AdvancePhase(project.PhaseExecuting); err != nil {
		return agent.Categorize(agent.CategoryConfiguration, err)
	}
	m.persist()

	return m.AssignNextTask()
}

// AssignNextTask starts the next pending task, or completes the project
// when none remain.
func (m *Moderator) AssignNextTask() error {
	if m.state.Phase != project.PhaseExecuting {
		logging.ModeratorDebug("no assignment in phase %s", m.state.Phase)
		return nil
	}

	task := m.state.NextPendingTask()
	if task == nil {
		if m.state.AllTasksCompleted() {
			return m.completeProject()
		}
		logging.ModeratorWarn("no pending tasks but not all completed; waiting")
		return nil
	}

	if err := task.TransitionTo(project.TaskRunning); err != nil {
		return err
	}
	m.persist()

	// One correlation id threads the whole chain for this task, from
	// TASK_STARTED through the final TASK_COMPLETED or TASK_FAILED.
	corr := uuid.New().String()
	m.chainCorr[corr] = task.ID

	m.log("task_assigned", "assigned "+task.ID, map[string]interface{}{
		"task_id": task.ID,
	})

	if _, err := m.Send(bus.TypeTaskStarted, MonitorID, map[string]interface{}{
		"task_id":   task.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}, bus.WithCorrelationID(corr)); err != nil {
		logging.ModeratorWarn("task started event failed: %v", err)
	}

	_, err := m.Send(bus.TypeTaskAssigned, TechLeadID, map[string]interface{}{
		"task_id":             task.ID,
		"description":         task.Description,
		"acceptance_criteria": task.AcceptanceCriteria,
	}, bus.WithCorrelationID(corr), bus.WithRequiresResponse())
	return err
}

// handlePRSubmitted runs the review gate and either completes the task,
// sends feedback, or fails the task and the project.
func (m *Moderator) handlePRSubmitted(msg *bus.AgentMessage) error {
	taskID := msg.PayloadString("task_id")
	if taskID == "" {
		return agent.MarkFatal(fmt.Errorf("PR_SUBMITTED without task_id from %s", msg.From))
	}
	task, err := m.state.TaskByID(taskID)
	if err != nil {
		return agent.MarkFatal(fmt.Errorf("PR_SUBMITTED for unknown task: %w", err))
	}
	if task.Status.IsTerminal() {
		logging.ModeratorWarn("ignoring PR_SUBMITTED for %s: task already %s", taskID, task.Status)
		return nil
	}

	iteration := msg.PayloadInt("iteration")
	if iteration < 1 {
		iteration = 1
	}
	if highest, ok := m.highestIteration[taskID]; ok && iteration < highest {
		logging.ModeratorWarn("ignoring late PR_SUBMITTED for %s: iteration %d < %d", taskID, iteration, highest)
		return nil
	}
	m.highestIteration[taskID] = iteration

	// The techlead already recorded branch, PR, and file-list fields on
	// the task; persist so the submission is durable before the verdict.
	prNumber := msg.PayloadInt("pr_number")
	m.persist()

	result := m.reviewer.Review(review.Request{
		TaskID:             task.ID,
		Description:        task.Description,
		AcceptanceCriteria: task.AcceptanceCriteria,
		Files:              m.taskFiles(task),
		Iteration:          iteration,
	})
	logging.WithCorrelation(logging.CategoryModerator, msg.CorrelationID).
		Info("review verdict for %s iteration %d: %s", taskID, iteration, result.String())

	if result.Approved && result.Score >= review.DefaultApprovalThreshold {
		return m.approveTask(msg, task, iteration, result)
	}

	m.emitPREvent(bus.TypePRRejected, prNumber, msg.CorrelationID)

	if iteration < m.maxIterations {
		m.log("pr_feedback", fmt.Sprintf("%s iteration %d scored %d, sending feedback", taskID, iteration, result.Score), map[string]interface{}{
			"task_id":  taskID,
			"score":    result.Score,
			"blocking": len(result.BlockingIssues),
		})
		_, err := m.Send(bus.TypePRFeedback, TechLeadID, map[string]interface{}{
			"task_id":         taskID,
			"pr_number":       prNumber,
			"iteration":       iteration,
			"score":           result.Score,
			"approved":        false,
			"blocking_issues": result.BlockingIssues,
			"suggestions":     result.Suggestions,
			"feedback":        result.FeedbackSummary(),
			"criteria_scores": result.CriterionScores,
		}, bus.WithCorrelationID(msg.CorrelationID), bus.WithRequiresResponse())
		return err
	}

	return m.failTask(msg, task, fmt.Sprintf("rejected after %d iterations (score %d)", iteration, result.Score))
}

func (m *Moderator) approveTask(msg *bus.AgentMessage, task *project.Task, iteration int, result review.Result) error {
	if err := task.TransitionTo(project.TaskCompleted); err != nil {
		return err
	}
	m.emitPREvent(bus.TypePRApproved, task.PRNumber, msg.CorrelationID)
	m.log("task_completed", fmt.Sprintf("%s approved with score %d after %d iterations", task.ID, result.Score, iteration), map[string]interface{}{
		"task_id":     task.ID,
		"final_score": result.Score,
		"iterations":  iteration,
	})

	// Move the phase before announcing completion so a completion
	// listener triggered inside this Send observes the final phase.
	if m.state.AllTasksCompleted() {
		if err := m.state.AdvancePhase(project.PhaseCompleted); err != nil {
			return err
		}
		m.log("project_completed", "all tasks completed", nil)
	}
	m.persist()

	if _, err := m.Send(bus.TypeTaskCompleted, TechLeadID, map[string]interface{}{
		"task_id":          task.ID,
		"pr_number":        task.PRNumber,
		"final_score":      result.Score,
		"total_iterations": iteration,
		"approved":         true,
		"duration_seconds": task.Duration().Seconds(),
	}, bus.WithCorrelationID(msg.CorrelationID)); err != nil {
		return err
	}

	return m.AssignNextTask()
}

func (m *Moderator) failTask(msg *bus.AgentMessage, task *project.Task, reason string) error {
	task.Error = reason
	if err := task.TransitionTo(project.TaskFailed); err != nil {
		logging.ModeratorError("failed task transition: %v", err)
	}
	m.log("task_failed", task.ID+": "+reason, map[string]interface{}{
		"task_id": task.ID,
		"error":   reason,
	})

	if _, err := m.Send(bus.TypeTaskFailed, MonitorID, map[string]interface{}{
		"task_id":   task.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"duration":  task.Duration().Seconds(),
		"error":     reason,
	}, bus.WithCorrelationID(msg.CorrelationID)); err != nil {
		logging.ModeratorWarn("task failed event failed: %v", err)
	}

	m.failProject(reason)
	return nil
}

// failProject moves the phase to failed from wherever it is.
func (m *Moderator) failProject(reason string) {
	if m.state.Phase == project.PhaseFailed {
		return
	}
	if err := m.state.AdvancePhase(project.PhaseFailed); err != nil {
		logging.ModeratorError("phase transition to failed rejected: %v", err)
		return
	}
	m.log("project_failed", reason, nil)
	m.persist()
}

func (m *Moderator) completeProject() error {
	if err := m.state.AdvancePhase(project.PhaseCompleted); err != nil {
		return err
	}
	m.log("project_completed", "all tasks completed", nil)
	m.persist()
	return nil
}

// handleAgentError attributes collaborator failures to the task chain
// they happened in and fails the task. Handler errors from other agents
// are logged only.
func (m *Moderator) handleAgentError(msg *bus.AgentMessage) error {
	errType := msg.PayloadString("error_type")
	errMsg := msg.PayloadString("error_message")
	logging.ModeratorWarn("agent error from %s: type=%s %s", msg.From, errType, errMsg)

	if errType != string(agent.CategoryCollaborator) {
		return nil
	}
	id, ok := m.chainCorr[msg.CorrelationID]
	if !ok {
		return nil
	}
	task, err := m.state.TaskByID(id)
	if err != nil {
		// Improvement chains have no task entry; the improvement simply
		// stays unapplied and the phase returns to completed.
		if m.pendingImp == id {
			m.pendingImp = ""
			if m.state.Phase == project.PhaseImprovement {
				if aerr := m.state.AdvancePhase(project.PhaseCompleted); aerr != nil {
					logging.ModeratorError("phase recovery failed: %v", aerr)
				}
				m.persist()
			}
		}
		return nil
	}
	if task.Status != project.TaskRunning {
		return nil
	}
	return m.failTask(msg, task, fmt.Sprintf("collaborator failure from %s: %s", msg.From, errMsg))
}

// RunImprovementCycle analyzes the workspace, selects the top finding,
// and sends it to the techlead. Returns true when a cycle started.
func (m *Moderator) RunImprovementCycle() (bool, error) {
	if m.state.Phase != project.PhaseCompleted {
		return false, fmt.Errorf("improvement cycle requires a completed project, phase is %s", m.state.Phase)
	}
	if m.pendingImp != "" {
		return false, nil
	}
	if m.maxCycles > 0 && m.cyclesRun >= m.maxCycles {
		logging.ModeratorDebug("improvement budget exhausted (%d cycles)", m.cyclesRun)
		return false, nil
	}

	findings, err := m.pipeline.Run(context.Background(), analysis.Target{
		ProjectID:   m.state.ID,
		Requirement: m.state.Requirement,
		Files:       m.workspaceFiles(),
	})
	if err != nil {
		return false, agent.Categorize(agent.CategoryCollaborator, err)
	}

	fresh := findings[:0]
	for i := range findings {
		if !m.addressed[findings[i].Fingerprint()] {
			fresh = append(fresh, findings[i])
		}
	}
	selected := m.engine.Select(fresh)
	if len(selected) == 0 {
		logging.ModeratorDebug("no further improvements found")
		return false, nil
	}

	if err := m.state.AdvancePhase(project.PhaseImprovement); err != nil {
		return false, err
	}
	m.cyclesRun++
	m.persist()

	top := selected[0]
	m.improvements[top.ID] = top.Improvement
	m.addressed[top.Fingerprint()] = true
	m.pendingImp = top.ID

	corr := uuid.New().String()
	m.chainCorr[corr] = top.ID

	m.log("improvement_requested", top.Title, map[string]interface{}{
		"improvement_id": top.ID,
		"category":       string(top.Category),
		"priority_score": top.PriorityScore,
	})

	_, err = m.Send(bus.TypeImprovementRequested, TechLeadID, map[string]interface{}{
		"improvement_id":      top.ID,
		"description":         improvementDescription(&top.Improvement),
		"category":            string(top.Category),
		"priority":            string(top.Priority),
		"acceptance_criteria": improvementCriteria(&top.Improvement),
	}, bus.WithCorrelationID(corr), bus.WithRequiresResponse())
	if err != nil {
		return false, err
	}
	return true, nil
}

// handleImprovementCompleted closes the cycle and immediately looks for
// the next improvement, stopping when the engine has nothing left.
func (m *Moderator) handleImprovementCompleted(msg *bus.AgentMessage) error {
	impID := msg.PayloadString("improvement_id")
	if _, ok := m.improvements[impID]; !ok {
		return agent.MarkFatal(fmt.Errorf("IMPROVEMENT_COMPLETED for unknown improvement %q", impID))
	}
	if impID != m.pendingImp {
		logging.ModeratorWarn("ignoring stale IMPROVEMENT_COMPLETED for %s (pending %s)", impID, m.pendingImp)
		return nil
	}
	m.pendingImp = ""

	m.log("improvement_completed", impID, map[string]interface{}{
		"improvement_id": impID,
		"pr_number":      msg.PayloadInt("pr_number"),
	})
	if err := m.state.AdvancePhase(project.PhaseCompleted); err != nil {
		return err
	}
	m.persist()

	started, err := m.RunImprovementCycle()
	if err != nil {
		logging.ModeratorError("follow-up improvement cycle failed: %v", err)
		return nil
	}
	if !started {
		logging.ModeratorDebug("improvement loop finished after %d cycles", m.cyclesRun)
	}
	return nil
}

// emitPREvent sends a PR lifecycle event toward the monitor, keeping
// the task chain's correlation id.
func (m *Moderator) emitPREvent(t bus.MessageType, prNumber int, corr string) {
	if _, err := m.Send(t, MonitorID, map[string]interface{}{
		"pr_number": prNumber,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}, bus.WithCorrelationID(corr)); err != nil {
		logging.ModeratorWarn("%s event failed: %v", t, err)
	}
}

// taskFiles loads a task's generated files from its artifacts dir.
func (m *Moderator) taskFiles(task *project.Task) map[string]string {
	files := map[string]string{}
	dir, err := m.store.ArtifactsDir(m.state.ID, task.ID)
	if err != nil {
		logging.ModeratorWarn("artifacts dir for %s: %v", task.ID, err)
		return files
	}
	for _, rel := range task.GeneratedFiles {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			logging.ModeratorWarn("unreadable artifact %s: %v", rel, err)
			continue
		}
		files[rel] = string(data)
	}
	return files
}

// workspaceFiles unions every task's artifacts, keyed task_id/path.
func (m *Moderator) workspaceFiles() map[string]string {
	all := map[string]string{}
	for i := range m.state.Tasks {
		task := &m.state.Tasks[i]
		for rel, content := range m.taskFiles(task) {
			all[task.ID+"/"+rel] = content
		}
	}
	return all
}

// Improvements returns the registry of proposed improvements.
func (m *Moderator) Improvements() map[string]analysis.Improvement {
	out := make(map[string]analysis.Improvement, len(m.improvements))
	for id, imp := range m.improvements {
		out[id] = imp
	}
	return out
}

// CyclesRun reports how many improvement cycles have started.
func (m *Moderator) CyclesRun() int {
	return m.cyclesRun
}

// ReadyForImprovement reports whether the project sits in the completed
// phase with every task done, the precondition for an improvement cycle.
func (m *Moderator) ReadyForImprovement() bool {
	return m.state.Phase == project.PhaseCompleted && m.state.AllTasksCompleted()
}

func (m *Moderator) persist() {
	if err := m.store.SaveProject(m.state); err != nil {
		logging.ModeratorError("state persistence failed: %v", err)
	}
}

func (m *Moderator) log(event, message string, data map[string]interface{}) {
	entry := project.NewLogEntry(ModeratorID, event, message)
	entry.Data = data
	if err := m.store.AppendLog(m.state.ID, entry); err != nil {
		logging.ModeratorWarn("project log append failed: %v", err)
	}
}

func improvementDescription(imp *analysis.Improvement) string {
	if imp.TargetFile == "" {
		return imp.Description
	}
	return fmt.Sprintf("%s (in %s)", imp.Description, imp.TargetFile)
}

// improvementCriteria derives acceptance criteria from the finding's
// category so the review of the improvement PR has something to check.
func improvementCriteria(imp *analysis.Improvement) []string {
	criteria := []string{"Addresses: " + imp.Title}
	switch imp.Category {
	case analysis.CategoryPerformance:
		criteria = append(criteria, "Hot paths avoid repeated work and nested traversals")
	case analysis.CategoryCodeQuality:
		criteria = append(criteria, "Cyclomatic complexity at most 10 after the change")
	case analysis.CategoryTesting:
		criteria = append(criteria, "New or updated tests cover the changed behavior")
	case analysis.CategoryDocumentation:
		criteria = append(criteria, "Public behavior is documented where it changed")
	case analysis.CategoryUX:
		criteria = append(criteria, "Messages name the failing input and the remedy")
	case analysis.CategoryArchitecture:
		criteria = append(criteria, "Each touched module keeps a single responsibility")
	}
	return criteria
}
