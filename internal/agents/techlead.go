package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autoforge/internal/agent"
	"autoforge/internal/backend"
	"autoforge/internal/bus"
	"autoforge/internal/gitops"
	"autoforge/internal/logging"
	"autoforge/internal/project"
)

// branchPrefix namespaces the branches this agent creates.
const branchPrefix = "forge/"

// taskWork is the techlead's working memory for one task or improvement
// across feedback rounds.
type taskWork struct {
	id          string
	description string
	criteria    []string
	branch      string
	prNumber    int
	prURL       string
	files       []string
	improvement bool
}

// TechLead executes assigned tasks: it prompts the backend, lands the
// generated files in git, opens the PR, and reports back to the
// moderator. It reads project state but never moves status or phase.
type TechLead struct {
	*agent.Base

	state   *project.State
	store   project.Store
	backend backend.Backend
	driver  gitops.Driver

	// work is touched only on the dispatch goroutine.
	work map[string]*taskWork
}

// NewTechLead wires the techlead and its collaborators.
func NewTechLead(b *bus.MessageBus, state *project.State, store project.Store,
	be backend.Backend, driver gitops.Driver) *TechLead {

	t := &TechLead{
		Base:    agent.NewBase(TechLeadID, b, logging.CategoryTechLead),
		state:   state,
		store:   store,
		backend: be,
		driver:  driver,
		work:    map[string]*taskWork{},
	}
	t.SetHandler(t.HandleMessage)
	return t
}

// HandleMessage routes the techlead's message types.
func (t *TechLead) HandleMessage(msg *bus.AgentMessage) error {
	switch msg.Type {
	case bus.TypeTaskAssigned:
		return t.handleTaskAssigned(msg)
	case bus.TypePRFeedback:
		return t.handlePRFeedback(msg)
	case bus.TypeImprovementRequested:
		return t.handleImprovementRequested(msg)
	case bus.TypeTaskCompleted:
		t.handleTaskCompleted(msg)
		return nil
	case bus.TypeAgentError, bus.TypeAgentReady:
		return nil
	default:
		logging.TechLeadDebug("ignoring %s from %s", msg.Type, msg.From)
		return nil
	}
}

func (t *TechLead) handleTaskAssigned(msg *bus.AgentMessage) error {
	taskID := msg.PayloadString("task_id")
	if taskID == "" {
		return agent.MarkFatal(fmt.Errorf("TASK_ASSIGNED without task_id"))
	}
	if _, err := t.state.TaskByID(taskID); err != nil {
		return agent.MarkFatal(fmt.Errorf("assigned task not in project: %w", err))
	}

	w := &taskWork{
		id:          taskID,
		description: msg.PayloadString("description"),
		criteria:    msg.PayloadStrings("acceptance_criteria"),
		branch:      branchPrefix + taskID,
	}
	t.work[taskID] = w

	return t.runPipeline(msg, w, 1, nil)
}

func (t *TechLead) handlePRFeedback(msg *bus.AgentMessage) error {
	taskID := msg.PayloadString("task_id")
	w, ok := t.work[taskID]
	if !ok {
		task, err := t.state.TaskByID(taskID)
		if err != nil {
			return agent.MarkFatal(fmt.Errorf("PR_FEEDBACK for unknown task: %w", err))
		}
		w = &taskWork{
			id:          taskID,
			description: task.Description,
			criteria:    task.AcceptanceCriteria,
			branch:      branchPrefix + taskID,
		}
		t.work[taskID] = w
	}

	iteration := msg.PayloadInt("iteration") + 1
	feedback := msg.PayloadStrings("feedback")
	if len(feedback) == 0 {
		feedback = append(msg.PayloadStrings("blocking_issues"), msg.PayloadStrings("suggestions")...)
	}
	logging.TechLeadDebug("reworking %s for iteration %d with %d feedback items", taskID, iteration, len(feedback))

	return t.runPipeline(msg, w, iteration, feedback)
}

func (t *TechLead) handleImprovementRequested(msg *bus.AgentMessage) error {
	impID := msg.PayloadString("improvement_id")
	if impID == "" {
		return agent.MarkFatal(fmt.Errorf("IMPROVEMENT_REQUESTED without improvement_id"))
	}

	// Improvements run the same pipeline under a synthesized task.
	w := &taskWork{
		id:          impID,
		description: msg.PayloadString("description"),
		criteria:    msg.PayloadStrings("acceptance_criteria"),
		branch:      branchPrefix + impID,
		improvement: true,
	}
	t.work[impID] = w

	return t.runPipeline(msg, w, 1, nil)
}

func (t *TechLead) handleTaskCompleted(msg *bus.AgentMessage) {
	taskID := msg.PayloadString("task_id")
	logging.TechLeadDebug("task %s closed with score %d after %d iterations",
		taskID, msg.PayloadInt("final_score"), msg.PayloadInt("total_iterations"))
	delete(t.work, taskID)
}

// runPipeline executes generate, branch, commit, push, PR, and the
// closing message. Any failure before the closing message is returned
// as a collaborator failure naming the task; nothing is emitted, so the
// iteration does not advance.
func (t *TechLead) runPipeline(msg *bus.AgentMessage, w *taskWork, iteration int, feedback []string) error {
	ctx := context.Background()
	clog := logging.WithCorrelation(logging.CategoryTechLead, msg.CorrelationID)

	outputDir, err := t.store.ArtifactsDir(t.state.ID, w.id)
	if err != nil {
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("task %s: artifacts dir: %w", w.id, err))
	}

	timer := logging.StartTimer(logging.CategoryBackend, fmt.Sprintf("%s generation (iteration %d)", w.id, iteration))
	result, err := t.backend.Execute(ctx, backend.Request{
		TaskID:             w.id,
		Description:        w.description,
		AcceptanceCriteria: w.criteria,
		Feedback:           feedback,
		Iteration:          iteration,
		OutputDir:          outputDir,
	})
	timer.StopWithThreshold(30 * time.Second)
	if err != nil {
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("task %s: backend: %w", w.id, err))
	}
	w.files = result.Files
	clog.Debug("%s iteration %d generated %d files", w.id, iteration, len(result.Files))

	if err := t.driver.CreateBranch(ctx, w.branch); err != nil {
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("task %s: branch: %w", w.id, err))
	}
	if err := t.stageIntoRepo(outputDir, w); err != nil {
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("task %s: stage: %w", w.id, err))
	}
	commitMsg := fmt.Sprintf("%s: %s (iteration %d)", w.id, firstLine(w.description, 60), iteration)
	if _, err := t.driver.CommitAll(ctx, w.branch, commitMsg); err != nil {
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("task %s: commit: %w", w.id, err))
	}
	if err := t.driver.Push(ctx, w.branch); err != nil {
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("task %s: push: %w", w.id, err))
	}

	pr, err := t.driver.OpenPR(ctx, gitops.PRSpec{
		Branch: w.branch,
		Title:  firstLine(w.description, 72),
		Body:   prBody(w),
	})
	if err != nil {
		return agent.Categorize(agent.CategoryCollaborator, fmt.Errorf("task %s: open PR: %w", w.id, err))
	}
	w.prNumber = pr.Number
	w.prURL = pr.URL
	clog.Info("PR #%d open for %s (iteration %d)", pr.Number, w.id, iteration)

	// The techlead owns the task's branch, PR, and file-list fields;
	// improvements have no task entry to record on.
	if !w.improvement {
		if task, terr := t.state.TaskByID(w.id); terr == nil {
			task.Branch = w.branch
			task.PRNumber = pr.Number
			task.PRURL = pr.URL
			task.GeneratedFiles = append([]string(nil), w.files...)
			t.state.Touch()
		}
	}

	if iteration == 1 {
		if _, err := t.Send(bus.TypePRCreated, MonitorID, map[string]interface{}{
			"pr_number": pr.Number,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}, bus.WithCorrelationID(msg.CorrelationID)); err != nil {
			logging.TechLeadDebug("PR created event failed: %v", err)
		}
	}

	if w.improvement {
		_, err = t.Send(bus.TypeImprovementCompleted, ModeratorID, map[string]interface{}{
			"improvement_id": w.id,
			"pr_number":      pr.Number,
		}, bus.WithCorrelationID(msg.CorrelationID))
		return err
	}

	_, err = t.Send(bus.TypePRSubmitted, ModeratorID, map[string]interface{}{
		"task_id":         w.id,
		"pr_number":       pr.Number,
		"pr_url":          pr.URL,
		"iteration":       iteration,
		"branch":          w.branch,
		"generated_files": w.files,
	}, bus.WithCorrelationID(msg.CorrelationID))
	return err
}

// stageIntoRepo copies the generated artifacts into the repository
// working tree under a per-task directory so the commit captures them.
func (t *TechLead) stageIntoRepo(outputDir string, w *taskWork) error {
	cli, ok := t.driver.(*gitops.CLIDriver)
	if !ok {
		// In-memory drivers have no working tree to stage into.
		return nil
	}
	destRoot := filepath.Join(cli.WorkDir(), w.id)
	for _, rel := range w.files {
		src := filepath.Join(outputDir, filepath.FromSlash(rel))
		dest := filepath.Join(destRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func prBody(w *taskWork) string {
	var b strings.Builder
	b.WriteString(w.description)
	b.WriteString("\n\nAcceptance criteria:\n")
	for i, c := range w.criteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	return b.String()
}

func firstLine(s string, limit int) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return s
}
