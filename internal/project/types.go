// Package project holds the root aggregate the moderator owns: the project
// state, its tasks, the phase machine, the on-disk store, and the
// decomposer that turns a requirement into a task list.
package project

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a project id has no saved state.
	ErrNotFound = errors.New("project not found")

	// ErrTaskNotFound is returned for task ids missing from the state.
	ErrTaskNotFound = errors.New("task not found")
)

// Phase is the project's coarse-grained lifecycle position.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseDecomposing  Phase = "decomposing"
	PhaseExecuting    Phase = "executing"
	PhaseCompleted    Phase = "completed"
	PhaseImprovement  Phase = "improvement"
	PhaseFailed       Phase = "failed"
)

// phaseTransitions encodes the legal forward edges. failed is reachable
// from anywhere and one-way; completed is re-reachable through improvement.
var phaseTransitions = map[Phase][]Phase{
	PhaseInitializing: {PhaseDecomposing},
	PhaseDecomposing:  {PhaseExecuting},
	PhaseExecuting:    {PhaseCompleted},
	PhaseCompleted:    {PhaseImprovement},
	PhaseImprovement:  {PhaseCompleted},
	PhaseFailed:       {},
}

// CanTransitionTo reports whether the edge p -> next is legal.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p == next {
		return false
	}
	if next == PhaseFailed {
		return p != PhaseFailed
	}
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the phase ends a run. completed remains
// re-enterable through an improvement cycle.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// TaskStatus tracks a task through its life.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// canBecome encodes the monotonic status machine. running -> running is the
// single allowed self-edge, for re-assignment during a feedback iteration.
func (s TaskStatus) canBecome(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskRunning || next == TaskSkipped
	case TaskRunning:
		return next == TaskRunning || next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// Task is a unit of work produced by the decomposer. The moderator owns
// status transitions; the techlead fills in branch, PR, and file fields.
type Task struct {
	ID                 string     `json:"id"`
	Description        string     `json:"description"`
	AcceptanceCriteria []string   `json:"acceptance_criteria"`
	Status             TaskStatus `json:"status"`
	Branch             string     `json:"branch,omitempty"`
	PRURL              string     `json:"pr_url,omitempty"`
	PRNumber           int        `json:"pr_number,omitempty"`
	GeneratedFiles     []string   `json:"generated_files,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// TransitionTo moves the task to next, enforcing monotonicity.
func (t *Task) TransitionTo(next TaskStatus) error {
	if !t.Status.canBecome(next) {
		return fmt.Errorf("task %s: illegal status transition %s -> %s", t.ID, t.Status, next)
	}
	now := time.Now().UTC()
	switch next {
	case TaskRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case TaskCompleted, TaskFailed:
		t.CompletedAt = &now
	}
	t.Status = next
	return nil
}

// Duration returns the task's execution time, or 0 when it never finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// State is the root aggregate: the requirement, its tasks, and the phase.
// Serialized to project.json after every significant transition. Mutated by
// the moderator only.
type State struct {
	ID          string    `json:"id"`
	Requirement string    `json:"requirement"`
	Phase       Phase     `json:"phase"`
	Tasks       []Task    `json:"tasks"`
	CurrentTask int       `json:"current_task"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewState creates a project in the initializing phase with a fresh
// short id.
func NewState(requirement string) *State {
	now := time.Now().UTC()
	return &State{
		ID:          uuid.New().String()[:8],
		Requirement: requirement,
		Phase:       PhaseInitializing,
		CurrentTask: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AdvancePhase moves the project to next, enforcing the phase machine.
func (s *State) AdvancePhase(next Phase) error {
	if !s.Phase.CanTransitionTo(next) {
		return fmt.Errorf("project %s: illegal phase transition %s -> %s", s.ID, s.Phase, next)
	}
	s.Phase = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// TaskByID returns a pointer into the task list, so mutations stick.
func (s *State) TaskByID(id string) (*Task, error) {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
}

// NextPendingTask returns the first pending task at or after the cursor.
func (s *State) NextPendingTask() *Task {
	for i := s.CurrentTask; i < len(s.Tasks); i++ {
		if s.Tasks[i].Status == TaskPending {
			s.CurrentTask = i
			return &s.Tasks[i]
		}
	}
	return nil
}

// AllTasksCompleted reports whether every task reached completed.
func (s *State) AllTasksCompleted() bool {
	if len(s.Tasks) == 0 {
		return false
	}
	for i := range s.Tasks {
		if s.Tasks[i].Status != TaskCompleted {
			return false
		}
	}
	return true
}

// HasFailedTask reports whether any task is failed.
func (s *State) HasFailedTask() bool {
	for i := range s.Tasks {
		if s.Tasks[i].Status == TaskFailed {
			return true
		}
	}
	return false
}

// CountByStatus returns how many tasks hold the given status.
func (s *State) CountByStatus(status TaskStatus) int {
	count := 0
	for i := range s.Tasks {
		if s.Tasks[i].Status == status {
			count++
		}
	}
	return count
}

// Touch bumps UpdatedAt. Called after task-field mutations that bypass
// AdvancePhase.
func (s *State) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
