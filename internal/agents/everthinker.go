package agents

import (
	"sync"

	"autoforge/internal/agent"
	"autoforge/internal/bus"
	"autoforge/internal/logging"
)

// CycleRunner is the moderator-side surface the ever-thinker drives.
type CycleRunner interface {
	// ReadyForImprovement reports whether the project has reached the
	// completed phase with every task done.
	ReadyForImprovement() bool
	// RunImprovementCycle starts one improvement cycle, returning true
	// when a cycle actually started.
	RunImprovementCycle() (bool, error)
}

// EverThinker watches for project completion and kicks off the first
// improvement cycle. The moderator loops itself from there, so one
// trigger covers the whole improvement phase.
type EverThinker struct {
	*agent.Base

	runner CycleRunner

	mu        sync.Mutex
	triggered int
	completed int
}

// NewEverThinker wires the ever-thinker against a cycle runner,
// normally the moderator.
func NewEverThinker(b *bus.MessageBus, runner CycleRunner) *EverThinker {
	e := &EverThinker{
		Base:   agent.NewBase(EverThinkerID, b, logging.CategoryEverThinker),
		runner: runner,
	}
	e.SetHandler(e.HandleMessage)
	return e
}

// Start subscribes the completion taps after the base lifecycle.
func (e *EverThinker) Start() error {
	if err := e.Base.Start(); err != nil {
		return err
	}
	err := e.Bus().SubscribeEvents(e.ID(), e.handleTapped,
		bus.TypeTaskCompleted, bus.TypeImprovementCompleted)
	if err != nil {
		e.Base.Stop()
		return agent.Categorize(agent.CategoryConfiguration, err)
	}
	return nil
}

// Stop removes the taps before the base lifecycle.
func (e *EverThinker) Stop() error {
	e.Bus().UnsubscribeEvents(e.ID())
	return e.Base.Stop()
}

// HandleMessage ignores directed traffic; the ever-thinker reacts only
// to tapped events.
func (e *EverThinker) HandleMessage(msg *bus.AgentMessage) error {
	return nil
}

func (e *EverThinker) handleTapped(msg *bus.AgentMessage) error {
	switch msg.Type {
	case bus.TypeImprovementCompleted:
		e.mu.Lock()
		e.completed++
		e.mu.Unlock()
		return nil
	case bus.TypeTaskCompleted:
		return e.maybeTrigger()
	default:
		return nil
	}
}

// maybeTrigger starts the improvement phase once the runner reports the
// project complete. The runner's own budget and pending-cycle guards
// make repeated calls harmless.
func (e *EverThinker) maybeTrigger() error {
	if !e.runner.ReadyForImprovement() {
		return nil
	}

	logging.EverThinker("project complete, starting improvement cycles")
	started, err := e.runner.RunImprovementCycle()
	if err != nil {
		logging.EverThinkerError("improvement cycle failed: %v", err)
		return err
	}

	e.mu.Lock()
	if started {
		e.triggered++
	}
	e.mu.Unlock()

	if !started {
		logging.EverThinkerDebug("no improvement cycle started, nothing actionable")
	}
	return nil
}

// Triggered reports how many times the ever-thinker started a cycle.
func (e *EverThinker) Triggered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

// CompletedCycles reports observed IMPROVEMENT_COMPLETED events.
func (e *EverThinker) CompletedCycles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}
