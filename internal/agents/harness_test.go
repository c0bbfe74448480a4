package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"autoforge/internal/backend"
	"autoforge/internal/bus"
	"autoforge/internal/gitops"
	"autoforge/internal/logging"
	"autoforge/internal/project"
	"autoforge/internal/review"
)

func init() {
	logging.SetTestMode(true)
}

// stubBackend writes a fixed file set into the request's output dir and
// records every request it served. Err, when set, fails Execute before
// anything is written.
type stubBackend struct {
	mu       sync.Mutex
	files    map[string]string
	err      error
	requests []backend.Request
}

func newStubBackend(files map[string]string) *stubBackend {
	return &stubBackend{files: files}
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Execute(ctx context.Context, req backend.Request) (*backend.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	err := s.err
	files := s.files
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for rel, content := range files {
		dest := filepath.Join(req.OutputDir, filepath.FromSlash(rel))
		if merr := os.MkdirAll(filepath.Dir(dest), 0o755); merr != nil {
			return nil, merr
		}
		if werr := os.WriteFile(dest, []byte(content), 0o644); werr != nil {
			return nil, werr
		}
		names = append(names, rel)
	}
	sort.Strings(names)
	return &backend.Result{
		Files:   names,
		Summary: fmt.Sprintf("stub wrote %d files", len(names)),
	}, nil
}

// Requests returns a copy of the served requests in order.
func (s *stubBackend) Requests() []backend.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// scriptedReviewer plays back a fixed verdict sequence, repeating the
// last entry once the script runs out, and records every request.
type scriptedReviewer struct {
	mu      sync.Mutex
	results []review.Result
	calls   []review.Request
}

func (r *scriptedReviewer) Review(req review.Request) review.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if len(r.results) == 0 {
		return review.Result{Approved: true, Score: 100}
	}
	res := r.results[0]
	if len(r.results) > 1 {
		r.results = r.results[1:]
	}
	return res
}

// Calls returns a copy of the review requests in order.
func (r *scriptedReviewer) Calls() []review.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]review.Request, len(r.calls))
	copy(out, r.calls)
	return out
}

func approvedResult(score int) review.Result {
	return review.Result{
		Approved: true,
		Score:    score,
		CriterionScores: map[string]int{
			"code_quality": score / 2, "test_coverage": score / 2,
		},
	}
}

func rejectedResult(score int, blocking ...string) review.Result {
	return review.Result{
		Score:           score,
		BlockingIssues:  blocking,
		Feedback:        []string{"needs rework"},
		Suggestions:     []string{"split the change"},
		CriterionScores: map[string]int{"code_quality": score / 2},
	}
}

// stubDecomposer returns a copy of a fixed plan.
type stubDecomposer struct {
	tasks []project.Task
	err   error
}

func (d *stubDecomposer) Decompose(requirement string) ([]project.Task, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make([]project.Task, len(d.tasks))
	copy(out, d.tasks)
	return out, nil
}

func plannedTasks(n int) []project.Task {
	tasks := make([]project.Task, 0, n)
	for i := 1; i <= n; i++ {
		tasks = append(tasks, project.Task{
			ID:          fmt.Sprintf("task_%03d", i),
			Description: fmt.Sprintf("Build component %d of the widget service", i),
			AcceptanceCriteria: []string{
				"Produces at least one source file",
			},
			Status: project.TaskPending,
		})
	}
	return tasks
}

func defaultStubFiles() map[string]string {
	return map[string]string{
		"widget.go":      "// widget holds the component logic.\npackage widget\n\nfunc Component() string {\n\treturn \"ok\"\n}\n",
		"widget_test.go": "package widget\n\nimport \"testing\"\n\nfunc TestComponent(t *testing.T) {\n\tif Component() == \"\" {\n\t\tt.Fatal(\"empty\")\n\t}\n}\n",
	}
}

// fixture wires a moderator and techlead pair over an in-memory bus,
// a temp-dir file store, and an in-memory git driver.
type fixture struct {
	t        *testing.T
	bus      *bus.MessageBus
	state    *project.State
	store    *project.FileStore
	backend  *stubBackend
	driver   *gitops.MemDriver
	reviewer *scriptedReviewer
	mod      *Moderator
	lead     *TechLead
}

// fixtureConfig selects the collaborators; zero values get working
// defaults.
type fixtureConfig struct {
	tasks        []project.Task
	decomposeErr error
	results      []review.Result
	backend      *stubBackend
	driver       *gitops.MemDriver
	moderator    ModeratorConfig
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()

	if cfg.tasks == nil {
		cfg.tasks = plannedTasks(1)
	}
	if cfg.backend == nil {
		cfg.backend = newStubBackend(defaultStubFiles())
	}
	if cfg.driver == nil {
		cfg.driver = gitops.NewMemDriver()
	}

	b := bus.New()
	state := project.NewState("build a widget service")
	store, err := project.NewFileStore(t.TempDir())
	require.NoError(t, err)

	reviewer := &scriptedReviewer{results: cfg.results}
	decomposer := &stubDecomposer{tasks: cfg.tasks, err: cfg.decomposeErr}
	mod := NewModerator(b, state, store, decomposer, reviewer, cfg.moderator)
	lead := NewTechLead(b, state, store, cfg.backend, cfg.driver)

	require.NoError(t, mod.Start())
	require.NoError(t, lead.Start())
	t.Cleanup(func() {
		_ = lead.Stop()
		_ = mod.Stop()
	})

	return &fixture{
		t:        t,
		bus:      b,
		state:    state,
		store:    store,
		backend:  cfg.backend,
		driver:   cfg.driver,
		reviewer: reviewer,
		mod:      mod,
		lead:     lead,
	}
}

// run kicks off the project the way the orchestrator does.
func (f *fixture) run() error {
	return f.mod.DecomposeAndAssignTasks()
}

func (f *fixture) task(id string) *project.Task {
	f.t.Helper()
	task, err := f.state.TaskByID(id)
	require.NoError(f.t, err)
	return task
}

func (f *fixture) messages(t bus.MessageType) []bus.AgentMessage {
	return f.bus.HistoryByType(t)
}

// inject sends a hand-built message onto the fixture's bus.
func (f *fixture) inject(t bus.MessageType, from, to string, payload map[string]interface{}, opts ...bus.MessageOption) *bus.DispatchResult {
	f.t.Helper()
	msg, err := bus.NewMessage(t, from, to, payload, opts...)
	require.NoError(f.t, err)
	res, err := f.bus.Send(msg)
	require.NoError(f.t, err)
	return res
}
