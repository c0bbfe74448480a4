package orchestrator

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/agent"
	"autoforge/internal/agents"
	"autoforge/internal/bus"
	"autoforge/internal/config"
	"autoforge/internal/logging"
	"autoforge/internal/project"
)

func init() {
	logging.SetTestMode(true)
}

const shortenerReq = "Build a URL shortener service"

// requireGit skips tests whose construction path reaches EnsureRepo,
// which shells out to the real git binary.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// testConfig points every path at temp dirs and clears the remote so
// pushes are local no-ops.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Gear = 1
	cfg.ProjectRoot = filepath.Join(t.TempDir(), "forge")
	cfg.Git.WorkDir = filepath.Join(t.TempDir(), "repo")
	cfg.Git.Remote = ""
	return cfg
}

func TestNewRejectsEmptyRequirement(t *testing.T) {
	_, err := New(testConfig(t), "")
	require.Error(t, err)
	assert.Equal(t, agent.CategoryConfiguration, agent.CategoryOf(err))
	assert.Contains(t, err.Error(), "requirement text is empty")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gear = 0
	_, err := New(cfg, shortenerReq)
	require.Error(t, err)
	assert.Equal(t, agent.CategoryConfiguration, agent.CategoryOf(err))
	assert.Contains(t, err.Error(), "invalid config: gear")
}

func TestOrchestratorRunGearOne(t *testing.T) {
	requireGit(t)
	cfg := testConfig(t)

	o, err := New(cfg, shortenerReq)
	require.NoError(t, err)

	assert.Equal(t, []string{agents.ModeratorID, agents.TechLeadID}, o.Registry().IDs())
	assert.Nil(t, o.Monitor())
	assert.Nil(t, o.EverThinker())
	assert.Nil(t, o.watcher)

	phase, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, project.PhaseCompleted, phase)

	state := o.State()
	require.Len(t, state.Tasks, 2)
	for i := range state.Tasks {
		task := &state.Tasks[i]
		assert.Equal(t, project.TaskCompleted, task.Status, task.ID)
		assert.Equal(t, i+1, task.PRNumber, task.ID)
		assert.Equal(t, "forge/"+task.ID, task.Branch, task.ID)
		assert.Contains(t, task.PRURL, "/pull/", task.ID)
	}
	assert.Equal(t, []string{"task_001.go", "task_001_test.go"}, state.Tasks[0].GeneratedFiles)

	assert.Len(t, o.Bus().HistoryByType(bus.TypeTaskCompleted), 2)
	assert.Len(t, o.Bus().HistoryByType(bus.TypePRApproved), 2)
	assert.Empty(t, o.Bus().HistoryByType(bus.TypePRRejected))

	// Run already shut everything down; a second Stop must hold.
	assert.Equal(t, 0, o.Registry().RunningCount())
	require.NoError(t, o.Stop())
}

func TestOrchestratorRunGearTwoScoresPRs(t *testing.T) {
	requireGit(t)
	cfg := testConfig(t)
	cfg.Gear = 2

	o, err := New(cfg, shortenerReq)
	require.NoError(t, err)

	phase, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, project.PhaseCompleted, phase)

	// The scaffold output clears the scoring gate on the first pass:
	// it ships tests, comments, and the acceptance criteria verbatim.
	completed := o.Bus().HistoryByType(bus.TypeTaskCompleted)
	require.Len(t, completed, 2)
	for i := range completed {
		taskID := completed[i].PayloadString("task_id")
		assert.Equal(t, 1, completed[i].PayloadInt("total_iterations"), taskID)
		assert.GreaterOrEqual(t, completed[i].PayloadInt("final_score"), 80, taskID)
	}
	assert.Empty(t, o.Bus().HistoryByType(bus.TypePRFeedback))
}

func TestOrchestratorRunGearThreeImprovementLoop(t *testing.T) {
	requireGit(t)
	cfg := testConfig(t)
	cfg.Gear = 3
	cfg.Gear3.Monitoring.Enabled = true
	cfg.Gear3.EverThinker.Enabled = true
	cfg.Gear3.EverThinker.MaxCycles = 1

	o, err := New(cfg, shortenerReq)
	require.NoError(t, err)

	assert.Equal(t, []string{agents.ModeratorID, agents.TechLeadID, agents.MonitorID, agents.EverThinkerID},
		o.Registry().IDs())
	require.NotNil(t, o.Monitor())
	require.NotNil(t, o.EverThinker())
	assert.Nil(t, o.watcher, "no watcher without a config file")

	_, err = os.Stat(filepath.Join(cfg.ProjectRoot, "learning", "learning.db"))
	require.NoError(t, err, "learning database missing")

	phase, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, project.PhaseCompleted, phase)

	assert.Equal(t, 1, o.Moderator().CyclesRun())
	assert.Equal(t, 1, o.EverThinker().Triggered())
	assert.Equal(t, 1, o.EverThinker().CompletedCycles())

	requested := o.Bus().HistoryByType(bus.TypeImprovementRequested)
	require.Len(t, requested, 1)
	criteria := requested[0].PayloadStrings("acceptance_criteria")
	require.NotEmpty(t, criteria)
	assert.True(t, strings.HasPrefix(criteria[0], "Addresses: "), criteria[0])
	assert.Len(t, o.Bus().HistoryByType(bus.TypeImprovementCompleted), 1)

	require.NoError(t, o.Stop())
}

func TestOrchestratorStartupFailureTearsDown(t *testing.T) {
	requireGit(t)
	o, err := New(testConfig(t), shortenerReq)
	require.NoError(t, err)

	// Occupy the techlead's id so its subscription fails mid-startup.
	require.NoError(t, o.Bus().Subscribe(agents.TechLeadID, func(*bus.AgentMessage) error { return nil }))

	err = o.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent techlead failed to start")
	assert.Equal(t, agent.CategoryConfiguration, agent.CategoryOf(err))
	assert.Equal(t, 0, o.Registry().RunningCount())

	broadcasts := o.Bus().HistoryByType(bus.TypeAgentError)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, orchestratorID, broadcasts[0].From)
	assert.Equal(t, agents.TechLeadID, broadcasts[0].PayloadString("agent_id"))
	assert.Equal(t, string(agent.CategoryConfiguration), broadcasts[0].PayloadString("error_type"))

	require.NoError(t, o.Stop())
}

func TestOrchestratorResume(t *testing.T) {
	requireGit(t)
	cfg := testConfig(t)

	o, err := New(cfg, shortenerReq)
	require.NoError(t, err)
	phase, err := o.Run()
	require.NoError(t, err)
	require.Equal(t, project.PhaseCompleted, phase)
	projectID := o.State().ID

	resumed, err := Resume(cfg, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectID, resumed.State().ID)
	assert.Equal(t, shortenerReq, resumed.State().Requirement)
	assert.Equal(t, project.PhaseCompleted, resumed.State().Phase)
	assert.Equal(t, 2, resumed.State().CountByStatus(project.TaskCompleted))
	require.NoError(t, resumed.Stop())

	_, err = Resume(cfg, "no_such_project")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load project")
}

func TestOrchestratorWatchesConfigFile(t *testing.T) {
	requireGit(t)
	cfg := testConfig(t)
	cfg.Gear = 3
	cfg.Gear3.Monitoring.Enabled = true

	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, cfg.Save(path))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)

	o, err := New(loaded, shortenerReq)
	require.NoError(t, err)
	require.NotNil(t, o.watcher)
	assert.False(t, o.watcher.IsWatching())

	require.NoError(t, o.Start())
	assert.True(t, o.watcher.IsWatching())

	require.NoError(t, o.Stop())
	assert.False(t, o.watcher.IsWatching())
}
