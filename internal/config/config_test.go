package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearForgeEnv neutralizes ambient FORGE_* overrides for one test.
func clearForgeEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FORGE_GEAR", "FORGE_PROJECT_ROOT", "FORGE_REQUIREMENT",
		"FORGE_BACKEND_COMMAND", "FORGE_GIT_REMOTE",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.Gear)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, ".forge", cfg.ProjectRoot)
	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.Equal(t, "main", cfg.Git.BaseBranch)
	assert.Equal(t, 80, cfg.Review.ApprovalThreshold)
	assert.Empty(t, cfg.Backend.Command, "scaffold backend by default")
	assert.Equal(t, 120*time.Second, cfg.BackendTimeout())

	assert.False(t, cfg.Gear3.EverThinker.Enabled)
	assert.Equal(t, 5, cfg.Gear3.EverThinker.MaxCycles)
	assert.False(t, cfg.Gear3.Monitoring.Enabled)
	assert.Equal(t, 300*time.Second, cfg.Gear3.Monitoring.Interval())
	assert.Equal(t, 24*time.Hour, cfg.Gear3.Monitoring.Window())
	assert.Equal(t, 15*time.Minute, cfg.Gear3.Monitoring.Alerts.Suppression())
	assert.Equal(t, 2, cfg.Gear3.Monitoring.Alerts.SustainedViolationsRequired)
	assert.True(t, cfg.Gear3.Monitoring.HealthScore.Enabled)
	assert.Empty(t, cfg.Path)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	clearForgeEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
	assert.Empty(t, cmp.Diff(DefaultConfig(), cfg))
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	clearForgeEnv(t)
	path := filepath.Join(t.TempDir(), "forge.yaml")
	doc := `
name: customforge
gear: 3
max_iterations: 5
review:
  approval_threshold: 90
  criteria_defaults:
    security: 18
git:
  remote: upstream
gear3:
  ever_thinker:
    enabled: true
    max_cycles: 2
  monitoring:
    enabled: true
    collection_interval: 60
    metrics_window_hours: 12
    alerts:
      thresholds:
        task_success_rate_min: 0.8
      severity_levels:
        task_success_rate: critical
future_flag: ignored
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "customforge", cfg.Name)
	assert.Equal(t, 3, cfg.Gear)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 90, cfg.Review.ApprovalThreshold)
	assert.Equal(t, map[string]int{"security": 18}, cfg.Review.CriteriaDefaults)
	assert.Equal(t, "upstream", cfg.Git.Remote)
	assert.Equal(t, path, cfg.Path)

	mc := cfg.Gear3.Monitoring
	assert.True(t, mc.Enabled)
	assert.Equal(t, 60*time.Second, mc.Interval())
	assert.Equal(t, 12*time.Hour, mc.Window())
	assert.Equal(t, map[string]float64{"task_success_rate_min": 0.8}, mc.Alerts.Thresholds)
	assert.Equal(t, map[string]string{"task_success_rate": "critical"}, mc.Alerts.SeverityLevels)
	assert.True(t, cfg.Gear3.EverThinker.Enabled)
	assert.Equal(t, 2, cfg.Gear3.EverThinker.MaxCycles)

	// Keys the file never mentions keep their defaults.
	assert.Equal(t, "main", cfg.Git.BaseBranch)
	assert.Equal(t, ".forge", cfg.ProjectRoot)
	assert.True(t, mc.HealthScore.Enabled)
	assert.Equal(t, 2, mc.Alerts.SustainedViolationsRequired)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	clearForgeEnv(t)

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forge.yaml")
		require.NoError(t, os.WriteFile(path, []byte("gear: 7\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "gear", verr.Field)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forge.yaml")
		require.NoError(t, os.WriteFile(path, []byte("gear: [unclosed\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})
}

func TestEnvOverridesBeatTheFile(t *testing.T) {
	clearForgeEnv(t)
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gear: 1\nrequirement: from file\n"), 0o644))

	t.Setenv("FORGE_GEAR", "3")
	t.Setenv("FORGE_PROJECT_ROOT", "/srv/forge")
	t.Setenv("FORGE_REQUIREMENT", "from env")
	t.Setenv("FORGE_BACKEND_COMMAND", "forgegen --stdin")
	t.Setenv("FORGE_GIT_REMOTE", "fork")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Gear)
	assert.Equal(t, "/srv/forge", cfg.ProjectRoot)
	assert.Equal(t, "from env", cfg.Requirement)
	assert.Equal(t, "forgegen --stdin", cfg.Backend.Command)
	assert.Equal(t, "fork", cfg.Git.Remote)
}

func TestEnvOverrideIgnoresBadGear(t *testing.T) {
	clearForgeEnv(t)
	t.Setenv("FORGE_GEAR", "warp")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Gear)
}

func TestValidate(t *testing.T) {
	monitoringOn := func(c *Config) {
		c.Gear = 3
		c.Gear3.Monitoring.Enabled = true
	}

	cases := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"gear too low", func(c *Config) { c.Gear = 0 }, "gear"},
		{"gear too high", func(c *Config) { c.Gear = 4 }, "gear"},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, "max_iterations"},
		{"empty project root", func(c *Config) { c.ProjectRoot = "" }, "project_root"},
		{"threshold below range", func(c *Config) { c.Review.ApprovalThreshold = -1 }, "review.approval_threshold"},
		{"threshold above range", func(c *Config) { c.Review.ApprovalThreshold = 101 }, "review.approval_threshold"},
		{"unknown criterion", func(c *Config) {
			c.Review.CriteriaDefaults = map[string]int{"style": 10}
		}, "review.criteria_defaults"},
		{"negative criterion score", func(c *Config) {
			c.Review.CriteriaDefaults = map[string]int{"security": -1}
		}, "review.criteria_defaults.security"},
		{"unparseable backend timeout", func(c *Config) { c.Backend.Timeout = "soon" }, "backend.timeout"},
		{"ever-thinker without budget", func(c *Config) {
			c.Gear3.EverThinker.Enabled = true
			c.Gear3.EverThinker.MaxCycles = 0
		}, "gear3.ever_thinker.max_cycles"},
		{"zero collection interval", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.CollectionInterval = 0
		}, "gear3.monitoring.collection_interval"},
		{"zero metrics window", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.MetricsWindowHours = 0
		}, "gear3.monitoring.metrics_window_hours"},
		{"unknown metric", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.Metrics = append(c.Gear3.Monitoring.Metrics, "uptime")
		}, "gear3.monitoring.metrics"},
		{"unknown weight metric", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.HealthScore.Weights = map[string]float64{"uptime": 1.0}
		}, "gear3.monitoring.health_score.weights"},
		{"weight out of range", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.HealthScore.Weights = map[string]float64{"task_success_rate": 1.5}
		}, "gear3.monitoring.health_score.weights.task_success_rate"},
		{"weights sum off", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.HealthScore.Weights = map[string]float64{
				"task_success_rate": 0.3,
				"task_error_rate":   0.3,
			}
		}, "gear3.monitoring.health_score.weights"},
		{"inverted health thresholds", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.HealthScore.Thresholds = HealthThresholds{Healthy: 50, Degraded: 60}
		}, "gear3.monitoring.health_score.thresholds"},
		{"negative suppression window", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.Alerts.SuppressionWindowMinutes = -1
		}, "gear3.monitoring.alerts.suppression_window_minutes"},
		{"zero sustained violations", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.Alerts.SustainedViolationsRequired = 0
		}, "gear3.monitoring.alerts.sustained_violations_required"},
		{"threshold key without suffix", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.Alerts.Thresholds = map[string]float64{"task_success_rate": 0.5}
		}, "gear3.monitoring.alerts.thresholds"},
		{"threshold key for unknown metric", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.Alerts.Thresholds = map[string]float64{"uptime_min": 0.5}
		}, "gear3.monitoring.alerts.thresholds"},
		{"severity for unknown metric", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.Alerts.SeverityLevels = map[string]string{"uptime": "warning"}
		}, "gear3.monitoring.alerts.severity_levels"},
		{"unknown severity level", func(c *Config) {
			monitoringOn(c)
			c.Gear3.Monitoring.Alerts.SeverityLevels = map[string]string{"task_error_rate": "fatal"}
		}, "gear3.monitoring.alerts.severity_levels.task_error_rate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.wantField, verr.Field)
			assert.Contains(t, err.Error(), "invalid config: "+tc.wantField)
		})
	}
}

func TestValidateSkipsDisabledSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Timeout = ""
	cfg.Gear3.EverThinker.MaxCycles = 0
	cfg.Gear3.Monitoring.CollectionInterval = 0
	cfg.Gear3.Monitoring.Metrics = []string{"uptime"}
	require.NoError(t, cfg.Validate(), "disabled monitoring must not be validated")

	cfg = DefaultConfig()
	cfg.Gear = 3
	cfg.Gear3.Monitoring.Enabled = true
	cfg.Gear3.Monitoring.HealthScore.Enabled = false
	cfg.Gear3.Monitoring.HealthScore.Weights = map[string]float64{"uptime": 2}
	cfg.Gear3.Monitoring.Alerts.Enabled = false
	cfg.Gear3.Monitoring.Alerts.SustainedViolationsRequired = 0
	require.NoError(t, cfg.Validate(), "disabled subsystems must not be validated")
}

func TestBackendTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120*time.Second, cfg.BackendTimeout())

	cfg.Backend.Timeout = "2m"
	assert.Equal(t, 2*time.Minute, cfg.BackendTimeout())

	for _, bad := range []string{"", "soon", "-5s", "0s"} {
		cfg.Backend.Timeout = bad
		assert.Equal(t, 120*time.Second, cfg.BackendTimeout(), "timeout %q", bad)
	}
}

func TestDurationFallbacks(t *testing.T) {
	mc := MonitoringConfig{CollectionInterval: 45, MetricsWindowHours: 6}
	assert.Equal(t, 45*time.Second, mc.Interval())
	assert.Equal(t, 6*time.Hour, mc.Window())

	var zeroMC MonitoringConfig
	assert.Equal(t, 300*time.Second, zeroMC.Interval())
	assert.Equal(t, 24*time.Hour, zeroMC.Window())

	alerts := AlertsConfig{SuppressionWindowMinutes: 90}
	assert.Equal(t, 90*time.Minute, alerts.Suppression())

	var zeroAlerts AlertsConfig
	assert.Equal(t, 15*time.Minute, zeroAlerts.Suppression())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearForgeEnv(t)
	cfg := DefaultConfig()
	cfg.Gear = 3
	cfg.Requirement = "build a url shortener"
	cfg.Gear3.Monitoring.Enabled = true
	cfg.Gear3.Monitoring.Alerts.Thresholds = map[string]float64{
		"task_success_rate_min": 0.7,
		"task_error_rate_max":   0.3,
	}
	cfg.Gear3.Monitoring.HealthScore.Weights = map[string]float64{
		"task_success_rate": 0.6,
		"task_error_rate":   0.4,
	}

	path := filepath.Join(t.TempDir(), "nested", "forge.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded.Path)

	// YAML rehydrates nil maps as empty ones; that distinction never
	// matters to config readers, so equate them here.
	loaded.Path = "" // never serialized
	assert.Empty(t, cmp.Diff(cfg, loaded, cmpopts.EquateEmpty()))
}
