package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aquapilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
loop:
  interval: 10s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Loop.Interval)
	assert.Equal(t, "standard", cfg.Loop.DefaultPipeline)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.Equal(t, uint32(5), cfg.Executor.BreakerFailures)
	assert.Equal(t, "sqlite3", cfg.Knowledge.Driver)
	assert.Equal(t, 1000, cfg.EventBus.HistorySize)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
loop:
  interval: 5s
  default_pipeline: emergency
analyzer:
  default_scenario: peak_demand
executor:
  dispatch_timeout: 2s
  max_attempts: 5
adapters:
  systems:
    - name: plant-a
      protocol: modbus
      address: 10.0.0.5:502
      priority: 3
    - name: plant-b
      protocol: soap
      address: http://plant-b.local/ws
      priority: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "emergency", cfg.Loop.DefaultPipeline)
	assert.Equal(t, "peak_demand", cfg.Analyzer.DefaultScenario)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	require.Len(t, cfg.Adapters.Systems, 2)
	assert.Equal(t, 5*time.Second, cfg.Adapters.Systems[0].Timeout) // default
	assert.Equal(t, 3, cfg.Adapters.Systems[0].Priority)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
knowledge:
  driver: oracle
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported knowledge driver")
}

func TestLoadRejectsDuplicateAdapterNames(t *testing.T) {
	path := writeConfig(t, `
adapters:
  systems:
    - name: plant-a
      protocol: modbus
      address: 10.0.0.5:502
    - name: plant-a
      protocol: csvfile
      address: /data/plant-a
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate adapter system")
}

func TestLoadRejectsUnknownProtocol(t *testing.T) {
	path := writeConfig(t, `
adapters:
  systems:
    - name: plant-a
      protocol: dnp3
      address: 10.0.0.5
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AQUAPILOT_KNOWLEDGE_DSN", "postgres://override")
	t.Setenv("AQUAPILOT_KNOWLEDGE_DRIVER", "postgres")
	t.Setenv("AQUAPILOT_METRICS_PORT", "9191")

	path := writeConfig(t, `
knowledge:
  driver: sqlite3
  dsn: file:local.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://override", cfg.Knowledge.DSN)
	assert.Equal(t, "postgres", cfg.Knowledge.Driver)
	assert.Equal(t, 9191, cfg.Metrics.Port)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Loop.Interval)
}
