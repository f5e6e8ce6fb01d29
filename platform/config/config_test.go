package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/platform/config"
)

func TestLoadFromFileMissingFileIsNotAnError(t *testing.T) {
	c := config.Default()
	err := c.LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default().ScenarioMaxDurationsSec, c.ScenarioMaxDurationsSec)
}

func TestLoadFromFileOverridesScenarioDurationsAndDependencies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilitycore.yaml")
	contents := `
scenario_max_durations_sec:
  cooling_crisis: 45
system_dependencies:
  coordinator:
    - hvac
    - power
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	c := config.Default()
	require.NoError(t, c.LoadFromFile(path))

	assert.Equal(t, 45, c.ScenarioMaxDurationsSec["cooling_crisis"])
	assert.Equal(t, 90, c.ScenarioMaxDurationsSec["security_breach"], "unrelated defaults survive the partial override")
	assert.Equal(t, []string{"hvac", "power"}, c.SystemDependencies["coordinator"])
}

func TestLoadFromFileMalformedYAMLIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilitycore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o600))

	c := config.Default()
	err := c.LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromFileThenLoadFromEnvEnvTakesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilitycore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenario_max_durations_sec:\n  cooling_crisis: 45\n"), 0o600))

	t.Setenv("FACILITYCORE_LOG_LEVEL", "DEBUG")

	c := config.Default()
	require.NoError(t, c.LoadFromFile(path))
	require.NoError(t, c.LoadFromEnv())

	assert.Equal(t, 45, c.ScenarioMaxDurationsSec["cooling_crisis"])
	assert.Equal(t, "DEBUG", c.LogLevel)
}
