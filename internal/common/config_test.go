package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFiles_NoPathsReturnsDefaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig(), config)
}

func TestLoadFromFiles_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_parallel_jobs = 8
keep_going = true

[log]
level = "debug"
`), 0o644))

	config, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 8, config.MaxParallelJobs)
	assert.True(t, config.KeepGoing)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format, "unset fields keep their default")
}

func TestLoadFromFiles_LaterFileOverridesEarlier(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	require.NoError(t, os.WriteFile(first, []byte("max_parallel_jobs = 2\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("max_parallel_jobs = 16\n"), 0o644))

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, 16, config.MaxParallelJobs)
}

func TestLoadFromFiles_MissingFileErrors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel_jobs = 8\n"), 0o644))

	t.Setenv("FLOW_MAX_PARALLEL_JOBS", "32")
	t.Setenv("FLOW_KEEP_GOING", "true")
	t.Setenv("FLOW_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 32, config.MaxParallelJobs)
	assert.True(t, config.KeepGoing)
	assert.Equal(t, []string{"stdout", "file"}, config.Log.Output)
}

func TestValidateWatchSchedule_RejectsEveryMinute(t *testing.T) {
	assert.Error(t, ValidateWatchSchedule("* * * * *"))
}

func TestValidateWatchSchedule_RejectsSubFiveMinuteInterval(t *testing.T) {
	assert.Error(t, ValidateWatchSchedule("*/2 * * * *"))
}

func TestValidateWatchSchedule_AcceptsFiveMinuteInterval(t *testing.T) {
	assert.NoError(t, ValidateWatchSchedule("*/5 * * * *"))
}

func TestValidateWatchSchedule_AcceptsFixedMinute(t *testing.T) {
	assert.NoError(t, ValidateWatchSchedule("30 2 * * *"))
}

func TestValidateWatchSchedule_RejectsMalformedExpression(t *testing.T) {
	assert.Error(t, ValidateWatchSchedule("not a schedule"))
}
