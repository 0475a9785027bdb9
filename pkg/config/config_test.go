package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, ModeBFS, cfg.FuzzingMode)
	assert.Equal(t, 1, cfg.FuzzingJobs)
	assert.True(t, cfg.UseRenderingCache)
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().MaxSequenceLength, cfg.MaxSequenceLength)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
fuzzing_mode: directed-smoke-test
max_sequence_length: 5
time_budget: 10m
fuzzing_jobs: 4
create_once:
  - put_account
custom_bug_codes: ["5*", "418"]
target:
  host: api.local
  port: 8888
  scheme: https
garbage_collection:
  dyn_objects_cache_size: 3
  interval: 15s
per_resource_delays:
  put_city: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeDirectedSmokeTest, cfg.FuzzingMode)
	assert.Equal(t, 5, cfg.MaxSequenceLength)
	assert.Equal(t, 10*time.Minute, cfg.TimeBudget)
	assert.Equal(t, 4, cfg.FuzzingJobs)
	assert.Equal(t, []string{"put_account"}, cfg.CreateOnce)
	assert.Equal(t, "api.local", cfg.Target.Host)
	assert.Equal(t, 8888, cfg.Target.Port)
	assert.Equal(t, 3, cfg.GarbageCollection.DynObjectsCacheSize)
	assert.Equal(t, 15*time.Second, cfg.GarbageCollection.Interval)
	assert.Equal(t, 2*time.Second, cfg.ProducerDelay("put_city"))
	assert.Equal(t, time.Duration(0), cfg.ProducerDelay("other"))
	// untouched fields keep their defaults
	assert.Equal(t, Defaults().MaxCombinations, cfg.MaxCombinations)
}

func TestLoadInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
fuzzing_mode: depth-first
max_sequence_length: 0
custom_bug_codes: ["5xx"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 3)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SEQFUZZ_FUZZING_MODE", ModeRandomWalk)
	t.Setenv("SEQFUZZ_FUZZING_JOBS", "8")
	t.Setenv("SEQFUZZ_CHECKERS", "payload_body, other ")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, ModeRandomWalk, cfg.FuzzingMode)
	assert.Equal(t, 8, cfg.FuzzingJobs)
	assert.Equal(t, []string{"payload_body", "other"}, cfg.Checkers)
}

func TestModePredicates(t *testing.T) {
	tests := []struct {
		mode              string
		quick, terminal   bool
		throttlesCheckers bool
	}{
		{ModeBFS, false, false, false},
		{ModeBFSFast, true, false, false},
		{ModeBFSCheap, false, true, true},
		{ModeBFSMinimal, true, true, true},
		{ModeRandomWalk, false, true, false},
		{ModeDirectedSmokeTest, false, true, false},
		{ModeTestAllCombinations, false, false, false},
	}
	for _, tt := range tests {
		s := &Settings{FuzzingMode: tt.mode}
		assert.Equal(t, tt.quick, s.IsQuickMode(), tt.mode)
		assert.Equal(t, tt.terminal, s.IsTerminalMode(), tt.mode)
		assert.Equal(t, tt.throttlesCheckers, s.ThrottlesCheckers(), tt.mode)
	}
}

func TestMatchStatusPattern(t *testing.T) {
	assert.True(t, MatchStatusPattern("5*", 503))
	assert.True(t, MatchStatusPattern("50*", 500))
	assert.False(t, MatchStatusPattern("50*", 510))
	assert.True(t, MatchStatusPattern("404", 404))
	assert.False(t, MatchStatusPattern("404", 400))
	assert.True(t, MatchStatusPattern("*", 200))
}

func TestValidStatusPattern(t *testing.T) {
	for _, p := range []string{"500", "5*", "50*", "*"} {
		assert.True(t, validStatusPattern(p), p)
	}
	for _, p := range []string{"", "5xx", "5000", "50", "5**"} {
		assert.False(t, validStatusPattern(p), p)
	}
}
