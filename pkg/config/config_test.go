package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herdctl/herd/pkg/types"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("use_all_gpus: true\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultCheckTime, cfg.CheckTime)
	assert.Equal(t, DefaultMinGPU, cfg.MinGPU)
	assert.Equal(t, DefaultMaxGPU, cfg.MaxGPU)
	assert.Equal(t, DefaultMaxRetry, cfg.Retry.MaxRetryBeforeBackoff)
	assert.Equal(t, DefaultBackoffDuration, cfg.Retry.BackoffDuration)
	assert.Equal(t, DefaultGPUCommandFile, cfg.GPUCommandFile)
	assert.Equal(t, DefaultGPUsCommandFile, cfg.GPUsCommandFile)
	assert.False(t, cfg.MaximizeUtilization)
	assert.False(t, cfg.MemorySaveMode)
}

func TestParseFullConfig(t *testing.T) {
	input := `
check_time: 10
maximize_resource_utilization: true
memory_save_mode: true
compete_gpus: [0, 1, 2]
gpu_left: 1
min_gpu: 2
max_gpu: 4
retry_config:
  max_retry_before_backoff: 5
  backoff_duration: 60
work_dir: /data/project
log_dir: logs
start_delay: 30
gpu_command_file: my_tasks.txt
`
	cfg, err := Parse([]byte(input))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.CheckTime)
	assert.True(t, cfg.MaximizeUtilization)
	assert.True(t, cfg.MemorySaveMode)
	assert.Equal(t, []int{0, 1, 2}, cfg.CompeteGPUs)
	assert.Equal(t, 1, cfg.GPULeft)
	assert.Equal(t, 2, cfg.MinGPU)
	assert.Equal(t, 4, cfg.MaxGPU)
	assert.Equal(t, 5, cfg.Retry.MaxRetryBeforeBackoff)
	assert.Equal(t, 60, cfg.Retry.BackoffDuration)
	assert.Equal(t, 30, cfg.StartDelay)
	assert.Equal(t, "my_tasks.txt", cfg.GPUCommandFile)
}

func TestValidateErrors(t *testing.T) {
	base := func() *types.SchedulerConfig {
		cfg, err := Parse([]byte("use_all_gpus: true\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*types.SchedulerConfig)
	}{
		{"zero check_time", func(c *types.SchedulerConfig) { c.CheckTime = 0 }},
		{"negative gpu_left", func(c *types.SchedulerConfig) { c.GPULeft = -1 }},
		{"zero min_gpu", func(c *types.SchedulerConfig) { c.MinGPU = 0 }},
		{"min above max", func(c *types.SchedulerConfig) { c.MinGPU = 9; c.MaxGPU = 2 }},
		{"negative retry threshold", func(c *types.SchedulerConfig) { c.Retry.MaxRetryBeforeBackoff = -1 }},
		{"negative backoff", func(c *types.SchedulerConfig) { c.Retry.BackoffDuration = -1 }},
		{"negative start_delay", func(c *types.SchedulerConfig) { c.StartDelay = -1 }},
		{"no devices configured", func(c *types.SchedulerConfig) { c.UseAllGPUs = false; c.CompeteGPUs = nil }},
		{"negative device id", func(c *types.SchedulerConfig) { c.UseAllGPUs = false; c.CompeteGPUs = []int{0, -2} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herd.yaml")
	input := `
use_all_gpus: true
log_dir: logs
gpu_command_file: tasks.txt
gpus_command_file: /abs/multi.txt
`
	require.NoError(t, os.WriteFile(path, []byte(input), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.WorkDir, "unset work_dir falls back to config dir")
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.LogDir)
	assert.Equal(t, filepath.Join(dir, "tasks.txt"), cfg.GPUCommandFile)
	assert.Equal(t, "/abs/multi.txt", cfg.GPUsCommandFile, "absolute paths are kept as written")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("check_time: [not an int\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestCommandFilePath(t *testing.T) {
	cfg := &types.SchedulerConfig{
		GPUCommandFile:  "/work/gpu_command.txt",
		GPUsCommandFile: "/work/gpus_command.txt",
	}

	assert.Equal(t, "/work/gpu_command.txt", CommandFilePath(cfg, types.ModeSingle, 0))
	assert.Equal(t, "/work/gpu_command_2.txt", CommandFilePath(cfg, types.ModeSingle, 2))
	assert.Equal(t, "/work/gpus_command_1.txt", CommandFilePath(cfg, types.ModeMulti, 1))
}

func TestCommandFilePathNoExtension(t *testing.T) {
	cfg := &types.SchedulerConfig{GPUCommandFile: "/work/commands"}
	assert.Equal(t, "/work/commands_3", CommandFilePath(cfg, types.ModeSingle, 3))
}
