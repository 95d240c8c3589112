package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/herdctl/herd/pkg/types"
)

// ErrInvalid wraps all validation failures. Callers match with errors.Is.
var ErrInvalid = errors.New("invalid config")

// Defaults applied to fields the YAML file leaves unset.
const (
	DefaultCheckTime       = 5
	DefaultMinGPU          = 3
	DefaultMaxGPU          = 8
	DefaultMaxRetry        = 3
	DefaultBackoffDuration = 600

	DefaultGPUCommandFile  = "gpu_command.txt"
	DefaultGPUsCommandFile = "gpus_command.txt"
)

// Load reads the scheduler configuration from a YAML file, applies
// defaults, resolves relative paths against the file's directory, and
// validates the result.
func Load(path string) (*types.SchedulerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	resolvePaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates config bytes. Paths are left as written;
// Load resolves them against the config file's directory.
func Parse(data []byte) (*types.SchedulerConfig, error) {
	cfg := &types.SchedulerConfig{
		CheckTime: DefaultCheckTime,
		MinGPU:    DefaultMinGPU,
		MaxGPU:    DefaultMaxGPU,
		Retry: types.RetryPolicy{
			MaxRetryBeforeBackoff: DefaultMaxRetry,
			BackoffDuration:       DefaultBackoffDuration,
		},
		GPUCommandFile:  DefaultGPUCommandFile,
		GPUsCommandFile: DefaultGPUsCommandFile,
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(false)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration. The sizing triple is checked
// here so the two historical sizing formulas can never disagree on a
// config that passes validation.
func Validate(cfg *types.SchedulerConfig) error {
	if cfg.CheckTime <= 0 {
		return fmt.Errorf("%w: check_time must be positive, got %d", ErrInvalid, cfg.CheckTime)
	}
	if cfg.GPULeft < 0 {
		return fmt.Errorf("%w: gpu_left must be non-negative, got %d", ErrInvalid, cfg.GPULeft)
	}
	if cfg.MinGPU < 1 {
		return fmt.Errorf("%w: min_gpu must be at least 1, got %d", ErrInvalid, cfg.MinGPU)
	}
	if cfg.MinGPU > cfg.MaxGPU {
		return fmt.Errorf("%w: min_gpu %d exceeds max_gpu %d", ErrInvalid, cfg.MinGPU, cfg.MaxGPU)
	}
	if cfg.Retry.MaxRetryBeforeBackoff < 0 {
		return fmt.Errorf("%w: retry_config.max_retry_before_backoff must be non-negative, got %d",
			ErrInvalid, cfg.Retry.MaxRetryBeforeBackoff)
	}
	if cfg.Retry.BackoffDuration < 0 {
		return fmt.Errorf("%w: retry_config.backoff_duration must be non-negative, got %d",
			ErrInvalid, cfg.Retry.BackoffDuration)
	}
	if cfg.StartDelay < 0 {
		return fmt.Errorf("%w: start_delay must be non-negative, got %d", ErrInvalid, cfg.StartDelay)
	}
	if !cfg.UseAllGPUs && len(cfg.CompeteGPUs) == 0 {
		return fmt.Errorf("%w: compete_gpus is empty and use_all_gpus is false", ErrInvalid)
	}
	for _, id := range cfg.CompeteGPUs {
		if id < 0 {
			return fmt.Errorf("%w: negative device id %d in compete_gpus", ErrInvalid, id)
		}
	}
	return nil
}

// resolvePaths makes work_dir, log_dir and the command files absolute.
// An unset work_dir falls back to the config file's directory.
func resolvePaths(cfg *types.SchedulerConfig, baseDir string) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = baseDir
	} else if !filepath.IsAbs(cfg.WorkDir) {
		cfg.WorkDir = filepath.Join(baseDir, cfg.WorkDir)
	}
	if cfg.LogDir != "" && !filepath.IsAbs(cfg.LogDir) {
		cfg.LogDir = filepath.Join(baseDir, cfg.LogDir)
	}
	if !filepath.IsAbs(cfg.GPUCommandFile) {
		cfg.GPUCommandFile = filepath.Join(baseDir, cfg.GPUCommandFile)
	}
	if !filepath.IsAbs(cfg.GPUsCommandFile) {
		cfg.GPUsCommandFile = filepath.Join(baseDir, cfg.GPUsCommandFile)
	}
}

// CommandFilePath returns the command-file path for a mode and config
// index. Index 0 uses the configured base name; index N appends "_N"
// before the extension, so gpu_command.txt becomes gpu_command_2.txt.
func CommandFilePath(cfg *types.SchedulerConfig, mode types.Mode, configIndex int) string {
	base := cfg.CommandFile(mode)
	if configIndex == 0 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), configIndex, ext)
}
