// Package config loads startup configuration for the facility orchestrator,
// grounded on gomind's core.Config: an FACILITYCORE_*-prefixed environment
// variable surface with explicit per-field parsing and warning logs on
// malformed values, plus a DetectEnvironment helper that infers sane
// defaults for local development vs. Kubernetes.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/facilitycore/orchestrator/platform"
)

// Config holds every value the orchestrator recognizes at startup, plus the
// ambient logging/metrics/KV fields a complete deployment needs.
type Config struct {
	MaxConcurrentModels int
	MemoryThresholdGB   float64
	MaxMemoryGB         float64
	CleanupIntervalSec  int
	WorkerTimeoutSec    int
	RecoveryTimeoutSec  int
	KVTTLSec            int

	ScenarioMaxDurationsSec map[string]int

	// SystemDependencies overrides the Coordinator's default dependency
	// table, keyed by agent type name rather than platform.AgentType so
	// this package doesn't need to import coordinator; cmd/facilityd
	// converts it when building coordinator.Config.
	SystemDependencies map[string][]string

	LogLevel  string
	LogFormat string
	DevMode   bool

	RedisURL       string
	MetricsEnabled bool
	MetricsAddr    string

	logger platform.Logger
}

// Default returns the orchestrator's hard-coded startup defaults.
func Default() *Config {
	return &Config{
		MaxConcurrentModels: 2,
		MemoryThresholdGB:   7.0,
		MaxMemoryGB:         8.0,
		CleanupIntervalSec:  30,
		WorkerTimeoutSec:    60,
		RecoveryTimeoutSec:  60,
		KVTTLSec:            86400,
		ScenarioMaxDurationsSec: map[string]int{
			"cooling_crisis":      120,
			"security_breach":     90,
			"energy_optimization": 180,
			"routine_maintenance": 60,
		},
		LogLevel:    "INFO",
		LogFormat:   "text",
		MetricsAddr: ":9090",
	}
}

// SetLogger attaches a logger used only while loading config (to report
// which environment variables were honored or rejected).
func (c *Config) SetLogger(logger platform.Logger) {
	c.logger = logger
}

// DetectEnvironment adjusts format/dev-mode defaults for a Kubernetes
// deployment, mirroring gomind's Config.DetectEnvironment.
func (c *Config) DetectEnvironment() {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		c.LogFormat = "json"
		c.DevMode = false
		return
	}
	if os.Getenv("FACILITYCORE_DEV_MODE") == "" {
		c.DevMode = true
	}
}

// LoadFromEnv overlays environment variables onto the receiver, following
// the FACILITYCORE_* prefix convention. Malformed numeric/duration values
// are logged as warnings and left at their prior value rather than failing
// the whole load, matching gomind's LoadFromEnv behavior.
func (c *Config) LoadFromEnv() error {
	warn := func(setting, envVar string, err error) {
		if c.logger != nil {
			c.logger.Warn("invalid environment value, keeping previous setting", map[string]interface{}{
				"setting": setting,
				"env_var": envVar,
				"error":   err.Error(),
			})
		}
	}

	if v := os.Getenv("FACILITYCORE_MAX_CONCURRENT_MODELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrentModels = n
		} else {
			warn("max_concurrent_models", "FACILITYCORE_MAX_CONCURRENT_MODELS", err)
		}
	}
	if v := os.Getenv("FACILITYCORE_MEMORY_THRESHOLD_GB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MemoryThresholdGB = f
		} else {
			warn("memory_threshold_gb", "FACILITYCORE_MEMORY_THRESHOLD_GB", err)
		}
	}
	if v := os.Getenv("FACILITYCORE_MAX_MEMORY_GB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MaxMemoryGB = f
		} else {
			warn("max_memory_gb", "FACILITYCORE_MAX_MEMORY_GB", err)
		}
	}
	if v := os.Getenv("FACILITYCORE_CLEANUP_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CleanupIntervalSec = n
		} else {
			warn("cleanup_interval_sec", "FACILITYCORE_CLEANUP_INTERVAL_SEC", err)
		}
	}
	if v := os.Getenv("FACILITYCORE_WORKER_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerTimeoutSec = n
		} else {
			warn("worker_timeout_sec", "FACILITYCORE_WORKER_TIMEOUT_SEC", err)
		}
	}
	if v := os.Getenv("FACILITYCORE_RECOVERY_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecoveryTimeoutSec = n
		} else {
			warn("recovery_timeout_sec", "FACILITYCORE_RECOVERY_TIMEOUT_SEC", err)
		}
	}
	if v := os.Getenv("FACILITYCORE_KV_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.KVTTLSec = n
		} else {
			warn("kv_ttl_sec", "FACILITYCORE_KV_TTL_SEC", err)
		}
	}
	if v := os.Getenv("FACILITYCORE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FACILITYCORE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("FACILITYCORE_DEV_MODE"); v != "" {
		c.DevMode = v == "true"
	}
	if v := os.Getenv("FACILITYCORE_REDIS_URL"); v != "" {
		c.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("FACILITYCORE_METRICS_ENABLED"); v != "" {
		c.MetricsEnabled = v == "true"
	}
	if v := os.Getenv("FACILITYCORE_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}

	return nil
}

// fileOverrides is the subset of Config an operator can override from a
// YAML file, kept separate from Config itself so the bulk of Config's
// fields (env-only) don't need yaml tags.
type fileOverrides struct {
	ScenarioMaxDurationsSec map[string]int      `yaml:"scenario_max_durations_sec"`
	SystemDependencies      map[string][]string `yaml:"system_dependencies"`
}

// LoadFromFile overlays a YAML config file onto the receiver: scenario
// duration budgets and the coordinator's dependency table, the two
// settings operators tune per-deployment rather than per-process. A
// missing file is not an error (file-based config is optional); a
// malformed one is. Call before LoadFromEnv so environment variables
// still take precedence over the file.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return platform.NewFrameworkError("config.LoadFromFile", "config", err)
	}

	var overrides fileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return platform.NewFrameworkError("config.LoadFromFile", "config", err)
	}

	for scenarioType, secs := range overrides.ScenarioMaxDurationsSec {
		c.ScenarioMaxDurationsSec[scenarioType] = secs
	}
	if len(overrides.SystemDependencies) > 0 {
		c.SystemDependencies = overrides.SystemDependencies
	}
	return nil
}

// Validate enforces the invariants a malformed environment can violate
// (non-positive timeouts, thresholds above the hard cap).
func (c *Config) Validate() error {
	if c.MaxConcurrentModels <= 0 {
		return platform.NewFrameworkError("config.Validate", "config", platform.ErrInvalidConfiguration)
	}
	if c.MemoryThresholdGB <= 0 || c.MemoryThresholdGB > c.MaxMemoryGB {
		return platform.NewFrameworkError("config.Validate", "config", platform.ErrInvalidConfiguration)
	}
	if c.WorkerTimeoutSec <= 0 || c.RecoveryTimeoutSec <= 0 {
		return platform.NewFrameworkError("config.Validate", "config", platform.ErrInvalidConfiguration)
	}
	return nil
}

// ScenarioMaxDuration returns the configured max-duration budget for a
// scenario type, falling back to d if no override is configured.
func (c *Config) ScenarioMaxDuration(scenarioType string, d time.Duration) time.Duration {
	if secs, ok := c.ScenarioMaxDurationsSec[scenarioType]; ok {
		return time.Duration(secs) * time.Second
	}
	return d
}
