// Package config provides YAML configuration loading and validation for
// Tracehound, matching the environment/configuration surface of §6's
// default tuple and the ambient-stack defaulting/validation idiom the
// teacher's own config package uses: unmarshal, applyDefaults, validate,
// errors.Join of every field failure rather than fail-fast on the first.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is Tracehound's top-level configuration.
type Config struct {
	MaxPayloadSize int `yaml:"max_payload_size"`

	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Quarantine QuarantineConfig `yaml:"quarantine"`
	HoundPool  HoundPoolConfig  `yaml:"hound_pool"`
	FailSafe   FailSafeConfig   `yaml:"fail_safe"`

	// ColdStorageBackend selects the Cold Storage Adapter's backend: one
	// of "filesystem", "s3", "postgres", or "" to disable cold storage
	// entirely (the default: evicted evidence is neutralized outright).
	ColdStorageBackend string `yaml:"cold_storage_backend"`

	// ColdStorageEndpoint is an opaque connection string interpreted by
	// the chosen cold-storage backend (filesystem base directory, S3
	// bucket name, or Postgres DSN). Required when ColdStorageBackend is
	// set.
	ColdStorageEndpoint string `yaml:"cold_storage_endpoint"`

	// ColdStorageRegion is consulted only when ColdStorageBackend is "s3".
	ColdStorageRegion string `yaml:"cold_storage_region"`

	// AuditChainPath is the location of the audit chain. Required. houndd
	// opens it as a JSONL file chain (audit.OpenFileChain); nothing in this
	// repository opens it as a SQLite path or Postgres DSN.
	AuditChainPath string `yaml:"audit_chain_path"`

	LogLevel string `yaml:"log_level"`

	// MetricsAddr is a listen address for Prometheus metrics. Defaults to
	// "127.0.0.1:9090" when omitted. It is loaded and defaulted only: no
	// component in this repository starts a /metrics server on it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// RateLimitConfig mirrors ratelimit.Config with YAML tags.
type RateLimitConfig struct {
	WindowMs        int64 `yaml:"window_ms"`
	MaxRequests     int   `yaml:"max_requests"`
	BlockDurationMs int64 `yaml:"block_duration_ms"`
}

// QuarantineConfig mirrors quarantine.Config with YAML tags.
type QuarantineConfig struct {
	MaxCount       int    `yaml:"max_count"`
	MaxBytes       int64  `yaml:"max_bytes"`
	EvictionPolicy string `yaml:"eviction_policy"`
}

// HoundPoolConfig mirrors hound.Config with YAML tags.
type HoundPoolConfig struct {
	PoolSize         int    `yaml:"pool_size"`
	TimeoutMs        int64  `yaml:"timeout_ms"`
	RotationJitterMs int64  `yaml:"rotation_jitter_ms"`
	OnPoolExhausted  string `yaml:"on_pool_exhausted"`
	DeferQueueLimit  int    `yaml:"defer_queue_limit"`
	ScriptPath       string `yaml:"script_path"`
}

// ThresholdConfig mirrors failsafe.Thresholds with YAML tags.
type ThresholdConfig struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// FailSafeConfig mirrors failsafe.Config plus the polling cadence and
// memory ceiling the background monitor loop needs, with YAML tags.
type FailSafeConfig struct {
	Quarantine     ThresholdConfig `yaml:"quarantine"`
	Memory         ThresholdConfig `yaml:"memory"`
	ErrorRate      ThresholdConfig `yaml:"error_rate"`
	MemoryMaxBytes int64           `yaml:"memory_max_bytes"`
	PollIntervalMs int64           `yaml:"poll_interval_ms"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvictionPolicies = map[string]bool{
	"priority": true,
}

var validExhaustionPolicies = map[string]bool{
	"drop":     true,
	"escalate": true,
	"defer":    true,
}

var validColdStorageBackends = map[string]bool{
	"":           true,
	"filesystem": true,
	"s3":         true,
	"postgres":   true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates every field. It returns a typed error
// joining every validation failure found, not just the first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with the defaults
// named in §6's environment surface.
func applyDefaults(cfg *Config) {
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = 1_000_000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = "127.0.0.1:9090"
	}

	if cfg.RateLimit.WindowMs == 0 {
		cfg.RateLimit.WindowMs = 60_000
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 100
	}
	if cfg.RateLimit.BlockDurationMs == 0 {
		cfg.RateLimit.BlockDurationMs = 300_000
	}

	if cfg.Quarantine.MaxCount == 0 {
		cfg.Quarantine.MaxCount = 10_000
	}
	if cfg.Quarantine.MaxBytes == 0 {
		cfg.Quarantine.MaxBytes = 100_000_000
	}
	if cfg.Quarantine.EvictionPolicy == "" {
		cfg.Quarantine.EvictionPolicy = "priority"
	}

	if cfg.HoundPool.PoolSize == 0 {
		cfg.HoundPool.PoolSize = 4
	}
	if cfg.HoundPool.TimeoutMs == 0 {
		cfg.HoundPool.TimeoutMs = 30_000
	}
	if cfg.HoundPool.RotationJitterMs == 0 {
		cfg.HoundPool.RotationJitterMs = 1_000
	}
	if cfg.HoundPool.OnPoolExhausted == "" {
		cfg.HoundPool.OnPoolExhausted = "defer"
	}
	if cfg.HoundPool.DeferQueueLimit == 0 {
		cfg.HoundPool.DeferQueueLimit = 100
	}

	if cfg.FailSafe.Quarantine == (ThresholdConfig{}) {
		cfg.FailSafe.Quarantine = ThresholdConfig{Warning: 0.7, Critical: 0.85, Emergency: 0.95}
	}
	if cfg.FailSafe.ErrorRate == (ThresholdConfig{}) {
		cfg.FailSafe.ErrorRate = ThresholdConfig{Warning: 10, Critical: 50, Emergency: 200}
	}
	if cfg.FailSafe.Memory == (ThresholdConfig{}) {
		cfg.FailSafe.Memory = ThresholdConfig{Warning: 0.7, Critical: 0.85, Emergency: 0.95}
	}
	if cfg.FailSafe.PollIntervalMs == 0 {
		cfg.FailSafe.PollIntervalMs = 10_000
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.AuditChainPath == "" {
		errs = append(errs, errors.New("audit_chain_path is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.MaxPayloadSize <= 0 {
		errs = append(errs, errors.New("max_payload_size must be strictly positive"))
	}

	if cfg.RateLimit.WindowMs <= 0 {
		errs = append(errs, errors.New("rate_limit.window_ms must be strictly positive"))
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("rate_limit.max_requests must be strictly positive"))
	}
	if cfg.RateLimit.BlockDurationMs < 0 {
		errs = append(errs, errors.New("rate_limit.block_duration_ms must not be negative"))
	}

	if cfg.Quarantine.MaxCount <= 0 {
		errs = append(errs, errors.New("quarantine.max_count must be strictly positive"))
	}
	if cfg.Quarantine.MaxBytes <= 0 {
		errs = append(errs, errors.New("quarantine.max_bytes must be strictly positive"))
	}
	if !validEvictionPolicies[cfg.Quarantine.EvictionPolicy] {
		errs = append(errs, fmt.Errorf("quarantine.eviction_policy %q must be one of: priority", cfg.Quarantine.EvictionPolicy))
	}

	if cfg.HoundPool.PoolSize <= 0 {
		errs = append(errs, errors.New("hound_pool.pool_size must be strictly positive"))
	}
	if cfg.HoundPool.TimeoutMs <= 0 {
		errs = append(errs, errors.New("hound_pool.timeout_ms must be strictly positive"))
	}
	if !validExhaustionPolicies[cfg.HoundPool.OnPoolExhausted] {
		errs = append(errs, fmt.Errorf("hound_pool.on_pool_exhausted %q must be one of: drop, escalate, defer", cfg.HoundPool.OnPoolExhausted))
	}
	if cfg.HoundPool.DeferQueueLimit <= 0 {
		errs = append(errs, errors.New("hound_pool.defer_queue_limit must be strictly positive"))
	}

	if !validColdStorageBackends[cfg.ColdStorageBackend] {
		errs = append(errs, fmt.Errorf("cold_storage_backend %q must be one of: filesystem, s3, postgres", cfg.ColdStorageBackend))
	}
	if cfg.ColdStorageBackend != "" && cfg.ColdStorageEndpoint == "" {
		errs = append(errs, errors.New("cold_storage_endpoint is required when cold_storage_backend is set"))
	}
	if cfg.ColdStorageBackend == "s3" && cfg.ColdStorageRegion == "" {
		errs = append(errs, errors.New("cold_storage_region is required when cold_storage_backend is \"s3\""))
	}

	errs = append(errs, validateThresholds("fail_safe.quarantine", cfg.FailSafe.Quarantine)...)
	errs = append(errs, validateThresholds("fail_safe.memory", cfg.FailSafe.Memory)...)
	errs = append(errs, validateThresholds("fail_safe.error_rate", cfg.FailSafe.ErrorRate)...)
	if cfg.FailSafe.MemoryMaxBytes < 0 {
		errs = append(errs, errors.New("fail_safe.memory_max_bytes must not be negative"))
	}
	if cfg.FailSafe.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("fail_safe.poll_interval_ms must be strictly positive"))
	}

	return errors.Join(errs...)
}

// validateThresholds checks that a threshold tuple is non-negative and
// non-decreasing across its warning/critical/emergency levels.
func validateThresholds(field string, t ThresholdConfig) []error {
	var errs []error
	if t.Warning < 0 || t.Critical < 0 || t.Emergency < 0 {
		errs = append(errs, fmt.Errorf("%s thresholds must not be negative", field))
	}
	if t.Warning > t.Critical || t.Critical > t.Emergency {
		errs = append(errs, fmt.Errorf("%s thresholds must be non-decreasing (warning <= critical <= emergency)", field))
	}
	return errs
}
