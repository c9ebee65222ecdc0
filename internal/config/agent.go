// Package config loads the two configuration tiers Process Triage uses:
// the ambient AgentConfig (YAML, operator-facing) and the domain configs
// Capabilities/PriorsConfig/PolicyConfig/RedactionConfig (JSON, spec-
// mandated schemas). See SPEC_FULL.md §10.2.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig governs concurrency ceilings, logging, metrics, and session
// storage location for the proctriage binary. Shape mirrors the teacher's
// own Config/Validate/Defaults triad.
type AgentConfig struct {
	SchemaVersion string `yaml:"schema_version"`

	Collector CollectorConfig `yaml:"collector"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Session   SessionConfig   `yaml:"session"`
}

type CollectorConfig struct {
	ConcurrencyCeiling int           `yaml:"concurrency_ceiling"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	ProbeByteCap        int           `yaml:"probe_byte_cap"`
	// PerfPinPath is the path to a pre-pinned eBPF perf-counter map
	// (run-queue latency) a privileged installer has already loaded.
	// Empty disables the probe regardless of what the capability manifest
	// asserts, since there is nothing to open.
	PerfPinPath string `yaml:"perf_pin_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SessionConfig struct {
	RootDir         string        `yaml:"root_dir"`
	RetentionDays   int           `yaml:"retention_days"`
	DefaultProfile  string        `yaml:"default_profile"`
	LockExpiry      time.Duration `yaml:"lock_expiry"`
}

// DefaultAgentConfig returns the built-in defaults.
func DefaultAgentConfig() AgentConfig {
	home, _ := os.UserHomeDir()
	return AgentConfig{
		SchemaVersion: "1",
		Collector: CollectorConfig{
			ConcurrencyCeiling: 4,
			ProbeTimeout:        2 * time.Second,
			ProbeByteCap:        64 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9092",
		},
		Session: SessionConfig{
			RootDir:        home + "/.local/share/proctriage/sessions",
			RetentionDays:  30,
			DefaultProfile: "quick",
			LockExpiry:     10 * time.Minute,
		},
	}
}

// LoadAgentConfig reads and validates a YAML agent config from path,
// merging over the built-in defaults.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadAgentConfig: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.LoadAgentConfig: parse %q: %w", path, err)
	}
	if err := ValidateAgentConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config.LoadAgentConfig: validation failed: %w", err)
	}
	return &cfg, nil
}

// ValidateAgentConfig checks invariants the built-in defaults always
// satisfy but an operator-edited file might not.
func ValidateAgentConfig(cfg *AgentConfig) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Collector.ConcurrencyCeiling < 1 || cfg.Collector.ConcurrencyCeiling > 64 {
		errs = append(errs, fmt.Sprintf("collector.concurrency_ceiling must be in [1, 64], got %d", cfg.Collector.ConcurrencyCeiling))
	}
	if cfg.Collector.ProbeTimeout < 100*time.Millisecond {
		errs = append(errs, fmt.Sprintf("collector.probe_timeout must be >= 100ms, got %s", cfg.Collector.ProbeTimeout))
	}
	if cfg.Session.RootDir == "" {
		errs = append(errs, "session.root_dir must not be empty")
	}
	if cfg.Session.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("session.retention_days must be >= 1, got %d", cfg.Session.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("agent config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
