package config

import "testing"

func TestDefaultAgentConfigValidates(t *testing.T) {
	cfg := DefaultAgentConfig()
	if err := ValidateAgentConfig(&cfg); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateAgentConfigRejectsBadSchemaVersion(t *testing.T) {
	cfg := DefaultAgentConfig()
	cfg.SchemaVersion = "2"
	if err := ValidateAgentConfig(&cfg); err == nil {
		t.Fatal("expected validation error for unsupported schema_version")
	}
}

func TestValidateAgentConfigRejectsZeroConcurrency(t *testing.T) {
	cfg := DefaultAgentConfig()
	cfg.Collector.ConcurrencyCeiling = 0
	if err := ValidateAgentConfig(&cfg); err == nil {
		t.Fatal("expected validation error for concurrency_ceiling=0")
	}
}
