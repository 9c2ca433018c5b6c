package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaultsValid(t *testing.T) {
	if err := validateConfig(GetDefaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadPort", func(c *Config) { c.Server.Port = 0 }},
		{"BadLevel", func(c *Config) { c.Logging.Level = "verbose" }},
		{"BadFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"BadLookahead", func(c *Config) { c.Detection.LookaheadChars = 0 }},
		{"BadScore", func(c *Config) { c.NER.MinScore = 1.5 }},
		{"BadBackend", func(c *Config) { c.NER.Backend = "grpc" }},
		{"BadTextSink", func(c *Config) { c.Export.TextSink = "dynamodb" }},
		{"BadMappingSink", func(c *Config) { c.Export.MappingSink = "ftp" }},
		{"AuthWithoutSecret", func(c *Config) { c.Auth.Enabled = true }},
		{"NoWorkers", func(c *Config) { c.Jobs.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9191
detection:
  rules: ["EMAIL", "IBAN"]
  keywords: ["holder"]
export:
  dir: /tmp/out
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if len(cfg.Detection.Rules) != 2 {
		t.Errorf("rules = %v", cfg.Detection.Rules)
	}
	if cfg.Detection.LookaheadChars != 50 {
		t.Errorf("default lookahead lost: %d", cfg.Detection.LookaheadChars)
	}
	if cfg.Export.MappingName != "mapping_pii.json" {
		t.Errorf("default mapping name lost: %s", cfg.Export.MappingName)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DOCSENTINEL_SERVER_PORT", "7070")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}
