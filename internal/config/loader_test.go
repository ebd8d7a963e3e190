package config

import (
	"log/slog"
	"os"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	// Create a temp YAML file
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(dir+"/"+name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "conduit.yaml", `
server:
  port: 8081
dispatch:
  requests_per_minute: 90
  max_retries: 5
`)
	writeConfigFile(t, dir, "providers.yaml", `
providers:
  anthropic:
    type: anthropic
    base_url: https://api.anthropic.com
    api_key: test-key
    timeout: 60s
`)
	writeConfigFile(t, dir, "models.yaml", `
models:
  sonnet:
    provider: anthropic
    model: claude-sonnet-4-5
pricing:
  sonnet:
    input: 3.0
    output: 15.0
`)
	writeConfigFile(t, dir, "limits.yaml", `
models:
  sonnet:
    requests_per_minute: 120
    burst_capacity: 20
`)

	loader := NewLoader(dir, slog.Default())
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := loader.Config()
	if cfg.Server.Port != 8081 {
		t.Errorf("port = %d, want 8081", cfg.Server.Port)
	}
	// Unset fields keep defaults.
	if cfg.Dispatch.BurstCapacity != 10 {
		t.Errorf("burst = %f, want default 10", cfg.Dispatch.BurstCapacity)
	}
	if cfg.Dispatch.RequestsPerMinute != 90 {
		t.Errorf("rpm = %f, want 90", cfg.Dispatch.RequestsPerMinute)
	}
	if cfg.Dispatch.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", cfg.Dispatch.MaxRetries)
	}

	if _, ok := loader.Providers().Providers["anthropic"]; !ok {
		t.Error("anthropic provider missing")
	}
	if route, ok := loader.Models().Route("sonnet"); !ok || route.Model != "claude-sonnet-4-5" {
		t.Errorf("route = %+v, ok=%v", route, ok)
	}

	limit, ok := loader.Limits().Models["sonnet"]
	if !ok {
		t.Fatal("sonnet limit missing")
	}
	if limit.RequestsPerMinute != 120 || limit.BurstCapacity != 20 {
		t.Errorf("limit = %+v", limit)
	}
}

func TestLoader_LoadMissingFile(t *testing.T) {
	loader := NewLoader(t.TempDir(), slog.Default())
	if err := loader.Load(); err == nil {
		t.Error("expected error for missing config files")
	}
}
