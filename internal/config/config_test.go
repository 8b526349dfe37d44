// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

agents:
  builder_url: "http://localhost:9001"
  interactor_url: "http://localhost:9002"
  request_timeout: "45s"

state:
  snapshot_path: "./data/state.json"
  save_interval: "15s"

uploads:
  dir: "./data/uploads"
  registry_path: "./data/uploads.db"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	// Verify agents config with duration parsing
	if cfg.Agents.BuilderURL != "http://localhost:9001" {
		t.Errorf("Agents.BuilderURL = %q, want %q", cfg.Agents.BuilderURL, "http://localhost:9001")
	}
	if cfg.Agents.InteractorURL != "http://localhost:9002" {
		t.Errorf("Agents.InteractorURL = %q, want %q", cfg.Agents.InteractorURL, "http://localhost:9002")
	}
	if cfg.Agents.RequestTimeout != 45*time.Second {
		t.Errorf("Agents.RequestTimeout = %v, want %v", cfg.Agents.RequestTimeout, 45*time.Second)
	}

	// Verify state config
	if cfg.State.SnapshotPath != "./data/state.json" {
		t.Errorf("State.SnapshotPath = %q, want %q", cfg.State.SnapshotPath, "./data/state.json")
	}
	if cfg.State.SaveInterval != 15*time.Second {
		t.Errorf("State.SaveInterval = %v, want %v", cfg.State.SaveInterval, 15*time.Second)
	}

	// Verify uploads config
	if cfg.Uploads.Dir != "./data/uploads" {
		t.Errorf("Uploads.Dir = %q, want %q", cfg.Uploads.Dir, "./data/uploads")
	}
	if cfg.Uploads.RegistryPath != "./data/uploads.db" {
		t.Errorf("Uploads.RegistryPath = %q, want %q", cfg.Uploads.RegistryPath, "./data/uploads.db")
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	// Verify metrics config
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BUILDER_URL", "http://builder.internal:9001")
	t.Setenv("TEST_SNAPSHOT_PATH", "/var/lib/pipedeck/state.json")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

agents:
  builder_url: "${TEST_BUILDER_URL}"
  interactor_url: "http://localhost:9002"

state:
  snapshot_path: "${TEST_SNAPSHOT_PATH}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agents.BuilderURL != "http://builder.internal:9001" {
		t.Errorf("Agents.BuilderURL = %q, want %q", cfg.Agents.BuilderURL, "http://builder.internal:9001")
	}
	if cfg.State.SnapshotPath != "/var/lib/pipedeck/state.json" {
		t.Errorf("State.SnapshotPath = %q, want %q", cfg.State.SnapshotPath, "/var/lib/pipedeck/state.json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

agents:
  builder_url: "http://localhost:9001"
  interactor_url: "http://localhost:9002"

state:
  snapshot_path: "./data/state.json"

metrics:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.State.SaveInterval != 30*time.Second {
		t.Errorf("State.SaveInterval = %v, want default %v", cfg.State.SaveInterval, 30*time.Second)
	}
	if cfg.Agents.RequestTimeout != 60*time.Second {
		t.Errorf("Agents.RequestTimeout = %v, want default %v", cfg.Agents.RequestTimeout, 60*time.Second)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Uploads.Dir != "data/uploads" {
		t.Errorf("Uploads.Dir = %q, want default %q", cfg.Uploads.Dir, "data/uploads")
	}
	if cfg.Uploads.RegistryPath != "data/uploads.db" {
		t.Errorf("Uploads.RegistryPath = %q, want default %q", cfg.Uploads.RegistryPath, "data/uploads.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

agents:
  builder_url: "http://localhost:9001"
  interactor_url: "http://localhost:9002"
  request_timeout: "invalid-duration"

state:
  snapshot_path: "./data/state.json"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
agents:
  builder_url: "http://localhost:9001"
  interactor_url: "http://localhost:9002"
state:
  snapshot_path: "./data/state.json"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing snapshot_path",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
agents:
  builder_url: "http://localhost:9001"
  interactor_url: "http://localhost:9002"
state:
  snapshot_path: ""
`,
			wantErrSubstr: "state.snapshot_path is required",
		},
		{
			name: "missing builder_url",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
agents:
  builder_url: ""
  interactor_url: "http://localhost:9002"
state:
  snapshot_path: "./data/state.json"
`,
			wantErrSubstr: "agents.builder_url is required",
		},
		{
			name: "missing interactor_url",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
agents:
  builder_url: "http://localhost:9001"
  interactor_url: ""
state:
  snapshot_path: "./data/state.json"
`,
			wantErrSubstr: "agents.interactor_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
