// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion and overrides, durations, and validation

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  url: "http://messages.internal:8000"

agent:
  id: "planner"
  token_path: "/tmp/planner.token"

stream:
  reconnect_interval: "5s"
  idle_timeout: "45s"
  heartbeat_tokens:
    - "heartbeat"
    - "ping"

session:
  history_limit: 20
  match_window: "3s"
  peer_poll_interval: "10s"

gateway:
  addr: "127.0.0.1:9000"
  database_path: "./test.db"
  jwt_secret: "s3cret"
  poll_interval: "500ms"
  token_ttl: "2h"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.URL != "http://messages.internal:8000" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Agent.ID != "planner" {
		t.Errorf("Agent.ID = %q, want %q", cfg.Agent.ID, "planner")
	}
	if cfg.Agent.TokenPath != "/tmp/planner.token" {
		t.Errorf("Agent.TokenPath = %q", cfg.Agent.TokenPath)
	}
	if cfg.Stream.ReconnectInterval != 5*time.Second {
		t.Errorf("Stream.ReconnectInterval = %v, want 5s", cfg.Stream.ReconnectInterval)
	}
	if cfg.Stream.IdleTimeout != 45*time.Second {
		t.Errorf("Stream.IdleTimeout = %v, want 45s", cfg.Stream.IdleTimeout)
	}
	if !reflect.DeepEqual(cfg.Stream.HeartbeatTokens, []string{"heartbeat", "ping"}) {
		t.Errorf("Stream.HeartbeatTokens = %v", cfg.Stream.HeartbeatTokens)
	}
	if cfg.Session.HistoryLimit != 20 {
		t.Errorf("Session.HistoryLimit = %d, want 20", cfg.Session.HistoryLimit)
	}
	if cfg.Session.MatchWindow != 3*time.Second {
		t.Errorf("Session.MatchWindow = %v, want 3s", cfg.Session.MatchWindow)
	}
	if cfg.Session.PeerPollInterval != 10*time.Second {
		t.Errorf("Session.PeerPollInterval = %v, want 10s", cfg.Session.PeerPollInterval)
	}
	if cfg.Gateway.Addr != "127.0.0.1:9000" {
		t.Errorf("Gateway.Addr = %q", cfg.Gateway.Addr)
	}
	if cfg.Gateway.DatabasePath != "./test.db" {
		t.Errorf("Gateway.DatabasePath = %q", cfg.Gateway.DatabasePath)
	}
	if cfg.Gateway.JWTSecret != "s3cret" {
		t.Errorf("Gateway.JWTSecret = %q", cfg.Gateway.JWTSecret)
	}
	if cfg.Gateway.PollInterval != 500*time.Millisecond {
		t.Errorf("Gateway.PollInterval = %v, want 500ms", cfg.Gateway.PollInterval)
	}
	if cfg.Gateway.TokenTTL != 2*time.Hour {
		t.Errorf("Gateway.TokenTTL = %v, want 2h", cfg.Gateway.TokenTTL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[server]
url = "https://messages.example.com"

[agent]
id = "reviewer"

[stream]
reconnect_interval = "1s"

[logging]
level = "warn"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.URL != "https://messages.example.com" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Agent.ID != "reviewer" {
		t.Errorf("Agent.ID = %q", cfg.Agent.ID)
	}
	if cfg.Stream.ReconnectInterval != time.Second {
		t.Errorf("Stream.ReconnectInterval = %v, want 1s", cfg.Stream.ReconnectInterval)
	}
	// unset values keep their defaults
	if cfg.Stream.IdleTimeout != 30*time.Second {
		t.Errorf("Stream.IdleTimeout = %v, want 30s", cfg.Stream.IdleTimeout)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Server.URL != "http://localhost:8000" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Stream.ReconnectInterval != 3*time.Second {
		t.Errorf("Stream.ReconnectInterval = %v, want 3s", cfg.Stream.ReconnectInterval)
	}
	if cfg.Session.MatchWindow != 2*time.Second {
		t.Errorf("Session.MatchWindow = %v, want 2s", cfg.Session.MatchWindow)
	}
	if cfg.Session.HistoryLimit != 50 {
		t.Errorf("Session.HistoryLimit = %d, want 50", cfg.Session.HistoryLimit)
	}
	if cfg.Gateway.PollInterval != time.Second {
		t.Errorf("Gateway.PollInterval = %v, want 1s", cfg.Gateway.PollInterval)
	}
	if cfg.Gateway.TokenTTL != time.Hour {
		t.Errorf("Gateway.TokenTTL = %v, want 1h", cfg.Gateway.TokenTTL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	configPath := writeConfig(t, "config.yaml", `
gateway:
  jwt_secret: "${TEST_JWT_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.JWTSecret != "from-env" {
		t.Errorf("Gateway.JWTSecret = %q, want %q", cfg.Gateway.JWTSecret, "from-env")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTCOMM_SERVER_URL", "http://override:8000")
	t.Setenv("AGENTCOMM_AGENT_ID", "env-agent")
	t.Setenv("AGENTCOMM_STREAM_RECONNECT_INTERVAL", "7s")
	t.Setenv("AGENTCOMM_STREAM_HEARTBEAT_TOKENS", "hb,ping")
	t.Setenv("AGENTCOMM_SESSION_HISTORY_LIMIT", "15")
	t.Setenv("AGENTCOMM_LOG_FORMAT", "json")

	configPath := writeConfig(t, "config.yaml", `
server:
  url: "http://from-file:8000"
agent:
  id: "file-agent"
stream:
  reconnect_interval: "2s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.URL != "http://override:8000" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Agent.ID != "env-agent" {
		t.Errorf("Agent.ID = %q", cfg.Agent.ID)
	}
	if cfg.Stream.ReconnectInterval != 7*time.Second {
		t.Errorf("Stream.ReconnectInterval = %v, want 7s", cfg.Stream.ReconnectInterval)
	}
	if !reflect.DeepEqual(cfg.Stream.HeartbeatTokens, []string{"hb", "ping"}) {
		t.Errorf("Stream.HeartbeatTokens = %v", cfg.Stream.HeartbeatTokens)
	}
	if cfg.Session.HistoryLimit != 15 {
		t.Errorf("Session.HistoryLimit = %d", cfg.Session.HistoryLimit)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestLoad_EnvOverrideInvalid(t *testing.T) {
	t.Setenv("AGENTCOMM_SESSION_HISTORY_LIMIT", "lots")

	_, err := Load(writeConfig(t, "config.yaml", "{}\n"))
	if err == nil {
		t.Error("Load() expected error for non-numeric history limit")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  url: "http://localhost:8000"
  addr "missing colon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", "[server\nurl = 1\n")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
stream:
  reconnect_interval: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "stream.reconnect_interval") {
		t.Errorf("error %q does not name the field", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing server url",
			mutate:  func(c *Config) { c.Server.URL = "" },
			wantErr: "server.url is required",
		},
		{
			name:    "non-http server url",
			mutate:  func(c *Config) { c.Server.URL = "ftp://example.com" },
			wantErr: "http or https",
		},
		{
			name:    "zero history limit",
			mutate:  func(c *Config) { c.Session.HistoryLimit = 0 },
			wantErr: "session.history_limit",
		},
		{
			name:    "zero match window",
			mutate:  func(c *Config) { c.Session.MatchWindow = 0 },
			wantErr: "session.match_window",
		},
		{
			name:    "zero reconnect interval",
			mutate:  func(c *Config) { c.Stream.ReconnectInterval = 0 },
			wantErr: "stream.reconnect_interval",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:   "negative idle timeout allowed",
			mutate: func(c *Config) { c.Stream.IdleTimeout = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestPath(t *testing.T) {
	t.Run("explicit env var wins", func(t *testing.T) {
		t.Setenv(PathEnvVar, "/etc/agentcomm.toml")
		got, err := Path()
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if got != "/etc/agentcomm.toml" {
			t.Errorf("Path() = %q", got)
		}
	})

	t.Run("xdg yaml default", func(t *testing.T) {
		xdg := t.TempDir()
		t.Setenv(PathEnvVar, "")
		t.Setenv("XDG_CONFIG_HOME", xdg)

		got, err := Path()
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if want := filepath.Join(xdg, "agentcomm", "config.yaml"); got != want {
			t.Errorf("Path() = %q, want %q", got, want)
		}
	})

	t.Run("existing toml found", func(t *testing.T) {
		xdg := t.TempDir()
		t.Setenv(PathEnvVar, "")
		t.Setenv("XDG_CONFIG_HOME", xdg)
		dir := filepath.Join(xdg, "agentcomm")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		want := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(want, []byte(""), 0644); err != nil {
			t.Fatal(err)
		}

		got, err := Path()
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if got != want {
			t.Errorf("Path() = %q, want %q", got, want)
		}
	})
}

func TestLoadDefault_NoFile(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AGENTCOMM_AGENT_ID", "env-only")

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.Agent.ID != "env-only" {
		t.Errorf("Agent.ID = %q, want %q", cfg.Agent.ID, "env-only")
	}
	if cfg.Stream.ReconnectInterval != 3*time.Second {
		t.Errorf("Stream.ReconnectInterval = %v, want 3s", cfg.Stream.ReconnectInterval)
	}
}

func TestLoadDefault_ExplicitMissingFile(t *testing.T) {
	t.Setenv(PathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := LoadDefault(); err == nil {
		t.Error("LoadDefault() expected error when AGENTCOMM_CONFIG names a missing file")
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
		{name: "single env var", input: "${FOO}", expected: "bar"},
		{name: "env var with surrounding text", input: "prefix-${FOO}-suffix", expected: "prefix-bar-suffix"},
		{name: "multiple env vars", input: "${FOO}/${BAZ}", expected: "bar/qux"},
		{name: "no env vars", input: "no-vars-here", expected: "no-vars-here"},
		{name: "unset env var", input: "${AGENTCOMM_TEST_UNSET_VAR}", expected: ""},
		{name: "empty string", input: "", expected: ""},
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
