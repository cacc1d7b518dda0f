// ABOUTME: Configuration loading and parsing for the agentcomm client and development gateway
// ABOUTME: Supports YAML or TOML files with ${VAR} expansion, AGENTCOMM_* overrides, and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AGENTCOMM_SERVER_URL.
const EnvPrefix = "AGENTCOMM"

// PathEnvVar names an explicit configuration file.
const PathEnvVar = "AGENTCOMM_CONFIG"

// Config represents the complete agentcomm configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Agent   AgentConfig   `yaml:"agent" toml:"agent"`
	Stream  StreamConfig  `yaml:"stream" toml:"stream"`
	Session SessionConfig `yaml:"session" toml:"session"`
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the messaging server the client talks to
type ServerConfig struct {
	URL string `yaml:"url" toml:"url" envconfig:"URL"`
}

// AgentConfig identifies the local agent
type AgentConfig struct {
	ID        string `yaml:"id" toml:"id" envconfig:"ID"`
	TokenPath string `yaml:"token_path" toml:"token_path" envconfig:"TOKEN_PATH"` // defaults to ~/.config/agentcomm/token
}

// StreamConfig holds live event stream settings
type StreamConfig struct {
	ReconnectInterval time.Duration `yaml:"-" toml:"-" ignored:"true"`
	IdleTimeout       time.Duration `yaml:"-" toml:"-" ignored:"true"`
	HeartbeatTokens   []string      `yaml:"heartbeat_tokens" toml:"heartbeat_tokens" envconfig:"HEARTBEAT_TOKENS"`

	// Raw string values for unmarshaling
	ReconnectIntervalRaw string `yaml:"reconnect_interval" toml:"reconnect_interval" envconfig:"RECONNECT_INTERVAL"`
	IdleTimeoutRaw       string `yaml:"idle_timeout" toml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
}

// SessionConfig holds conversation view settings
type SessionConfig struct {
	HistoryLimit     int           `yaml:"history_limit" toml:"history_limit" envconfig:"HISTORY_LIMIT"`
	MatchWindow      time.Duration `yaml:"-" toml:"-" ignored:"true"`
	PeerPollInterval time.Duration `yaml:"-" toml:"-" ignored:"true"`

	MatchWindowRaw      string `yaml:"match_window" toml:"match_window" envconfig:"MATCH_WINDOW"`
	PeerPollIntervalRaw string `yaml:"peer_poll_interval" toml:"peer_poll_interval" envconfig:"PEER_POLL_INTERVAL"`
}

// GatewayConfig holds the development gateway's settings
type GatewayConfig struct {
	Addr         string        `yaml:"addr" toml:"addr" envconfig:"ADDR"`
	DatabasePath string        `yaml:"database_path" toml:"database_path" envconfig:"DATABASE_PATH"`
	JWTSecret    string        `yaml:"jwt_secret" toml:"jwt_secret" envconfig:"JWT_SECRET"`
	PollInterval time.Duration `yaml:"-" toml:"-" ignored:"true"`
	TokenTTL     time.Duration `yaml:"-" toml:"-" ignored:"true"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval" envconfig:"POLL_INTERVAL"`
	TokenTTLRaw     string `yaml:"token_ttl" toml:"token_ttl" envconfig:"TOKEN_TTL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" toml:"format" envconfig:"FORMAT"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{URL: "http://localhost:8000"},
		Stream: StreamConfig{
			ReconnectIntervalRaw: "3s",
			IdleTimeoutRaw:       "30s",
		},
		Session: SessionConfig{
			HistoryLimit:        50,
			MatchWindowRaw:      "2s",
			PeerPollIntervalRaw: "5s",
		},
		Gateway: GatewayConfig{
			Addr:            ":8000",
			DatabasePath:    defaultDatabasePath(),
			PollIntervalRaw: "1s",
			TokenTTLRaw:     "60m",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	// defaults always parse
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// AGENTCOMM_* variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parse(path, data)
}

// LoadDefault loads the file named by Path, or defaults plus environment
// overrides when that file does not exist.
func LoadDefault() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && os.Getenv(PathEnvVar) == "" {
		return parse("", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*Config, error) {
	cfg := Default()

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides each section from AGENTCOMM_<SECTION>_<FIELD> variables.
func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{EnvPrefix + "_SERVER", &cfg.Server},
		{EnvPrefix + "_AGENT", &cfg.Agent},
		{EnvPrefix + "_STREAM", &cfg.Stream},
		{EnvPrefix + "_SESSION", &cfg.Session},
		{EnvPrefix + "_GATEWAY", &cfg.Gateway},
		{EnvPrefix + "_LOG", &cfg.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the configuration file location: $AGENTCOMM_CONFIG, then
// $XDG_CONFIG_HOME/agentcomm/config.{yaml,toml}, then
// ~/.config/agentcomm/config.{yaml,toml}. The returned file may not exist.
func Path() (string, error) {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p, nil
	}

	dir, err := configDir()
	if err != nil {
		return "", err
	}
	yamlPath := filepath.Join(dir, "config.yaml")
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return yamlPath, nil
}

func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentcomm"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "agentcomm"), nil
}

func defaultDatabasePath() string {
	if data := os.Getenv("XDG_DATA_HOME"); data != "" {
		return filepath.Join(data, "agentcomm", "messages.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "agentcomm", "messages.db")
	}
	return "agentcomm.db"
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}

	if c.Session.HistoryLimit < 1 {
		return fmt.Errorf("session.history_limit must be positive")
	}
	if c.Session.MatchWindow <= 0 {
		return fmt.Errorf("session.match_window must be positive")
	}
	if c.Stream.ReconnectInterval <= 0 {
		return fmt.Errorf("stream.reconnect_interval must be positive")
	}
	if c.Session.PeerPollInterval <= 0 {
		return fmt.Errorf("session.peer_poll_interval must be positive")
	}
	if c.Gateway.PollInterval <= 0 {
		return fmt.Errorf("gateway.poll_interval must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"stream.reconnect_interval", cfg.Stream.ReconnectIntervalRaw, &cfg.Stream.ReconnectInterval},
		{"stream.idle_timeout", cfg.Stream.IdleTimeoutRaw, &cfg.Stream.IdleTimeout},
		{"session.match_window", cfg.Session.MatchWindowRaw, &cfg.Session.MatchWindow},
		{"session.peer_poll_interval", cfg.Session.PeerPollIntervalRaw, &cfg.Session.PeerPollInterval},
		{"gateway.poll_interval", cfg.Gateway.PollIntervalRaw, &cfg.Gateway.PollInterval},
		{"gateway.token_ttl", cfg.Gateway.TokenTTLRaw, &cfg.Gateway.TokenTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
