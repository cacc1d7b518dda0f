// ABOUTME: Entry point for the agentcomm development messaging server
// ABOUTME: Serves the messaging HTTP API from SQLite, writes configs, and mints tokens

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/agentcomm/internal/auth"
	"github.com/2389/agentcomm/internal/config"
	"github.com/2389/agentcomm/internal/gateway"
	"github.com/2389/agentcomm/internal/logging"
	"github.com/2389/agentcomm/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
   __ _  __ _  ___ _ __ | |_ ___ ___  _ __ ___  _ __ ___
  / _' |/ _' |/ _ \ '_ \| __/ __/ _ \| '_ ' _ \| '_ ' _ \
 | (_| | (_| |  __/ | | | || (_| (_) | | | | | | | | | | |
  \__,_|\__, |\___|_| |_|\__\___\___/|_| |_| |_|_| |_| |_|
        |___/                                   devserver
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: agentcomm-devserver <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the messaging server")
	fmt.Fprintln(w, "  init             Create a config file interactively")
	fmt.Fprintln(w, "  token <agent>    Print a bearer token for an agent")
	fmt.Fprintln(w, "  health           Check server health")
	fmt.Fprintln(w, "  version          Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx, os.Stdout)
	case "version":
		fmt.Printf("agentcomm-devserver %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	path, err := config.Path()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Gateway.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Gateway.DatabasePath)
	if cfg.Gateway.JWTSecret == "" {
		yellow.Print("    ▶ ")
		fmt.Println("JWT:       random secret, tokens end with the process")
	}
	fmt.Println()

	st, err := store.NewSQLiteStore(cfg.Gateway.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		Addr:         cfg.Gateway.Addr,
		JWTSecret:    []byte(cfg.Gateway.JWTSecret),
		TokenTTL:     cfg.Gateway.TokenTTL,
		PollInterval: cfg.Gateway.PollInterval,
	}, st, logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("creating gateway: %w", err)
	}

	logger.Info("starting agentcomm-devserver",
		"config", configPath,
		"addr", cfg.Gateway.Addr,
		"database", cfg.Gateway.DatabasePath,
	)
	return gw.Run(ctx)
}

// runToken mints a token offline with the configured secret.
func runToken(args []string, out io.Writer) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: agentcomm-devserver token <agent>")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Gateway.JWTSecret == "" {
		return errors.New("gateway.jwt_secret is not set; a running server with a random secret would reject this token")
	}

	ttl := cfg.Gateway.TokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	token, err := auth.NewJWTVerifier([]byte(cfg.Gateway.JWTSecret)).Generate(args[0], ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func runHealth(ctx context.Context, out io.Writer) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	addr := cfg.Gateway.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

// initFile mirrors the config sections the devserver and client read.
type initFile struct {
	Server struct {
		URL string `yaml:"url"`
	} `yaml:"server"`
	Gateway struct {
		Addr         string `yaml:"addr"`
		DatabasePath string `yaml:"database_path"`
		JWTSecret    string `yaml:"jwt_secret"`
		PollInterval string `yaml:"poll_interval"`
		TokenTTL     string `yaml:"token_ttl"`
	} `yaml:"gateway"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	defaults := config.Default()

	fmt.Fprintln(out, "agentcomm-devserver configuration setup")
	fmt.Fprintln(out, "=======================================")
	fmt.Fprintln(out)

	defaultPath, err := config.Path()
	if err != nil {
		return err
	}
	outputFile := prompt(reader, out, "Config file path", defaultPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var f initFile

	fmt.Fprintln(out, "\n--- Server ---")
	f.Gateway.Addr = prompt(reader, out, "Listen address", defaults.Gateway.Addr)
	f.Gateway.DatabasePath = prompt(reader, out, "SQLite database path", defaults.Gateway.DatabasePath)
	f.Gateway.PollInterval = defaults.Gateway.PollIntervalRaw
	f.Gateway.TokenTTL = prompt(reader, out, "Token lifetime", defaults.Gateway.TokenTTLRaw)

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}
	f.Gateway.JWTSecret = base64.RawURLEncoding.EncodeToString(secret)

	host := f.Gateway.Addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	f.Server.URL = "http://" + host

	fmt.Fprintln(out, "\n--- Logging ---")
	f.Logging.Level = prompt(reader, out, "Log level (debug/info/warn/error)", defaults.Logging.Level)
	f.Logging.Format = prompt(reader, out, "Log format (text/json)", defaults.Logging.Format)

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	content := "# agentcomm configuration\n# Generated by agentcomm-devserver init\n\n" + string(data)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// the file holds the jwt secret
	if err := os.WriteFile(outputFile, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("generated config does not load: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  agentcomm-devserver serve")
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "y" || a == "yes"
}
