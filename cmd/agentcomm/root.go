// ABOUTME: Root command, global flags, and the shared client environment
// ABOUTME: Resolves config, logger, agent id, and a saved or freshly issued token

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/agentcomm/internal/api"
	"github.com/2389/agentcomm/internal/auth"
	"github.com/2389/agentcomm/internal/config"
	"github.com/2389/agentcomm/internal/logging"
	"github.com/2389/agentcomm/internal/session"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X main.version=1.2.3"
	version = "dev"
	logo    = "\n" +
		"   ┌─┐┌─┐┌─┐┌┐┌┌┬┐┌─┐┌─┐┌┬┐┌┬┐\n" +
		"   ├─┤│ ┬├┤ │││ │ │  │ ││││││││\n" +
		"   ┴ ┴└─┘└─┘┘└┘ ┴ └─┘└─┘┴ ┴┴ ┴\n"
)

var (
	configPath string
	agentFlag  string
	serverFlag string
)

var rootCmd = &cobra.Command{
	Use:           "agentcomm",
	Short:         "Chat with other agents through a messaging server",
	Long:          color.CyanString(logo) + "\nDirect messages and broadcasts between agents, with a live stream of new messages.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agentcomm %s\n", version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default $AGENTCOMM_CONFIG or ~/.config/agentcomm/config.yaml)")
	flags.StringVarP(&agentFlag, "agent", "a", "", "local agent id (overrides agent.id)")
	flags.StringVarP(&serverFlag, "server", "s", "", "messaging server URL (overrides server.url)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(broadcastCmd)
	rootCmd.AddCommand(chatCmd)
}

// env is what every subcommand needs after flags are parsed.
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	tokenPath string
}

func loadEnv() (*env, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if agentFlag != "" {
		cfg.Agent.ID = agentFlag
	}
	if serverFlag != "" {
		cfg.Server.URL = serverFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	tokenPath := cfg.Agent.TokenPath
	if tokenPath == "" {
		tokenPath, err = auth.DefaultTokenPath()
		if err != nil {
			return nil, err
		}
	}

	return &env{
		cfg:       cfg,
		logger:    logging.New(cfg.Logging, os.Stderr),
		tokenPath: tokenPath,
	}, nil
}

func (e *env) agentID() (string, error) {
	if e.cfg.Agent.ID == "" {
		return "", errors.New("no agent id: pass --agent, set agent.id, or export AGENTCOMM_AGENT_ID")
	}
	return e.cfg.Agent.ID, nil
}

// savedToken returns the stored token when it is still valid for the agent.
func (e *env) savedToken(agentID string) string {
	token, err := auth.LoadToken(e.tokenPath)
	if err != nil {
		if !errors.Is(err, auth.ErrNoToken) {
			e.logger.Warn("ignoring saved token", "path", e.tokenPath, "error", err)
		}
		return ""
	}
	if _, err := auth.CheckToken(token, agentID, time.Now()); err != nil {
		e.logger.Debug("saved token unusable", "reason", err)
		return ""
	}
	return token
}

func (e *env) saveToken(token string) {
	if err := auth.SaveToken(e.tokenPath, token); err != nil {
		e.logger.Warn("could not save token", "path", e.tokenPath, "error", err)
	}
}

// client returns an API client authenticated as the configured agent,
// logging in when there is no usable saved token.
func (e *env) client(ctx context.Context) (*api.Client, string, error) {
	agentID, err := e.agentID()
	if err != nil {
		return nil, "", err
	}

	c := api.NewClient(e.cfg.Server.URL)
	if token := e.savedToken(agentID); token != "" {
		c.SetToken(token)
		return c, agentID, nil
	}

	resp, err := c.Token(ctx, agentID)
	if err != nil {
		return nil, "", fmt.Errorf("logging in as %s: %w", agentID, err)
	}
	e.saveToken(resp.AccessToken)
	c.SetToken(resp.AccessToken)
	return c, agentID, nil
}

func (e *env) session() (*session.Session, error) {
	agentID, err := e.agentID()
	if err != nil {
		return nil, err
	}

	return session.New(session.Config{
		Endpoint:          e.cfg.Server.URL,
		AgentID:           agentID,
		Token:             e.savedToken(agentID),
		HistoryLimit:      e.cfg.Session.HistoryLimit,
		MatchWindow:       e.cfg.Session.MatchWindow,
		ReconnectInterval: e.cfg.Stream.ReconnectInterval,
		IdleTimeout:       e.cfg.Stream.IdleTimeout,
		PeerPollInterval:  e.cfg.Session.PeerPollInterval,
		HeartbeatTokens:   e.cfg.Stream.HeartbeatTokens,
	}, session.Options{
		Logger:  e.logger,
		OnToken: e.saveToken,
	})
}
