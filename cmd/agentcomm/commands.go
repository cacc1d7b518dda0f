// ABOUTME: One-shot subcommands: health, login, agents, history, inbox, send, broadcast
// ABOUTME: Each loads the environment, makes its API calls, and prints rendered results

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/agentcomm/internal/api"
	"github.com/2389/agentcomm/internal/message"
	"github.com/2389/agentcomm/internal/render"
)

var (
	limitFlag  int
	offsetFlag int
	typeFlag   int
	sinceFlag  time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the messaging server is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		if err := api.NewClient(e.cfg.Server.URL).Health(cmd.Context()); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "healthy")
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Request a token for the agent and save it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		agentID, err := e.agentID()
		if err != nil {
			return err
		}

		resp, err := api.NewClient(e.cfg.Server.URL).Token(cmd.Context(), agentID)
		if err != nil {
			return fmt.Errorf("logging in as %s: %w", agentID, err)
		}
		e.saveToken(resp.AccessToken)

		color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (token saved to %s)\n", agentID, e.tokenPath)
		return nil
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents you have exchanged messages with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		c, agentID, err := e.client(cmd.Context())
		if err != nil {
			return err
		}

		agents, err := c.Agents(cmd.Context(), agentID)
		if err != nil {
			return err
		}
		printPeers(cmd.OutOrStdout(), agents)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <agent>",
	Short: "Show the conversation with another agent, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		c, agentID, err := e.client(cmd.Context())
		if err != nil {
			return err
		}

		limit := limitFlag
		if limit <= 0 {
			limit = e.cfg.Session.HistoryLimit
		}
		page, err := c.Conversation(cmd.Context(), agentID, args[0], limit, offsetFlag)
		if err != nil {
			return err
		}
		printTranscript(cmd.OutOrStdout(), oldestFirst(page), agentID)
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show recent messages addressed to you, including broadcasts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		c, agentID, err := e.client(cmd.Context())
		if err != nil {
			return err
		}

		q := api.MessagesQuery{AgentID: agentID, Limit: limitFlag, Offset: offsetFlag}
		if cmd.Flags().Changed("type") {
			t := typeFlag
			q.MessageType = &t
		}
		if sinceFlag > 0 {
			q.Start = time.Now().Add(-sinceFlag)
		}

		msgs, err := c.Messages(cmd.Context(), q)
		if err != nil {
			return err
		}
		printTranscript(cmd.OutOrStdout(), oldestFirst(msgs), agentID)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <agent> <text>...",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd, message.StringPtr(args[0]), strings.Join(args[1:], " "))
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <text>...",
	Short: "Send a message to every agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd, nil, strings.Join(args, " "))
	},
}

func init() {
	for _, cmd := range []*cobra.Command{historyCmd, inboxCmd} {
		cmd.Flags().IntVarP(&limitFlag, "limit", "n", 0, "maximum number of messages")
		cmd.Flags().IntVar(&offsetFlag, "offset", 0, "skip this many of the newest messages")
	}
	inboxCmd.Flags().IntVarP(&typeFlag, "type", "t", 0, "only messages of this type")
	inboxCmd.Flags().DurationVar(&sinceFlag, "since", 0, "only messages newer than this, e.g. 1h")

	for _, cmd := range []*cobra.Command{sendCmd, broadcastCmd} {
		cmd.Flags().IntVarP(&typeFlag, "type", "t", message.TypeChat, "message type (0-127)")
	}
}

func runSend(cmd *cobra.Command, recipient *string, text string) error {
	if typeFlag < message.MinType || typeFlag > message.MaxType {
		return fmt.Errorf("message type must be between %d and %d", message.MinType, message.MaxType)
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	c, agentID, err := e.client(cmd.Context())
	if err != nil {
		return err
	}

	sent, err := c.Send(cmd.Context(), api.SendRequest{
		SenderID:    agentID,
		RecipientID: recipient,
		MessageType: typeFlag,
		Payload:     text,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), render.Line(sent, agentID))
	return nil
}

// oldestFirst reverses a newest-first server page for display.
func oldestFirst(page []message.Message) []message.Message {
	out := slices.Clone(page)
	slices.Reverse(out)
	return out
}

func printTranscript(w io.Writer, msgs []message.Message, local string) {
	if len(msgs) == 0 {
		color.New(color.FgHiBlack).Fprintln(w, "no messages")
		return
	}
	for _, m := range msgs {
		fmt.Fprintln(w, render.Line(m, local))
	}
}

func printPeers(w io.Writer, agents []message.Agent) {
	if len(agents) == 0 {
		color.New(color.FgHiBlack).Fprintln(w, "no agents yet")
		return
	}
	now := time.Now()
	for _, a := range agents {
		fmt.Fprintln(w, "  "+render.Peer(a, now))
	}
}
