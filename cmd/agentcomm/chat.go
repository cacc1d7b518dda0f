// ABOUTME: Interactive chat loop on top of a live session
// ABOUTME: Reads commands and messages from stdin while printing stream changes as they arrive

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/agentcomm/internal/api"
	"github.com/2389/agentcomm/internal/conversation"
	"github.com/2389/agentcomm/internal/message"
	"github.com/2389/agentcomm/internal/render"
	"github.com/2389/agentcomm/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat [agent]",
	Short: "Open an interactive chat, optionally starting with one agent",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		s, err := e.session()
		if err != nil {
			return err
		}
		defer s.Close()

		c := &chat{s: s, out: cmd.OutOrStdout()}
		if len(args) == 1 {
			c.initial = args[0]
		}
		return c.run(cmd.Context(), cmd.InOrStdin())
	},
}

var (
	gray   = color.New(color.FgHiBlack)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
)

// chat drives one interactive session. Output from the input loop and from
// background sends is serialized through mu.
type chat struct {
	s       *session.Session
	out     io.Writer
	initial string

	mu sync.Mutex
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	changes, _ := c.s.Subscribe(ctx)
	if err := c.s.Start(ctx); err != nil {
		return err
	}

	c.printf(cyan, "agentcomm chat as %s. Type /help for commands.\n", c.s.AgentID())
	if c.initial != "" {
		c.use(ctx, c.initial)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil

		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			c.show(ch)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (c *chat) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, "", line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/help", "/?":
		c.help()
	case "/use":
		if arg == "" {
			c.printf(red, "usage: /use <agent>\n")
			return false
		}
		c.use(ctx, arg)
	case "/agents":
		c.agents()
	case "/history":
		c.history()
	case "/inbox":
		c.inbox(ctx)
	case "/broadcast", "/all":
		if arg == "" {
			c.printf(red, "usage: /broadcast <text>\n")
			return false
		}
		c.broadcast(ctx, arg)
	case "/status":
		c.status()
	default:
		c.printf(red, "unknown command %s, try /help\n", name)
	}
	return false
}

func (c *chat) use(ctx context.Context, peer string) {
	if err := c.s.Select(ctx, peer); err != nil {
		c.printf(red, "loading conversation with %s: %v\n", peer, err)
		return
	}
	c.printf(green, "── %s ──\n", peer)
	c.history()
}

func (c *chat) history() {
	peer := c.s.Store().Selected()
	if peer == "" {
		c.printf(yellow, "no conversation selected, /use <agent>\n")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	printTranscript(c.out, c.s.Messages(), c.s.AgentID())
}

func (c *chat) agents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	printPeers(c.out, c.s.Peers())
}

func (c *chat) inbox(ctx context.Context) {
	msgs, err := c.s.Inbox(ctx, api.MessagesQuery{Limit: 20})
	if err != nil {
		c.printf(red, "loading inbox: %v\n", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	printTranscript(c.out, oldestFirst(msgs), c.s.AgentID())
}

func (c *chat) status() {
	state := "disconnected"
	if c.s.Connected() {
		state = "connected"
	}
	peer := c.s.Store().Selected()
	if peer == "" {
		peer = "none"
	}
	c.printf(gray, "agent %s, %s, talking to %s\n", c.s.AgentID(), state, peer)
}

// send posts in the background; the stream or the confirmation prints it.
func (c *chat) send(ctx context.Context, recipient, text string) {
	if c.s.Store().Selected() == "" && recipient == "" {
		c.printf(yellow, "no conversation selected, /use <agent> first\n")
		return
	}
	go func() {
		if _, err := c.s.Send(ctx, recipient, text); err != nil {
			c.sendFailed(err)
		}
	}()
}

func (c *chat) broadcast(ctx context.Context, text string) {
	go func() {
		if _, err := c.s.Broadcast(ctx, text, message.TypeChat); err != nil {
			c.sendFailed(err)
		}
	}()
}

func (c *chat) sendFailed(err error) {
	c.printf(red, "✗ %v\n", err)
	var sendErr *session.SendError
	if errors.As(err, &sendErr) {
		c.printf(gray, "  not sent: %s\n", sendErr.Input)
	}
}

// show prints a change. Provisional entries are not echoed; each message is
// printed once, when it first appears with a server id.
func (c *chat) show(ch conversation.Change) {
	switch ch.Kind {
	case conversation.ChangeConnectivity:
		if ch.Connected {
			c.printf(green, "● connected\n")
		} else {
			c.printf(yellow, "○ disconnected, reconnecting\n")
		}

	case conversation.ChangeAppended, conversation.ChangeReplaced:
		if ch.Message == nil || ch.Message.IsProvisional() {
			return
		}
		if ch.Active {
			c.printLine(*ch.Message)
			return
		}
		if ch.Kind == conversation.ChangeAppended && ch.Message.SenderID != c.s.AgentID() {
			c.printf(yellow, "new message from %s, /use %s to read\n", ch.Counterpart, ch.Counterpart)
		}

	case conversation.ChangeBroadcast:
		if ch.Message != nil && !ch.Message.IsProvisional() {
			c.printLine(*ch.Message)
		}
	}
}

func (c *chat) printLine(m message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, render.Line(m, c.s.AgentID()))
}

func (c *chat) printf(style *color.Color, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	style.Fprintf(c.out, format, args...)
}

func (c *chat) help() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, "Commands:")
	for _, row := range [][2]string{
		{"/use <agent>", "switch to a conversation and show its history"},
		{"/agents", "list known agents"},
		{"/history", "reprint the current conversation"},
		{"/inbox", "show recent messages from everyone"},
		{"/broadcast <text>", "send to every agent"},
		{"/status", "show connection state"},
		{"/quit", "leave"},
	} {
		fmt.Fprintf(c.out, "  %-20s %s\n", row[0], gray.Sprint(row[1]))
	}
	fmt.Fprintln(c.out, "Anything else is sent to the current conversation.")
}
