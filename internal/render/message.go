// ABOUTME: Formats messages and peers as transcript lines for the terminal client
// ABOUTME: Local sends, broadcasts, and unconfirmed messages are styled differently

package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agentcomm/internal/message"
)

var (
	timeStyle    = color.New(color.FgHiBlack)
	selfStyle    = color.New(color.FgGreen, color.Bold)
	peerStyle    = color.New(color.FgCyan, color.Bold)
	pendingStyle = color.New(color.FgYellow)
)

// TimeLayout is the clock shown before each transcript line.
const TimeLayout = "15:04:05"

// Line formats m as one transcript entry from local's point of view.
// Continuation lines of a multi-line payload are indented under the body.
func Line(m message.Message, local string) string {
	who := peerStyle.Sprint(m.SenderID)
	if m.SenderID == local {
		who = selfStyle.Sprint(m.SenderID)
	}

	to := "*"
	if !m.IsBroadcast() {
		to = m.Recipient()
	}

	head := fmt.Sprintf("%s %s → %s", timeStyle.Sprint(m.Timestamp.Local().Format(TimeLayout)), who, to)
	if m.IsProvisional() {
		head += pendingStyle.Sprint(" …")
	}

	body := Markdown(m.Text())
	if m.Type != message.TypeChat {
		body = fmt.Sprintf("[type %d] %s", m.Type, body)
	}
	body = strings.ReplaceAll(body, "\n", "\n    ")
	return head + ": " + body
}

// Peer formats an agent for a peer listing.
func Peer(a message.Agent, now time.Time) string {
	if a.LastMessageTime == nil {
		return a.ID
	}
	return fmt.Sprintf("%s %s", a.ID, timeStyle.Sprintf("(%s)", Ago(now.Sub(*a.LastMessageTime))))
}

// Ago renders an elapsed duration coarsely.
func Ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}
