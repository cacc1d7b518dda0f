// ABOUTME: Command tests against an in-process messaging gateway
// ABOUTME: Drives one-shot subcommands through cobra and the chat loop through a pipe

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentcomm/internal/api"
	"github.com/2389/agentcomm/internal/auth"
	"github.com/2389/agentcomm/internal/gateway"
	"github.com/2389/agentcomm/internal/session"
	"github.com/2389/agentcomm/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T) (*gateway.Gateway, string) {
	t.Helper()

	gw, err := gateway.New(gateway.Config{
		JWTSecret:    []byte("cli-test"),
		PollInterval: 20 * time.Millisecond,
	}, store.NewMockStore(), quiet)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		gw.CloseStreams()
		srv.Close()
	})
	return gw, srv.URL
}

// isolate points config and token lookups at a temporary directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(auth.TokenEnvVar, "")
	t.Setenv("AGENTCOMM_CONFIG", "")
	t.Setenv("AGENTCOMM_LOG_LEVEL", "error")
	for _, key := range []string{"AGENTCOMM_AGENT_ID", "AGENTCOMM_SERVER_URL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configPath, agentFlag, serverFlag = "", "", ""
	limitFlag, offsetFlag, typeFlag = 0, 0, 1

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "agentcomm dev\n", out)
}

func TestHealth(t *testing.T) {
	isolate(t)
	_, url := newServer(t)

	out, err := execute(t, "health", "--server", url)
	require.NoError(t, err)
	assert.Equal(t, "healthy\n", out)
}

func TestLoginSavesToken(t *testing.T) {
	dir := isolate(t)
	_, url := newServer(t)

	out, err := execute(t, "login", "--server", url, "--agent", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as alice")

	token, err := auth.LoadToken(filepath.Join(dir, "agentcomm", "token"))
	require.NoError(t, err)
	claims, err := auth.Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.AgentID)
}

func TestMissingAgent(t *testing.T) {
	isolate(t)
	_, url := newServer(t)

	_, err := execute(t, "agents", "--server", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agent id")
}

func TestSendHistoryAndAgents(t *testing.T) {
	isolate(t)
	_, url := newServer(t)

	out, err := execute(t, "send", "--server", url, "--agent", "alice", "bob", "hello", "**bob**")
	require.NoError(t, err)
	assert.Contains(t, out, "alice → bob: hello bob")

	_, err = execute(t, "send", "--server", url, "--agent", "alice", "bob", "second")
	require.NoError(t, err)

	out, err = execute(t, "history", "--server", url, "--agent", "bob", "alice")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "hello bob")
	assert.Contains(t, lines[1], "second")

	out, err = execute(t, "agents", "--server", url, "--agent", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
}

func TestSendRejectsBadType(t *testing.T) {
	isolate(t)
	_, url := newServer(t)

	_, err := execute(t, "send", "--server", url, "--agent", "alice", "--type", "200", "bob", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 127")
}

func TestBroadcastAndInbox(t *testing.T) {
	isolate(t)
	_, url := newServer(t)

	_, err := execute(t, "broadcast", "--server", url, "--agent", "alice", "hello", "all")
	require.NoError(t, err)

	out, err := execute(t, "inbox", "--server", url, "--agent", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "alice → *: hello all")
}

func TestEmptyHistory(t *testing.T) {
	isolate(t)
	_, url := newServer(t)

	out, err := execute(t, "history", "--server", url, "--agent", "alice", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "no messages\n", out)
}

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestChat(t *testing.T) {
	isolate(t)
	gw, url := newServer(t)

	s, err := session.New(session.Config{
		Endpoint:          url,
		AgentID:           "alice",
		ReconnectInterval: 50 * time.Millisecond,
		PeerPollInterval:  50 * time.Millisecond,
	}, session.Options{Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	in, inW := io.Pipe()
	out := &syncBuffer{}
	c := &chat{s: s, out: out, initial: "bob"}

	done := make(chan error, 1)
	go func() { done <- c.run(context.Background(), in) }()

	contains := func(want string) func() bool {
		return func() bool { return strings.Contains(out.String(), want) }
	}
	require.Eventually(t, contains("── bob ──"), 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, contains("● connected"), 3*time.Second, 10*time.Millisecond)

	// a reply from bob arrives over the stream
	token, err := gw.IssueToken("bob")
	require.NoError(t, err)
	bob := api.NewClient(url, api.WithToken(token))
	_, err = bob.Send(context.Background(), api.SendRequest{
		SenderID:    "bob",
		RecipientID: strPtr("alice"),
		MessageType: 1,
		Payload:     "hi alice",
	})
	require.NoError(t, err)
	assert.Eventually(t, contains("bob → alice: hi alice"), 3*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(inW, "hello bob\n")
	require.NoError(t, err)
	assert.Eventually(t, contains("alice → bob: hello bob"), 3*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(inW, "/nope\n/quit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("chat did not exit on /quit")
	}
	assert.Contains(t, out.String(), "unknown command /nope")
	assert.Equal(t, 1, strings.Count(out.String(), "alice → bob: hello bob"), "own message printed once")
	_ = inW.Close()
}

func TestChatSendWithoutConversation(t *testing.T) {
	isolate(t)
	_, url := newServer(t)

	s, err := session.New(session.Config{Endpoint: url, AgentID: "alice"}, session.Options{Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	out := &syncBuffer{}
	c := &chat{s: s, out: out}
	assert.False(t, c.handle(context.Background(), "hello?"))
	assert.Contains(t, out.String(), "no conversation selected")
	assert.True(t, c.handle(context.Background(), "/q"))
}

func strPtr(s string) *string { return &s }
