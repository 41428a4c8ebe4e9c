package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-bot/mnemo/internal/bus"
	"github.com/mnemo-bot/mnemo/internal/config"
	"github.com/mnemo-bot/mnemo/internal/cron"
	"github.com/mnemo-bot/mnemo/internal/model"
)

// mockInvoker implements model.Invoker for testing
type mockInvoker struct {
	response string
	err      error
	closed   bool
}

func (m *mockInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	return m.response, m.err
}

func (m *mockInvoker) Close() {
	m.closed = true
}

func newTestGateway(t *testing.T, inv *mockInvoker) *Gateway {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg := config.DefaultConfig()
	g, err := NewWithOptions(cfg, Options{
		InvokerFactory: func(cfg *config.Config, sysPrompt string) (model.Invoker, error) {
			return inv, nil
		},
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	return g
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "telegram",
		SenderID:  "42",
		ChatID:    "42",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
		ok    bool
	}{
		{"30s", 30 * time.Second, true},
		{"30sec", 30 * time.Second, true},
		{"15m", 15 * time.Minute, true},
		{"5min", 5 * time.Minute, true},
		{"2h", 2 * time.Hour, true},
		{"2hr", 2 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"", 0, false},
		{"abc", 0, false},
		{"10", 0, false},
		{"-5m", 0, false},
		{"0h", 0, false},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", tt.input, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("parseDuration(%q) should fail", tt.input)
		}
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "AGENTS.md"), []byte("# Agent\nYou are helpful."), 0644)
	os.WriteFile(filepath.Join(tmpDir, "SOUL.md"), []byte("# Soul\nBe kind."), 0644)

	cfg := &config.Config{Agent: config.AgentConfig{Workspace: tmpDir}}
	prompt := loadSystemPrompt(cfg)

	if !strings.Contains(prompt, "# Agent") {
		t.Error("missing AGENTS.md content")
	}
	if !strings.Contains(prompt, "# Soul") {
		t.Error("missing SOUL.md content")
	}

	empty := loadSystemPrompt(&config.Config{Agent: config.AgentConfig{Workspace: t.TempDir()}})
	if empty != "" {
		t.Errorf("prompt = %q, want empty when no persona files", empty)
	}
}

func TestHandleInbound_ChatReply(t *testing.T) {
	g := newTestGateway(t, &mockInvoker{response: "hi there"})

	g.handleInbound(context.Background(), inbound("hello"))

	select {
	case out := <-g.bus.Outbound:
		if out.Content != "hi there" || out.ChatID != "42" || out.Channel != "telegram" {
			t.Errorf("outbound = %+v", out)
		}
	default:
		t.Fatal("no outbound reply")
	}
}

func TestHandleInbound_ModelFailureNotice(t *testing.T) {
	g := newTestGateway(t, &mockInvoker{err: context.DeadlineExceeded})

	g.handleInbound(context.Background(), inbound("hello"))

	select {
	case out := <-g.bus.Outbound:
		if !strings.Contains(out.Content, "could not reach the model") {
			t.Errorf("outbound = %q, want failure notice", out.Content)
		}
	default:
		t.Fatal("no outbound failure notice")
	}
}

func TestCommand_HelpAndUnknown(t *testing.T) {
	g := newTestGateway(t, &mockInvoker{})

	if reply := g.handleCommand(context.Background(), inbound("/help")); !strings.Contains(reply, "/remind") {
		t.Errorf("help reply = %q", reply)
	}
	if reply := g.handleCommand(context.Background(), inbound("/bogus")); !strings.Contains(reply, "Unknown command") {
		t.Errorf("unknown reply = %q", reply)
	}
}

func TestCommand_MemoryLifecycle(t *testing.T) {
	g := newTestGateway(t, &mockInvoker{})
	msg := inbound("/memory")
	user := msg.SessionKey()

	if reply := g.handleCommand(context.Background(), msg); !strings.Contains(reply, "No long-term memory") {
		t.Errorf("empty memory reply = %q", reply)
	}

	g.mem.Merge(user, []string{"likes coffee", "works remotely"})

	reply := g.handleCommand(context.Background(), inbound("/memory"))
	if !strings.Contains(reply, "1. likes coffee") || !strings.Contains(reply, "2. works remotely") {
		t.Errorf("memory list = %q", reply)
	}

	reply = g.handleCommand(context.Background(), inbound("/forget 1"))
	if !strings.Contains(reply, "likes coffee") {
		t.Errorf("forget reply = %q", reply)
	}
	if facts := g.mem.List(user); len(facts) != 1 || facts[0] != "works remotely" {
		t.Errorf("facts after forget = %v", facts)
	}

	reply = g.handleCommand(context.Background(), inbound("/forget 9"))
	if !strings.Contains(reply, "Invalid number") {
		t.Errorf("bad index reply = %q", reply)
	}

	reply = g.handleCommand(context.Background(), inbound("/forget all"))
	if !strings.Contains(reply, "Cleared 1") {
		t.Errorf("forget all reply = %q", reply)
	}
}

func TestCommand_ContextAndClear(t *testing.T) {
	g := newTestGateway(t, &mockInvoker{response: "ok"})
	msg := inbound("/context")
	user := msg.SessionKey()

	g.assist.HandleMessage(context.Background(), user, "hello")

	reply := g.handleCommand(context.Background(), msg)
	if !strings.Contains(reply, "1 exchanges") {
		t.Errorf("context reply = %q", reply)
	}

	reply = g.handleCommand(context.Background(), inbound("/clear"))
	if !strings.Contains(reply, "cleared") {
		t.Errorf("clear reply = %q", reply)
	}
	if stats := g.assist.ContextStats(user); stats.Messages != 0 {
		t.Errorf("messages = %d after clear", stats.Messages)
	}
}

func TestCommand_SchedulingLifecycle(t *testing.T) {
	g := newTestGateway(t, &mockInvoker{})
	msg := inbound("x")
	user := msg.SessionKey()

	reply := g.handleCommand(context.Background(), inbound("/remind 30m standup"))
	if !strings.Contains(reply, "Reminder") {
		t.Fatalf("remind reply = %q", reply)
	}
	reply = g.handleCommand(context.Background(), inbound("/every 1h drink water"))
	if !strings.Contains(reply, "Recurring") {
		t.Fatalf("every reply = %q", reply)
	}
	reply = g.handleCommand(context.Background(), inbound("/daily 09:00 briefing"))
	if !strings.Contains(reply, "Daily") {
		t.Fatalf("daily reply = %q", reply)
	}

	jobs := g.cron.List(user)
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(jobs))
	}

	reply = g.handleCommand(context.Background(), inbound("/cron list"))
	for _, job := range jobs {
		if !strings.Contains(reply, job.ID) {
			t.Errorf("list missing job %s: %q", job.ID, reply)
		}
	}

	id := jobs[0].ID
	reply = g.handleCommand(context.Background(), inbound("/cron info "+id))
	if !strings.Contains(reply, id) || !strings.Contains(reply, "Next fire") {
		t.Errorf("info reply = %q", reply)
	}

	reply = g.handleCommand(context.Background(), inbound("/cron toggle "+id))
	if !strings.Contains(reply, "disabled") {
		t.Errorf("toggle reply = %q", reply)
	}

	reply = g.handleCommand(context.Background(), inbound("/cron remove "+id))
	if !strings.Contains(reply, "removed") {
		t.Errorf("remove reply = %q", reply)
	}
	if len(g.cron.List(user)) != 2 {
		t.Errorf("jobs = %d after remove", len(g.cron.List(user)))
	}

	reply = g.handleCommand(context.Background(), inbound("/cron info nope1234"))
	if !strings.Contains(reply, "No job with that id") {
		t.Errorf("not found reply = %q", reply)
	}

	reply = g.handleCommand(context.Background(), inbound("/remind soon standup"))
	if !strings.Contains(reply, "Could not parse") {
		t.Errorf("bad duration reply = %q", reply)
	}
}

func TestFireJobRoutesThroughPipeline(t *testing.T) {
	g := newTestGateway(t, &mockInvoker{response: "your briefing"})

	err := g.fireJob(cron.Job{
		ID:     "abcd1234",
		Owner:  "telegram:42",
		Prompt: "morning briefing",
	})
	if err != nil {
		t.Fatalf("fireJob error: %v", err)
	}

	select {
	case out := <-g.bus.Outbound:
		if out.Channel != "telegram" || out.ChatID != "42" || out.Content != "your briefing" {
			t.Errorf("outbound = %+v", out)
		}
	default:
		t.Fatal("firing produced no outbound message")
	}

	// The firing entered the conversation like a user turn.
	if stats := g.assist.ContextStats("telegram:42"); stats.Messages != 2 {
		t.Errorf("messages = %d, want synthetic turn recorded", stats.Messages)
	}

	if err := g.fireJob(cron.Job{ID: "x", Owner: "malformed", Prompt: "p"}); err == nil {
		t.Error("expected error for malformed owner")
	}
}
