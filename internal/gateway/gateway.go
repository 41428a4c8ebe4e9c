package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mnemo-bot/mnemo/internal/assistant"
	"github.com/mnemo-bot/mnemo/internal/bus"
	"github.com/mnemo-bot/mnemo/internal/channel"
	"github.com/mnemo-bot/mnemo/internal/compress"
	"github.com/mnemo-bot/mnemo/internal/config"
	"github.com/mnemo-bot/mnemo/internal/conversation"
	"github.com/mnemo-bot/mnemo/internal/cron"
	"github.com/mnemo-bot/mnemo/internal/memory"
	"github.com/mnemo-bot/mnemo/internal/model"
	"github.com/mnemo-bot/mnemo/internal/worker"
)

// Options for creating a Gateway
type Options struct {
	InvokerFactory model.Factory
	SignalChan     chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	channels   *channel.ChannelManager
	invoker    model.Invoker
	assist     *assistant.Assistant
	mem        *memory.Store
	cron       *cron.Service
	pool       *worker.Pool
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	dataDir := config.DataDir()
	conv, err := conversation.NewStore(filepath.Join(dataDir, "conversations.json"), cfg.Conversation)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	mem, err := memory.NewStore(filepath.Join(dataDir, "memory.json"), cfg.Memory.MaxFacts)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	g.mem = mem

	factory := opts.InvokerFactory
	if factory == nil {
		factory = model.NewRuntime
	}
	inner, err := factory(cfg, loadSystemPrompt(cfg))
	if err != nil {
		return nil, fmt.Errorf("create model runtime: %w", err)
	}
	g.invoker = model.NewRetryInvoker(inner,
		cfg.Gateway.ModelAttempts,
		time.Duration(cfg.Gateway.ModelTimeoutSecs)*time.Second)

	g.pool = worker.NewPool(cfg.Gateway.Workers)
	g.assist = assistant.New(conv, mem, compress.New(g.invoker, cfg.Conversation), g.invoker, g.pool)

	g.cron = cron.NewService(
		filepath.Join(dataDir, "cron", "jobs.json"),
		time.Duration(cfg.Cron.TickSeconds)*time.Second,
		time.Duration(cfg.Cron.MinIntervalSeconds)*time.Second,
	)
	g.cron.Dispatch = func(fn func()) {
		g.pool.Submit(context.Background(), fn)
	}
	g.cron.OnFire = g.fireJob

	channels, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		return nil, fmt.Errorf("init channels: %w", err)
	}
	g.channels = channels

	return g, nil
}

// loadSystemPrompt assembles the persona files from the workspace, if present.
func loadSystemPrompt(cfg *config.Config) string {
	var parts []string
	for _, name := range []string{"AGENTS.md", "SOUL.md"} {
		data, err := os.ReadFile(filepath.Join(cfg.Agent.Workspace, name))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop is the single event loop. Anything that can block on model I/O
// is pushed onto the worker pool so the loop itself stays responsive.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			m := msg
			g.pool.Submit(ctx, func() { g.handleInbound(ctx, m) })
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	var reply string
	if strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
		reply = g.handleCommand(ctx, msg)
	} else {
		var err error
		reply, err = g.assist.HandleMessage(ctx, msg.SessionKey(), msg.Content)
		if err != nil {
			log.Printf("[gateway] model error: %v", err)
			reply = "Sorry, I could not reach the model. Please try again."
		}
	}

	if reply == "" {
		return
	}
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	}
}

// fireJob routes a due job's prompt through the same pipeline as a live user
// message and delivers the reply to the owning chat.
func (g *Gateway) fireJob(job cron.Job) error {
	chName, chatID, ok := strings.Cut(job.Owner, ":")
	if !ok {
		return fmt.Errorf("malformed job owner %q", job.Owner)
	}

	reply, err := g.assist.HandleMessage(context.Background(), job.Owner, job.Prompt)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	if reply != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: chName,
			ChatID:  chatID,
			Content: reply,
		}
	}
	return nil
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	g.pool.Wait()
	if g.invoker != nil {
		g.invoker.Close()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
