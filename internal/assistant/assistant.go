package assistant

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mnemo-bot/mnemo/internal/compress"
	"github.com/mnemo-bot/mnemo/internal/conversation"
	"github.com/mnemo-bot/mnemo/internal/memory"
	"github.com/mnemo-bot/mnemo/internal/model"
	"github.com/mnemo-bot/mnemo/internal/worker"
)

// minMessagesForExtraction is the smallest buffer worth a pre-reset
// memory extraction pass.
const minMessagesForExtraction = 4

// Assistant ties the conversation store, memory store, compressor and model
// together behind per-user serialization. Inbound messages and scheduler
// firings for the same user both land here, so each user's state is guarded
// by its own mutex while different users proceed concurrently.
type Assistant struct {
	conv    *conversation.Store
	mem     *memory.Store
	comp    *compress.Compressor
	invoker model.Invoker
	pool    *worker.Pool

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func New(conv *conversation.Store, mem *memory.Store, comp *compress.Compressor, invoker model.Invoker, pool *worker.Pool) *Assistant {
	return &Assistant{
		conv:    conv,
		mem:     mem,
		comp:    comp,
		invoker: invoker,
		pool:    pool,
		users:   make(map[string]*sync.Mutex),
	}
}

func (a *Assistant) userLock(user string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.users[user]
	if !ok {
		lock = &sync.Mutex{}
		a.users[user] = lock
	}
	return lock
}

// HandleMessage runs one full conversational turn: assemble context, invoke
// the model, record both turns, and kick off background compression when the
// buffer crosses its threshold. On model failure nothing is recorded.
func (a *Assistant) HandleMessage(ctx context.Context, user, content string) (string, error) {
	lock := a.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	prompt := a.conv.AssembleContext(user, a.mem.List(user)) + "\n\n---\n\nUser: " + content

	reply, err := a.invoker.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}

	a.conv.Append(user, conversation.RoleUser, content)
	count := a.conv.Append(user, conversation.RoleAssistant, reply)

	if a.conv.NeedsCompression(user) {
		log.Printf("[assistant] buffer at %d for %s, scheduling compression", count, user)
		a.pool.Submit(context.Background(), func() { a.compressUser(context.Background(), user) })
	}

	return reply, nil
}

// compressUser folds the oldest window into the summary and merges any
// extracted facts. Runs on the worker pool; holds the user's lock so it can
// never overlap another compression or turn for the same user.
func (a *Assistant) compressUser(ctx context.Context, user string) {
	lock := a.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	if !a.conv.NeedsCompression(user) {
		return
	}

	window := a.conv.Window(user, a.comp.Window())
	res, err := a.comp.Summarize(ctx, window)
	if err != nil {
		// Buffer stays intact; the next turn re-triggers compression.
		log.Printf("[assistant] compression skipped for %s: %v", user, err)
		return
	}
	if res.Summary == "" {
		log.Printf("[assistant] compression produced no summary for %s, skipping", user)
		return
	}

	merged := a.comp.MergeSummaries(ctx, a.conv.Summary(user), res.Summary)
	a.conv.ApplyCompression(user, merged, len(window))

	if len(res.Facts) > 0 {
		added := a.mem.Merge(user, res.Facts)
		log.Printf("[assistant] extracted %d facts for %s", added, user)
	}
	log.Printf("[assistant] compressed history for %s", user)
}

// Summarize folds the entire buffer into the summary on demand and returns
// the new summary.
func (a *Assistant) Summarize(ctx context.Context, user string) (string, error) {
	lock := a.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	msgs := a.conv.Messages(user)
	if len(msgs) == 0 {
		return a.conv.Summary(user), nil
	}

	res, err := a.comp.Summarize(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if res.Summary == "" {
		return a.conv.Summary(user), nil
	}

	merged := a.comp.MergeSummaries(ctx, a.conv.Summary(user), res.Summary)
	a.conv.ApplyCompression(user, merged, len(msgs))
	if len(res.Facts) > 0 {
		a.mem.Merge(user, res.Facts)
	}
	return merged, nil
}

// Reset clears the user's summary and buffer. With extractMemory set and a
// buffer of at least a few turns, one extraction pass salvages durable facts
// into long-term memory first. Returns how many facts were saved.
func (a *Assistant) Reset(ctx context.Context, user string, extractMemory bool) int {
	lock := a.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	added := 0
	msgs := a.conv.Messages(user)
	if extractMemory && len(msgs) >= minMessagesForExtraction {
		res, err := a.comp.Summarize(ctx, msgs)
		if err != nil {
			log.Printf("[assistant] pre-reset extraction failed for %s: %v", user, err)
		} else if len(res.Facts) > 0 {
			added = a.mem.Merge(user, res.Facts)
		}
	}

	a.conv.Reset(user)
	log.Printf("[assistant] reset conversation for %s", user)
	return added
}

// Summary returns the user's current rolling summary without side effects.
func (a *Assistant) Summary(user string) string {
	lock := a.userLock(user)
	lock.Lock()
	defer lock.Unlock()
	return a.conv.Summary(user)
}

// Stats describes the user's live context for diagnostic output.
type Stats struct {
	Messages     int
	HasSummary   bool
	Facts        int
	ContextChars int
}

func (a *Assistant) ContextStats(user string) Stats {
	lock := a.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	messages, hasSummary := a.conv.Stats(user)
	facts := a.mem.List(user)
	return Stats{
		Messages:     messages,
		HasSummary:   hasSummary,
		Facts:        len(facts),
		ContextChars: len(a.conv.AssembleContext(user, facts)),
	}
}
