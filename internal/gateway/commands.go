package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mnemo-bot/mnemo/internal/bus"
	"github.com/mnemo-bot/mnemo/internal/cron"
	"github.com/mnemo-bot/mnemo/internal/memory"
)

const helpText = `**Conversation**
• /help - show this help
• /new - save memories and start a new conversation
• /clear - clear history and summary (long-term memory kept)
• /context - show context stats
• /summarize - fold the buffer into the summary now
• /summary - show the current summary

**Memory**
• /memory - list long-term memory
• /forget - clear all long-term memory
• /forget <n> - delete one memory by number

**Scheduling**
• /remind <duration> <message> - one-time reminder (e.g. /remind 30m standup)
• /every <interval> <message> - recurring message (e.g. /every 1h drink water)
• /daily <HH:MM> <prompt> - daily trigger (e.g. /daily 09:00 morning briefing)
• /cron list - list scheduled jobs
• /cron info <id> - job details
• /cron remove <id> - delete a job
• /cron toggle <id> - enable/disable a job
• /cron test <id> - fire a job now without touching its schedule

Just type a message to chat; history is remembered and compressed automatically.`

func (g *Gateway) handleCommand(ctx context.Context, msg bus.InboundMessage) string {
	user := msg.SessionKey()
	fields := strings.Fields(msg.Content)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/help":
		return helpText

	case "/clear", "/reset":
		g.assist.Reset(ctx, user, false)
		return "Conversation history and summary cleared (long-term memory kept)."

	case "/new":
		added := g.assist.Reset(ctx, user, true)
		if added > 0 {
			return fmt.Sprintf("Saved %d memories and started a new conversation.", added)
		}
		return "New conversation started (long-term memory kept)."

	case "/context":
		stats := g.assist.ContextStats(user)
		hasSummary := "no"
		if stats.HasSummary {
			hasSummary = "yes"
		}
		return fmt.Sprintf("Context: %d exchanges buffered, summary: %s, memories: %d, assembled size: %d chars",
			stats.Messages/2, hasSummary, stats.Facts, stats.ContextChars)

	case "/summarize":
		return g.cmdSummarize(ctx, user)

	case "/summary":
		return g.cmdShowSummary(user)

	case "/memory":
		return g.cmdListMemory(user)

	case "/forget":
		return g.cmdForget(user, args)

	case "/remind":
		return g.cmdRemind(user, args)

	case "/every":
		return g.cmdEvery(user, args)

	case "/daily":
		return g.cmdDaily(user, args)

	case "/cron":
		return g.cmdCron(user, args)
	}

	return "Unknown command. Send /help for the command list."
}

func (g *Gateway) cmdSummarize(ctx context.Context, user string) string {
	stats := g.assist.ContextStats(user)
	if stats.Messages == 0 {
		return "Nothing to summarize yet."
	}
	summary, err := g.assist.Summarize(ctx, user)
	if err != nil {
		log.Printf("[gateway] manual summarize failed: %v", err)
		return "Summary generation failed. Please try again."
	}
	return "Summary updated:\n\n" + truncate(summary, 500)
}

func (g *Gateway) cmdShowSummary(user string) string {
	summary := g.assist.Summary(user)
	if summary == "" {
		return "No summary yet."
	}
	return "Current summary:\n\n" + truncate(summary, 1800)
}

func (g *Gateway) cmdListMemory(user string) string {
	facts := g.mem.List(user)
	if len(facts) == 0 {
		return "No long-term memory yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Long-term memory (%d):**\n\n", len(facts))
	for i, fact := range facts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, fact)
	}
	return truncate(b.String(), 1800)
}

func (g *Gateway) cmdForget(user string, args []string) string {
	if len(args) == 0 || strings.EqualFold(args[0], "all") {
		count := g.mem.Clear(user)
		if count == 0 {
			return "No long-term memory to clear."
		}
		return fmt.Sprintf("Cleared %d memories.", count)
	}

	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: /forget clears all, /forget 3 deletes the 3rd memory."
	}
	removed, err := g.mem.Delete(user, idx)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return fmt.Sprintf("Invalid number, valid range is 1-%d.", len(g.mem.List(user)))
		}
		return "Could not delete that memory."
	}
	return "Deleted memory: " + removed
}

func (g *Gateway) cmdRemind(user string, args []string) string {
	if len(args) < 2 {
		return "Usage: /remind <duration> <message> (e.g. /remind 30m standup)"
	}
	d, err := parseDuration(args[0])
	if err != nil {
		return "Could not parse the duration. Use forms like 30s, 15m, 2h, 1d."
	}
	prompt := strings.Join(args[1:], " ")

	job, err := g.cron.Add(user, prompt, cron.Schedule{
		Kind: cron.KindOnce,
		AtMs: time.Now().Add(d).UnixMilli(),
	})
	if err != nil {
		return "Could not add the reminder: " + err.Error()
	}
	return fmt.Sprintf("Reminder `%s` set for %s from now.", job.ID, d)
}

func (g *Gateway) cmdEvery(user string, args []string) string {
	if len(args) < 2 {
		return "Usage: /every <interval> <message> (e.g. /every 1h drink water)"
	}
	d, err := parseDuration(args[0])
	if err != nil {
		return "Could not parse the interval. Use forms like 15m, 2h, 1d."
	}
	prompt := strings.Join(args[1:], " ")

	job, err := g.cron.Add(user, prompt, cron.Schedule{
		Kind:    cron.KindInterval,
		EveryMs: d.Milliseconds(),
	})
	if err != nil {
		return "Could not add the recurring job: " + err.Error()
	}
	return fmt.Sprintf("Recurring job `%s` added, every %s.", job.ID, d)
}

func (g *Gateway) cmdDaily(user string, args []string) string {
	if len(args) < 2 {
		return "Usage: /daily <HH:MM> <prompt> (e.g. /daily 09:00 morning briefing)"
	}
	if _, _, err := cron.ParseTimeOfDay(args[0]); err != nil {
		return "Could not parse the time. Use 24-hour HH:MM, e.g. 09:00."
	}
	prompt := strings.Join(args[1:], " ")

	job, err := g.cron.Add(user, prompt, cron.Schedule{
		Kind:      cron.KindDaily,
		TimeOfDay: args[0],
	})
	if err != nil {
		return "Could not add the daily job: " + err.Error()
	}
	return fmt.Sprintf("Daily job `%s` added at %s.", job.ID, args[0])
}

func (g *Gateway) cmdCron(user string, args []string) string {
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch strings.ToLower(args[0]) {
	case "list":
		jobs := g.cron.List(user)
		if len(jobs) == 0 {
			return "No scheduled jobs."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "**Scheduled jobs (%d):**\n", len(jobs))
		for _, job := range jobs {
			mark := "✓"
			if !job.Enabled {
				mark = "✗"
			}
			fmt.Fprintf(&b, "`%s` [%s] %s - %s\n", job.ID, mark, job.Schedule.Describe(), truncate(job.Prompt, 30))
		}
		return b.String()

	case "info":
		if len(args) < 2 {
			return "Usage: /cron info <id>"
		}
		job, err := g.cron.Info(args[1])
		if err != nil {
			return jobErrorMessage(err)
		}
		return formatJobInfo(job)

	case "remove":
		if len(args) < 2 {
			return "Usage: /cron remove <id>"
		}
		if err := g.cron.Remove(args[1]); err != nil {
			return jobErrorMessage(err)
		}
		return fmt.Sprintf("Job `%s` removed.", args[1])

	case "toggle":
		if len(args) < 2 {
			return "Usage: /cron toggle <id>"
		}
		enabled, err := g.cron.Toggle(args[1])
		if err != nil {
			return jobErrorMessage(err)
		}
		if enabled {
			return fmt.Sprintf("Job `%s` enabled, next fire recomputed.", args[1])
		}
		return fmt.Sprintf("Job `%s` disabled.", args[1])

	case "test":
		if len(args) < 2 {
			return "Usage: /cron test <id>"
		}
		if err := g.cron.Test(args[1]); err != nil {
			return jobErrorMessage(err)
		}
		return fmt.Sprintf("Job `%s` fired for testing; its schedule is unchanged.", args[1])
	}

	return "Usage: /cron list|info|remove|toggle|test"
}

func jobErrorMessage(err error) string {
	if errors.Is(err, cron.ErrNotFound) {
		return "No job with that id. Use /cron list to see your jobs."
	}
	return "Scheduler error: " + err.Error()
}

func formatJobInfo(job cron.Job) string {
	status := "enabled"
	if !job.Enabled {
		status = "disabled"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Job** `%s`\n", job.ID)
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Schedule: %s\n", job.Schedule.Describe())
	fmt.Fprintf(&b, "Prompt: %s\n", truncate(job.Prompt, 100))
	fmt.Fprintf(&b, "Next fire: %s\n", time.UnixMilli(job.State.NextFireMs).Format("2006-01-02 15:04:05"))
	if job.State.LastFiredMs > 0 {
		fmt.Fprintf(&b, "Last fired: %s\n", time.UnixMilli(job.State.LastFiredMs).Format("2006-01-02 15:04:05"))
	}
	if job.State.LastStatus != "" {
		fmt.Fprintf(&b, "Last status: %s\n", job.State.LastStatus)
	}
	if job.State.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", job.State.LastError)
	}
	fmt.Fprintf(&b, "Created: %s", time.UnixMilli(job.CreatedAtMs).Format("2006-01-02 15:04:05"))
	return b.String()
}

// parseDuration accepts short forms like 30s, 15m, 2h, 1d.
func parseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	multipliers := []struct {
		suffix string
		unit   time.Duration
	}{
		{"sec", time.Second},
		{"s", time.Second},
		{"min", time.Minute},
		{"m", time.Minute},
		{"hour", time.Hour},
		{"hr", time.Hour},
		{"h", time.Hour},
		{"day", 24 * time.Hour},
		{"d", 24 * time.Hour},
	}
	for _, m := range multipliers {
		if !strings.HasSuffix(s, m.suffix) {
			continue
		}
		digits := strings.TrimSpace(strings.TrimSuffix(s, m.suffix))
		n, err := strconv.Atoi(digits)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * m.unit, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}
