package compress

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemo-bot/mnemo/internal/config"
	"github.com/mnemo-bot/mnemo/internal/conversation"
	"github.com/mnemo-bot/mnemo/internal/model"
)

const (
	summaryMarker = "===SUMMARY==="
	factsMarker   = "===FACTS==="

	// maxRecompressDepth bounds self-compression of an overgrown summary.
	// Past this depth the summary is hard-truncated instead.
	maxRecompressDepth = 2

	mergeSeparator = "\n\n---\n\n"
)

const summarizePrompt = `Process the following conversation into two parts.

## PART 1: Conversation summary
Keep:
- topics discussed and conclusions reached
- pending tasks and commitments
- key details (names, dates, numbers)

## PART 2: Long-term memory
Extract facts about the user worth remembering across conversations, such as:
- preferences and habits
- technical background or expertise
- important personal details
- significant decisions

If nothing is worth remembering long-term, leave PART 2 empty.

Conversation:
%s

Output strictly in this format:

===SUMMARY===
(summary, roughly 200-300 words)

===FACTS===
- fact 1
- fact 2
(one fact per line, each starting with "- "; leave empty if none)`

const recompressPrompt = `The following is an accumulation of conversation summaries. Condense them into one compact summary, keeping the most important information:
- the user's core preferences and settings
- important decisions and conclusions
- still-relevant pending tasks
- key details (names, dates, numbers)

Accumulated summaries:
%s

Output the condensed summary (roughly 300-500 words):`

// Result holds one compression pass's output.
type Result struct {
	Summary string
	Facts   []string
}

// Compressor folds the oldest slice of a conversation buffer into a running
// summary and extracts durable user facts along the way.
type Compressor struct {
	invoker         model.Invoker
	window          int
	maxSummaryChars int
}

func New(invoker model.Invoker, cfg config.ConversationConfig) *Compressor {
	return &Compressor{
		invoker:         invoker,
		window:          cfg.SummarizeWindow,
		maxSummaryChars: cfg.MaxSummaryChars,
	}
}

// Window reports how many of the oldest messages one pass consumes.
func (c *Compressor) Window() int {
	return c.window
}

// Summarize runs one model pass over the given messages. An error means the
// model could not be reached; the caller should keep its buffer untouched and
// retry on the next trigger. A malformed response degrades to using the whole
// output as the summary with no facts.
func (c *Compressor) Summarize(ctx context.Context, msgs []conversation.Message) (Result, error) {
	if len(msgs) == 0 {
		return Result{}, nil
	}

	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	out, err := c.invoker.Invoke(ctx, fmt.Sprintf(summarizePrompt, b.String()))
	if err != nil {
		return Result{}, fmt.Errorf("summarize: %w", err)
	}

	summary, facts := parseOutput(out)
	return Result{Summary: summary, Facts: facts}, nil
}

// MergeSummaries combines the existing summary with a new fragment. When the
// combined text overflows the summary budget it is re-summarized by the model,
// at most maxRecompressDepth times, then hard-truncated as a last resort.
// Model failures during re-summarization are absorbed; the method always
// returns a summary within budget.
func (c *Compressor) MergeSummaries(ctx context.Context, oldSummary, fragment string) string {
	oldSummary = strings.TrimSpace(oldSummary)
	fragment = strings.TrimSpace(fragment)

	var merged string
	switch {
	case oldSummary == "":
		merged = fragment
	case fragment == "":
		merged = oldSummary
	default:
		merged = oldSummary + mergeSeparator + fragment
	}

	for depth := 0; depth < maxRecompressDepth && len(merged) > c.maxSummaryChars; depth++ {
		out, err := c.invoker.Invoke(ctx, fmt.Sprintf(recompressPrompt, merged))
		if err != nil || strings.TrimSpace(out) == "" {
			break
		}
		merged = strings.TrimSpace(out)
	}

	if len(merged) > c.maxSummaryChars {
		merged = merged[:c.maxSummaryChars]
	}
	return merged
}

func parseOutput(out string) (string, []string) {
	out = strings.TrimSpace(out)
	if !strings.Contains(out, summaryMarker) || !strings.Contains(out, factsMarker) {
		// Model ignored the format; treat the whole output as the summary.
		return out, nil
	}

	parts := strings.SplitN(out, factsMarker, 2)
	summaryPart := parts[0]
	if idx := strings.LastIndex(summaryPart, summaryMarker); idx >= 0 {
		summaryPart = summaryPart[idx+len(summaryMarker):]
	}
	summary := strings.TrimSpace(summaryPart)

	var facts []string
	for _, line := range strings.Split(parts[1], "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") && len(line) > 2 {
			facts = append(facts, strings.TrimSpace(line[2:]))
		}
	}
	return summary, facts
}

func roleLabel(role string) string {
	switch role {
	case conversation.RoleAssistant:
		return "Assistant"
	default:
		return "User"
	}
}
