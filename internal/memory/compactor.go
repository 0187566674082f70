package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bull/ffi-copilot/internal/llm"
)

const (
	// DefaultTrigger is the message count above which a session is compacted.
	DefaultTrigger = 20
	// DefaultKeepLast is the number of recent messages kept verbatim.
	DefaultKeepLast = 12
)

// compactTimeout bounds one shared compaction, which outlives the request
// that started it.
const compactTimeout = 2 * time.Minute

const summarizerSystemPrompt = "Du bist ein präziser Protokollant. Du fasst strikt faktenbasiert zusammen."

const summaryPromptTemplate = `Du aktualisierst eine kurze, faktenbasierte Session-Zusammenfassung.
Regeln:
- Nur Fakten/Entscheidungen/Definitionen/To-dos, keine Floskeln.
- Keine Vermutungen, nichts erfinden.
- Maximal 10 Bulletpoints.
- Wenn etwas unklar ist: weglassen.

Bisherige Zusammenfassung:
%s

Neue Gesprächsteile (ältere Messages, die verdichtet werden sollen):
%s

Gib nur die aktualisierte Zusammenfassung als Bullet-Liste aus.`

// Compactor folds old messages into the session summary once a session
// grows past the trigger.
type Compactor struct {
	store    *Store
	model    llm.ChatModel
	trigger  int
	keepLast int
	logger   *slog.Logger

	// One compaction per session at a time; concurrent callers share it.
	group singleflight.Group
}

// NewCompactor creates a compactor. trigger and keepLast fall back to the
// defaults when not positive.
func NewCompactor(store *Store, model llm.ChatModel, trigger, keepLast int, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	if trigger <= 0 {
		trigger = DefaultTrigger
	}
	if keepLast <= 0 {
		keepLast = DefaultKeepLast
	}
	return &Compactor{
		store:    store,
		model:    model,
		trigger:  trigger,
		keepLast: keepLast,
		logger:   logger,
	}
}

// KeepLast returns the number of messages kept verbatim after compaction.
func (c *Compactor) KeepLast() int {
	return c.keepLast
}

// MaybeCompact compacts the session if it holds more than trigger messages.
// A failed or empty summarization leaves summary and messages untouched.
func (c *Compactor) MaybeCompact(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.store.CountMessages(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if n <= c.trigger {
		return false, nil
	}

	ch := c.group.DoChan(sessionID, func() (any, error) {
		// Detached from the first caller so its cancellation does not fail
		// the callers sharing this compaction.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compactTimeout)
		defer cancel()
		return c.compact(runCtx, sessionID)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (c *Compactor) compact(ctx context.Context, sessionID string) (bool, error) {
	// Re-check: a compaction that finished just before this one started has
	// already brought the count down.
	n, err := c.store.CountMessages(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if n <= c.trigger {
		return false, nil
	}

	recent, err := c.store.LastMessages(ctx, sessionID, c.trigger+c.keepLast)
	if err != nil {
		return false, err
	}
	if len(recent) <= c.keepLast {
		return false, nil
	}
	oldPart := recent[:len(recent)-c.keepLast]

	summary, err := c.store.Summary(ctx, sessionID)
	if err != nil {
		return false, err
	}

	reply, err := c.model.Chat(ctx, []llm.Message{
		llm.System(summarizerSystemPrompt),
		llm.User(buildSummaryPrompt(summary, oldPart)),
	}, llm.Options{Temperature: 0})
	if err != nil {
		return false, fmt.Errorf("summarize session: %w", err)
	}

	newSummary := strings.TrimSpace(reply)
	if newSummary == "" {
		c.logger.Warn("Summarizer returned empty summary, keeping messages", "session", sessionID)
		return false, nil
	}

	if err := c.store.ApplyCompaction(ctx, sessionID, newSummary, c.keepLast); err != nil {
		return false, err
	}

	c.logger.Info("Compacted session", "session", sessionID, "summarized", len(oldPart), "kept", c.keepLast)
	return true, nil
}

// buildSummaryPrompt renders the old messages one per line as "role: content".
func buildSummaryPrompt(existing string, old []Message) string {
	lines := make([]string, len(old))
	for i, m := range old {
		lines[i] = m.Role + ": " + m.Content
	}
	return fmt.Sprintf(summaryPromptTemplate, existing, strings.Join(lines, "\n"))
}
