package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samsaffron/cmd2ai/internal/llm"
)

// Trim keeps the system messages plus the last maxPairs exchanges. An
// exchange starts at a user message and owns every assistant and tool
// message up to the next user message, so tool results stay attached to
// the calls that produced them. maxPairs <= 0 keeps everything.
func Trim(messages []llm.Message, maxPairs int) []llm.Message {
	if maxPairs <= 0 {
		return messages
	}

	var system []llm.Message
	var exchanges [][]llm.Message
	for _, m := range messages {
		switch {
		case m.Role == llm.RoleSystem:
			system = append(system, m)
		case m.Role == llm.RoleUser || len(exchanges) == 0:
			exchanges = append(exchanges, []llm.Message{m})
		default:
			last := len(exchanges) - 1
			exchanges[last] = append(exchanges[last], m)
		}
	}
	if len(exchanges) > maxPairs {
		exchanges = exchanges[len(exchanges)-maxPairs:]
	}

	out := make([]llm.Message, 0, len(messages))
	out = append(out, system...)
	for _, ex := range exchanges {
		out = append(out, ex...)
	}
	return out
}

// ReplaceSystem drops stored system messages and puts text first, so a
// resumed conversation always carries the current date and prompt.
func ReplaceSystem(messages []llm.Message, text string) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.SystemText(text))
	for _, m := range messages {
		if m.Role != llm.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// ResumeOptions selects the conversation an invocation continues.
type ResumeOptions struct {
	New      bool          // always start fresh
	Continue bool          // resume the latest session even when expired
	Expiry   time.Duration // idle time after which a session is not resumed
	Model    string
	Now      time.Time // zero means time.Now()
}

// Resume returns the session to continue and whether it was resumed. An
// expired session that is not continued is deleted.
func Resume(ctx context.Context, store Store, opts ResumeOptions) (*Session, bool, error) {
	if opts.New {
		return New(opts.Model), false, nil
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	latest, err := store.Latest(ctx)
	if errors.Is(err, ErrNotFound) {
		return New(opts.Model), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load latest session: %w", err)
	}

	if latest.Expired(now, opts.Expiry) && !opts.Continue {
		slog.Debug("session expired", "id", latest.ID, "idle", now.Sub(latest.UpdatedAt))
		if err := store.Delete(ctx, latest.ID); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("failed to delete expired session", "id", latest.ID, "error", err)
		}
		return New(opts.Model), false, nil
	}
	slog.Debug("resuming session", "id", latest.ID, "messages", len(latest.Messages))
	return latest, true, nil
}
