package ui

import (
	"fmt"
	"time"

	"github.com/samsaffron/cmd2ai/internal/llm"
)

// RunStats tracks timing and token totals for one engine run.
type RunStats struct {
	StartTime    time.Time
	InputTokens  int
	OutputTokens int
	ToolRounds   int

	// Time tracking
	LLMTime       time.Duration
	ToolTime      time.Duration
	lastEventTime time.Time
	inTool        bool
	end           time.Time

	now func() time.Time
}

// NewRunStats creates a RunStats with StartTime set to now.
func NewRunStats() *RunStats {
	return newRunStats(time.Now)
}

func newRunStats(now func() time.Time) *RunStats {
	start := now()
	return &RunStats{StartTime: start, lastEventTime: start, now: now}
}

// Observe is an llm.Engine OnTransition hook. Time spent in the executing
// state counts as tool time, everything else as LLM time.
func (s *RunStats) Observe(from, to llm.State) {
	switch {
	case to == llm.StateExecuting && !s.inTool:
		s.mark()
		s.inTool = true
	case from == llm.StateExecuting && to != llm.StateExecuting:
		s.mark()
		s.inTool = false
	}
}

func (s *RunStats) mark() {
	t := s.now()
	if s.inTool {
		s.ToolTime += t.Sub(s.lastEventTime)
	} else {
		s.LLMTime += t.Sub(s.lastEventTime)
	}
	s.lastEventTime = t
}

// Finish records any remaining time and copies totals from res (may be nil).
func (s *RunStats) Finish(res *llm.RunResult) {
	s.mark()
	s.end = s.lastEventTime
	if res != nil {
		s.InputTokens = res.Usage.InputTokens
		s.OutputTokens = res.Usage.OutputTokens
		s.ToolRounds = res.ToolRounds
	}
}

// Render returns the stats as a compact single-line string.
func (s RunStats) Render() string {
	end := s.end
	if end.IsZero() {
		end = s.lastEventTime
	}
	total := end.Sub(s.StartTime)

	tokensStr := fmt.Sprintf("%s in / %s out",
		formatTokenCount(s.InputTokens),
		formatTokenCount(s.OutputTokens))

	var timeStr string
	if s.ToolRounds > 0 {
		timeStr = fmt.Sprintf("%.1fs (llm %.1fs + tool %.1fs)",
			total.Seconds(), s.LLMTime.Seconds(), s.ToolTime.Seconds())
	} else {
		timeStr = fmt.Sprintf("%.1fs", total.Seconds())
	}

	rounds := "rounds"
	if s.ToolRounds == 1 {
		rounds = "round"
	}
	return fmt.Sprintf("Stats: %s | %s | %d tool %s", timeStr, tokensStr, s.ToolRounds, rounds)
}

// formatTokenCount abbreviates large counts: 950, 1.2k, 3.4M.
func formatTokenCount(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
