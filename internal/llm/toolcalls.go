package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolCallAssembler reassembles streamed tool-call fragments, keyed by index.
type ToolCallAssembler struct {
	byIndex map[int]*toolCallState
	order   []int
}

type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{byIndex: make(map[int]*toolCallState)}
}

// Add folds one fragment into the call at its index. The first non-empty id
// and name win; argument fragments are concatenated in arrival order.
func (s *ToolCallAssembler) Add(delta ToolCallDelta) {
	state, ok := s.byIndex[delta.Index]
	if !ok {
		state = &toolCallState{}
		s.byIndex[delta.Index] = state
		s.order = append(s.order, delta.Index)
	}
	if delta.ID != "" && state.id == "" {
		state.id = delta.ID
	}
	if delta.Name != "" && state.name == "" {
		state.name = delta.Name
	}
	if delta.Arguments != "" {
		state.args.WriteString(delta.Arguments)
	}
}

// Len returns how many distinct calls have been seen.
func (s *ToolCallAssembler) Len() int {
	return len(s.order)
}

// Calls returns the assembled calls sorted by index.
func (s *ToolCallAssembler) Calls() []ToolCall {
	if len(s.order) == 0 {
		return nil
	}
	order := append([]int(nil), s.order...)
	sort.Ints(order)
	calls := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		state := s.byIndex[idx]
		calls = append(calls, ToolCall{
			ID:        state.id,
			Name:      state.name,
			Arguments: json.RawMessage(state.args.String()),
		})
	}
	return calls
}

func ensureToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d", i+1)
		}
	}
	return calls
}

func dedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		if _, ok := seen[call.ID]; ok {
			continue
		}
		seen[call.ID] = struct{}{}
		out = append(out, call)
	}
	return out
}
