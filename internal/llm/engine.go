package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// defaultMaxToolRounds bounds tool round-trips per user turn.
const defaultMaxToolRounds = 10

// State is a node of the orchestration state machine.
type State string

const (
	StateIdle             State = "idle"
	StateModeSelect       State = "mode_select"
	StateStreaming        State = "streaming"
	StateNonStreaming     State = "non_streaming"
	StateToolCallsPending State = "tool_calls_pending"
	StateExecuting        State = "executing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// RunOptions configures a single user turn.
type RunOptions struct {
	ToolsEnabled  bool
	WebSearch     bool
	MaxToolRounds int // 0 = default
}

// RunResult is the outcome of Run. Messages is the full history, including
// everything appended during the turn, even when the turn failed.
type RunResult struct {
	Messages   []Message
	State      State
	ToolRounds int
	Usage      Usage
}

// Engine drives one user turn: it picks streaming or non-streaming mode,
// renders the answer and runs the bounded tool-call loop.
type Engine struct {
	client   ChatClient
	tools    ToolRunner
	renderer Renderer

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// NewEngine creates an engine. tools may be nil.
func NewEngine(client ChatClient, tools ToolRunner, renderer Renderer) *Engine {
	return &Engine{client: client, tools: tools, renderer: renderer}
}

// run carries the mutable state of a single invocation.
type run struct {
	e        *Engine
	state    State
	messages []Message
	result   *RunResult
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	slog.Debug("engine transition", "from", from, "to", to)
	if r.e.OnTransition != nil {
		r.e.OnTransition(from, to)
	}
}

func (r *run) fail(err error) (*RunResult, error) {
	r.e.renderer.Abort(err)
	r.transition(StateFailed)
	r.result.Messages = r.messages
	r.result.State = StateFailed
	return r.result, err
}

func (r *run) done() (*RunResult, error) {
	r.transition(StateDone)
	r.result.Messages = r.messages
	r.result.State = StateDone
	return r.result, nil
}

// Run executes one turn against history, which must already end with the
// user's message. The returned history is a new slice.
func (e *Engine) Run(ctx context.Context, history []Message, opts RunOptions) (*RunResult, error) {
	maxRounds := opts.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	r := &run{
		e:        e,
		state:    StateIdle,
		messages: append([]Message(nil), history...),
		result:   &RunResult{},
	}

	r.transition(StateModeSelect)
	var defs []ToolDefinition
	if e.tools != nil && opts.ToolsEnabled {
		defs = e.tools.Definitions()
	}

	var pending []ToolCall
	if len(defs) > 0 {
		r.transition(StateNonStreaming)
	} else {
		r.transition(StateStreaming)
		calls, err := r.stream(ctx, opts)
		if err != nil {
			return r.fail(err)
		}
		if len(calls) == 0 {
			return r.done()
		}
		// Tool calls in streaming mode are unexpected; run them anyway so
		// the model's request is not silently dropped.
		slog.Warn("streamed response contained tool calls", "count", len(calls))
		pending = calls
		r.transition(StateToolCallsPending)
	}

	for {
		if pending == nil {
			resp, err := r.complete(ctx, defs, opts)
			if err != nil {
				return r.fail(err)
			}
			if !resp.WantsTools() {
				r.renderFinal(resp)
				return r.done()
			}
			r.transition(StateToolCallsPending)
			pending = resp.Message.ToolCalls
		}

		if r.result.ToolRounds >= maxRounds {
			// The unanswered tool request would make the saved history invalid.
			if n := len(r.messages); n > 0 && len(r.messages[n-1].ToolCalls) > 0 {
				r.messages = r.messages[:n-1]
			}
			return r.fail(NewErrorf(KindLoopLimitExceeded, "tool loop limit exceeded (%d rounds)", maxRounds))
		}

		r.transition(StateExecuting)
		if err := r.execute(ctx, pending); err != nil {
			return r.fail(err)
		}
		r.result.ToolRounds++
		pending = nil
		r.transition(StateNonStreaming)
	}
}

// stream runs the Streaming state. It returns tool calls reassembled from
// any tool-call fragments the provider sent.
func (r *run) stream(ctx context.Context, opts RunOptions) ([]ToolCall, error) {
	body, err := r.e.client.Stream(ctx, ChatRequest{Messages: r.messages, WebSearch: opts.WebSearch})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dec := NewDecoder(body)
	assembler := NewToolCallAssembler()
	var text, reasoning strings.Builder
	var citations []Citation

	appendPartial := func() {
		if text.Len() > 0 || reasoning.Len() > 0 {
			r.messages = append(r.messages, AssistantText(text.String(), reasoning.String()))
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			appendPartial()
			return nil, WrapError(KindTransport, "cancelled", err)
		}
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			appendPartial()
			return nil, err
		}
		switch ev.Type {
		case EventContentDelta:
			text.WriteString(ev.Text)
			r.e.renderer.Content(ev.Text)
		case EventReasoningDelta:
			reasoning.WriteString(ev.Text)
			r.e.renderer.Reasoning(ev.Text)
		case EventToolCallDelta:
			assembler.Add(*ev.ToolCall)
		case EventUsage:
			r.addUsage(ev.Usage)
		case EventCitations:
			citations = append(citations, ev.Citations...)
		case EventError:
			if ev.Err.Kind.Is(KindDecode) {
				slog.Warn("skipping malformed stream record", "error", ev.Err)
				continue
			}
			appendPartial()
			return nil, ev.Err
		case EventDone:
		}
	}

	if len(citations) > 0 {
		r.e.renderer.Citations(citations)
	}

	calls := dedupeToolCalls(ensureToolCallIDs(assembler.Calls()))
	msg := AssistantText(text.String(), reasoning.String())
	msg.ToolCalls = calls
	r.messages = append(r.messages, msg)
	r.e.renderer.Finish()
	return calls, nil
}

// complete runs one NonStreaming request. An assistant message that asks
// for tools is appended here; a final answer is appended by renderFinal.
func (r *run) complete(ctx context.Context, defs []ToolDefinition, opts RunOptions) (*ChatResponse, error) {
	resp, err := r.e.client.Complete(ctx, ChatRequest{
		Messages:  r.messages,
		Tools:     defs,
		WebSearch: opts.WebSearch,
	})
	if err != nil {
		return nil, err
	}
	r.addUsage(resp.Usage)
	if resp.WantsTools() {
		resp.Message.ToolCalls = dedupeToolCalls(ensureToolCallIDs(resp.Message.ToolCalls))
		r.messages = append(r.messages, resp.Message)
		if resp.Message.Content != "" {
			r.e.renderer.Content(resp.Message.Content)
			r.e.renderer.Finish()
		}
	}
	return resp, nil
}

func (r *run) renderFinal(resp *ChatResponse) {
	r.messages = append(r.messages, resp.Message)
	if resp.Message.Reasoning != "" {
		r.e.renderer.Reasoning(resp.Message.Reasoning)
	}
	r.e.renderer.Content(resp.Message.Content)
	if len(resp.Citations) > 0 {
		r.e.renderer.Citations(resp.Citations)
	}
	r.e.renderer.Finish()
}

// execute runs every call sequentially and appends one tool message per
// call in the order the model requested them.
func (r *run) execute(ctx context.Context, calls []ToolCall) error {
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return WrapError(KindTransport, "cancelled", err)
		}
		r.e.renderer.ToolStart(call)
		var result ToolResult
		switch {
		case r.e.tools == nil:
			result = ToolResult{ID: call.ID, Name: call.Name, Err: NewErrorf(KindValidation, "tool not registered: %s", call.Name)}
		case strings.TrimSpace(call.Name) == "":
			result = ToolResult{ID: call.ID, Err: NewError(KindValidation, "tool call is missing a function name")}
		default:
			result = r.e.tools.Run(ctx, call)
			result.ID = call.ID
			result.Name = call.Name
		}
		if result.Err != nil {
			slog.Debug("tool call failed", "tool", call.Name, "id", call.ID, "error", result.Err)
		}
		r.e.renderer.ToolResult(call, result)
		r.messages = append(r.messages, ToolResultMessage(result))
	}
	return nil
}

func (r *run) addUsage(u *Usage) {
	if u == nil {
		return
	}
	r.result.Usage.InputTokens += u.InputTokens
	r.result.Usage.OutputTokens += u.OutputTokens
}

// String renders a state for diagnostics.
func (s State) String() string {
	return string(s)
}

// ExtractToolInfo returns a short argument preview for display, for
// example "(notes.txt)" for read_file.
func ExtractToolInfo(call ToolCall) string {
	s := strings.TrimSpace(string(call.Arguments))
	if s == "" || s == "{}" || s == "null" {
		return ""
	}
	if r := []rune(s); len(r) > 80 {
		s = string(r[:77]) + "..."
	}
	return fmt.Sprintf("(%s)", s)
}
