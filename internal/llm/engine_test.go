package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

type fakeClient struct {
	streams   []string
	responses []*ChatResponse
	streamErr error

	streamCalls   []ChatRequest
	completeCalls []ChatRequest
}

func (c *fakeClient) Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	c.streamCalls = append(c.streamCalls, req)
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	idx := len(c.streamCalls) - 1
	if idx >= len(c.streams) {
		idx = len(c.streams) - 1
	}
	return io.NopCloser(strings.NewReader(c.streams[idx])), nil
}

func (c *fakeClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c.completeCalls = append(c.completeCalls, req)
	idx := len(c.completeCalls) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	resp := *c.responses[idx]
	resp.Message.ToolCalls = append([]ToolCall(nil), resp.Message.ToolCalls...)
	return &resp, nil
}

type fakeTools struct {
	defs []ToolDefinition
	run  func(call ToolCall) ToolResult
	ran  []ToolCall
}

func (f *fakeTools) Definitions() []ToolDefinition {
	return f.defs
}

func (f *fakeTools) Run(ctx context.Context, call ToolCall) ToolResult {
	f.ran = append(f.ran, call)
	if f.run != nil {
		return f.run(call)
	}
	return ToolResult{Output: "ok:" + call.Name}
}

type recordingRenderer struct {
	content   strings.Builder
	reasoning strings.Builder
	citations []Citation
	started   []string
	results   []ToolResult
	finished  int
	aborted   error
}

func (r *recordingRenderer) Content(text string)   { r.content.WriteString(text) }
func (r *recordingRenderer) Reasoning(text string) { r.reasoning.WriteString(text) }
func (r *recordingRenderer) Citations(c []Citation) {
	r.citations = append(r.citations, c...)
}
func (r *recordingRenderer) ToolStart(call ToolCall) { r.started = append(r.started, call.Name) }
func (r *recordingRenderer) ToolResult(call ToolCall, result ToolResult) {
	r.results = append(r.results, result)
}
func (r *recordingRenderer) Finish()         { r.finished++ }
func (r *recordingRenderer) Abort(err error) { r.aborted = err }

func sseData(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	return b.String()
}

func contentPayload(text string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": text}}},
	})
	return string(data)
}

func toolRequest(calls ...ToolCall) *ChatResponse {
	return &ChatResponse{
		Message:      Message{Role: RoleAssistant, ToolCalls: calls},
		FinishReason: "tool_calls",
	}
}

func finalAnswer(text string) *ChatResponse {
	return &ChatResponse{
		Message:      AssistantText(text, ""),
		FinishReason: "stop",
		Usage:        &Usage{InputTokens: 2, OutputTokens: 1},
	}
}

func recordTransitions(e *Engine) *[]State {
	var states []State
	e.OnTransition = func(from, to State) {
		states = append(states, to)
	}
	return &states
}

func TestEngine_StreamingWithoutTools(t *testing.T) {
	client := &fakeClient{streams: []string{
		sseData(contentPayload("2+2 "), contentPayload("is 4"), "[DONE]"),
	}}
	renderer := &recordingRenderer{}
	engine := NewEngine(client, nil, renderer)
	states := recordTransitions(engine)

	res, err := engine.Run(context.Background(), []Message{UserText("2+2")}, RunOptions{ToolsEnabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %s, want done", res.State)
	}
	if got := renderer.content.String(); got != "2+2 is 4" {
		t.Errorf("rendered = %q", got)
	}
	if len(client.completeCalls) != 0 || len(client.streamCalls) != 1 {
		t.Errorf("calls: stream=%d complete=%d", len(client.streamCalls), len(client.completeCalls))
	}
	want := []State{StateModeSelect, StateStreaming, StateDone}
	if !reflect.DeepEqual(*states, want) {
		t.Errorf("transitions = %v, want %v", *states, want)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Role != RoleAssistant || last.Content != "2+2 is 4" {
		t.Errorf("last message = %+v", last)
	}
	if renderer.finished != 1 {
		t.Errorf("finish called %d times", renderer.finished)
	}
}

func TestEngine_StreamingSkipsMalformedRecords(t *testing.T) {
	client := &fakeClient{streams: []string{
		sseData(contentPayload("a"), "{broken", contentPayload("b")),
	}}
	renderer := &recordingRenderer{}
	res, err := NewEngine(client, nil, renderer).Run(context.Background(), []Message{UserText("hi")}, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateDone || renderer.content.String() != "ab" {
		t.Fatalf("state=%s content=%q", res.State, renderer.content.String())
	}
}

func TestEngine_StreamingTransportErrorFails(t *testing.T) {
	client := &fakeClient{streamErr: NewError(KindTransport, "API error (status 500): boom")}
	renderer := &recordingRenderer{}
	res, err := NewEngine(client, nil, renderer).Run(context.Background(), []Message{UserText("hi")}, RunOptions{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if res.State != StateFailed || renderer.aborted == nil {
		t.Fatalf("state=%s aborted=%v", res.State, renderer.aborted)
	}
}

func TestEngine_NonStreamingRunsToolsInOrder(t *testing.T) {
	client := &fakeClient{responses: []*ChatResponse{
		toolRequest(
			ToolCall{ID: "c1", Name: "first", Arguments: json.RawMessage(`{}`)},
			ToolCall{ID: "c2", Name: "second", Arguments: json.RawMessage(`{}`)},
		),
		finalAnswer("all done"),
	}}
	tools := &fakeTools{defs: []ToolDefinition{{Name: "first"}, {Name: "second"}}}
	renderer := &recordingRenderer{}
	engine := NewEngine(client, tools, renderer)
	states := recordTransitions(engine)

	res, err := engine.Run(context.Background(), []Message{UserText("go")}, RunOptions{ToolsEnabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ToolRounds != 1 {
		t.Errorf("tool rounds = %d, want 1", res.ToolRounds)
	}
	if !reflect.DeepEqual(renderer.started, []string{"first", "second"}) {
		t.Errorf("started = %v", renderer.started)
	}

	// user, assistant(tool_calls), tool c1, tool c2, assistant
	if len(res.Messages) != 5 {
		t.Fatalf("messages = %+v", res.Messages)
	}
	if res.Messages[2].ToolCallID != "c1" || res.Messages[3].ToolCallID != "c2" {
		t.Errorf("tool results out of order: %+v", res.Messages[2:4])
	}
	if res.Messages[2].Content != "ok:first" {
		t.Errorf("tool content = %q", res.Messages[2].Content)
	}
	if renderer.content.String() != "all done" {
		t.Errorf("final content = %q", renderer.content.String())
	}

	second := client.completeCalls[1]
	if len(second.Messages) != 4 || len(second.Tools) != 2 {
		t.Errorf("second request: %d messages, %d tools", len(second.Messages), len(second.Tools))
	}

	want := []State{
		StateModeSelect, StateNonStreaming, StateToolCallsPending,
		StateExecuting, StateNonStreaming, StateDone,
	}
	if !reflect.DeepEqual(*states, want) {
		t.Errorf("transitions = %v, want %v", *states, want)
	}
	if res.Usage.InputTokens != 2 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestEngine_ToolErrorsGoBackToModel(t *testing.T) {
	client := &fakeClient{responses: []*ChatResponse{
		toolRequest(ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"../x"}`)}),
		finalAnswer("cannot read that"),
	}}
	tools := &fakeTools{
		defs: []ToolDefinition{{Name: "read_file"}},
		run: func(call ToolCall) ToolResult {
			return ToolResult{Err: NewError(KindPathTraversal, "path escapes base directory")}
		},
	}
	renderer := &recordingRenderer{}
	res, err := NewEngine(client, tools, renderer).Run(context.Background(), []Message{UserText("read")}, RunOptions{ToolsEnabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	toolMsg := res.Messages[2]
	if !strings.HasPrefix(toolMsg.Content, "Error: PathTraversalRejected") {
		t.Errorf("tool message = %q", toolMsg.Content)
	}
	if !errors.Is(renderer.results[0].Err, ErrValidation) {
		t.Errorf("path traversal should be a validation error: %v", renderer.results[0].Err)
	}
}

func TestEngine_LoopLimitExceeded(t *testing.T) {
	client := &fakeClient{responses: []*ChatResponse{
		toolRequest(ToolCall{ID: "again", Name: "again", Arguments: json.RawMessage(`{}`)}),
	}}
	tools := &fakeTools{defs: []ToolDefinition{{Name: "again"}}}
	renderer := &recordingRenderer{}

	res, err := NewEngine(client, tools, renderer).Run(context.Background(),
		[]Message{UserText("loop")}, RunOptions{ToolsEnabled: true, MaxToolRounds: 3})
	if !errors.Is(err, ErrLoopLimitExceeded) {
		t.Fatalf("err = %v, want loop limit", err)
	}
	if res.State != StateFailed {
		t.Errorf("state = %s", res.State)
	}
	if len(tools.ran) != 3 {
		t.Errorf("tool ran %d times, want 3", len(tools.ran))
	}
	if len(client.completeCalls) != 4 {
		t.Errorf("complete called %d times, want 4", len(client.completeCalls))
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Role != RoleTool {
		t.Errorf("history should not end with an unanswered tool request: %+v", last)
	}
	if renderer.aborted == nil {
		t.Error("renderer was not told about the failure")
	}
}

func TestEngine_ToolCallsFinishWithoutCallsIsFinal(t *testing.T) {
	client := &fakeClient{responses: []*ChatResponse{{
		Message:      AssistantText("the answer", ""),
		FinishReason: "tool_calls",
	}}}
	tools := &fakeTools{defs: []ToolDefinition{{Name: "again"}}}
	renderer := &recordingRenderer{}
	engine := NewEngine(client, tools, renderer)
	states := recordTransitions(engine)

	res, err := engine.Run(context.Background(),
		[]Message{UserText("q")}, RunOptions{ToolsEnabled: true, MaxToolRounds: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateDone || res.ToolRounds != 0 {
		t.Errorf("state = %s, rounds = %d", res.State, res.ToolRounds)
	}
	if len(client.completeCalls) != 1 {
		t.Errorf("complete called %d times, want 1", len(client.completeCalls))
	}
	if got := renderer.content.String(); got != "the answer" {
		t.Errorf("content = %q, want a single render", got)
	}
	if renderer.finished != 1 || len(tools.ran) != 0 {
		t.Errorf("finished = %d, tools ran = %d", renderer.finished, len(tools.ran))
	}
	if len(res.Messages) != 2 || res.Messages[1].Content != "the answer" {
		t.Errorf("messages = %+v", res.Messages)
	}
	want := []State{StateModeSelect, StateNonStreaming, StateDone}
	if !reflect.DeepEqual(*states, want) {
		t.Errorf("transitions = %v, want %v", *states, want)
	}
}

func TestEngine_DefaultLoopLimit(t *testing.T) {
	client := &fakeClient{responses: []*ChatResponse{
		toolRequest(ToolCall{ID: "x", Name: "again", Arguments: json.RawMessage(`{}`)}),
	}}
	tools := &fakeTools{defs: []ToolDefinition{{Name: "again"}}}
	_, err := NewEngine(client, tools, &recordingRenderer{}).Run(context.Background(),
		[]Message{UserText("loop")}, RunOptions{ToolsEnabled: true})
	if !errors.Is(err, ErrLoopLimitExceeded) {
		t.Fatalf("err = %v", err)
	}
	if len(tools.ran) != defaultMaxToolRounds {
		t.Errorf("tool ran %d times, want %d", len(tools.ran), defaultMaxToolRounds)
	}
}

func TestEngine_ToolsDisabledStreams(t *testing.T) {
	client := &fakeClient{streams: []string{sseData(contentPayload("plain"))}}
	tools := &fakeTools{defs: []ToolDefinition{{Name: "x"}}}
	res, err := NewEngine(client, tools, &recordingRenderer{}).Run(context.Background(),
		[]Message{UserText("q")}, RunOptions{ToolsEnabled: false})
	if err != nil || res.State != StateDone {
		t.Fatalf("state=%v err=%v", res.State, err)
	}
	if len(client.completeCalls) != 0 || len(client.streamCalls) != 1 {
		t.Errorf("tools disabled should stream")
	}
}

func TestEngine_StreamedToolCallsAreExecuted(t *testing.T) {
	frag := func(index int, id, name, args string) string {
		fn := map[string]any{"arguments": args}
		if name != "" {
			fn["name"] = name
		}
		tc := map[string]any{"index": index, "function": fn}
		if id != "" {
			tc["id"] = id
		}
		data, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]any{"tool_calls": []any{tc}}}},
		})
		return string(data)
	}
	client := &fakeClient{
		streams: []string{sseData(
			frag(0, "s1", "lookup", `{"q":`),
			frag(0, "", "", `"go"}`),
			"[DONE]",
		)},
		responses: []*ChatResponse{finalAnswer("found it")},
	}
	tools := &fakeTools{}
	renderer := &recordingRenderer{}
	engine := NewEngine(client, tools, renderer)
	states := recordTransitions(engine)

	res, err := engine.Run(context.Background(), []Message{UserText("find")}, RunOptions{ToolsEnabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools.ran) != 1 || string(tools.ran[0].Arguments) != `{"q":"go"}` {
		t.Fatalf("ran = %+v", tools.ran)
	}
	want := []State{
		StateModeSelect, StateStreaming, StateToolCallsPending,
		StateExecuting, StateNonStreaming, StateDone,
	}
	if !reflect.DeepEqual(*states, want) {
		t.Errorf("transitions = %v, want %v", *states, want)
	}
	if res.Messages[1].ToolCalls[0].ID != "s1" || res.Messages[2].ToolCallID != "s1" {
		t.Errorf("history = %+v", res.Messages)
	}
}

func TestEngine_UnknownToolWithoutRunner(t *testing.T) {
	client := &fakeClient{
		streams:   []string{sseData(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"z","function":{"name":"ghost","arguments":"{}"}}]}}]}`)},
		responses: []*ChatResponse{finalAnswer("ok")},
	}
	renderer := &recordingRenderer{}
	res, err := NewEngine(client, nil, renderer).Run(context.Background(), []Message{UserText("q")}, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(renderer.results[0].Err, ErrValidation) {
		t.Errorf("err = %v", renderer.results[0].Err)
	}
	if !strings.Contains(res.Messages[2].Content, "tool not registered: ghost") {
		t.Errorf("tool message = %q", res.Messages[2].Content)
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{streams: []string{sseData(contentPayload("never"))}}
	res, err := NewEngine(client, nil, &recordingRenderer{}).Run(ctx, []Message{UserText("q")}, RunOptions{})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("state = %s", res.State)
	}
}

func TestExtractToolInfo(t *testing.T) {
	tests := []struct {
		args string
		want string
	}{
		{"", ""},
		{"{}", ""},
		{`{"path":"notes.txt"}`, `({"path":"notes.txt"})`},
		{`{"q":"` + strings.Repeat("x", 100) + `"}`, "(" + (`{"q":"` + strings.Repeat("x", 100))[:77] + "...)"},
		{`{"q":"` + strings.Repeat("é", 100) + `"}`, `({"q":"` + strings.Repeat("é", 71) + "...)"},
	}
	for _, tt := range tests {
		got := ExtractToolInfo(ToolCall{Arguments: json.RawMessage(tt.args)})
		if got != tt.want {
			t.Errorf("ExtractToolInfo(%q) = %q, want %q", tt.args, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("ExtractToolInfo(%q) split a rune: %q", tt.args, got)
		}
	}
}
