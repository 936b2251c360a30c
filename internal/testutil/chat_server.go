package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ChatReply is one scripted answer of ChatServer.
type ChatReply struct {
	Status int      // defaults to 200
	Body   string   // full body for non-streaming replies
	Chunks []string // written and flushed one by one for streaming replies
}

// ChatInvocation records a single request received by ChatServer.
type ChatInvocation struct {
	Header http.Header
	Body   map[string]any
	Raw    []byte
}

// ChatServer is a scripted OpenAI-compatible chat/completions endpoint.
// Replies are served in order; the last reply repeats once the script runs out.
type ChatServer struct {
	*httptest.Server

	mu          sync.Mutex
	replies     []ChatReply
	Invocations []ChatInvocation
}

// NewChatServer starts a server that is closed when the test ends.
func NewChatServer(t *testing.T, replies ...ChatReply) *ChatServer {
	t.Helper()
	s := &ChatServer{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns the chat/completions URL of the server.
func (s *ChatServer) Endpoint() string {
	return s.URL + "/v1/chat/completions"
}

// Calls returns a copy of the recorded invocations.
func (s *ChatServer) Calls() []ChatInvocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatInvocation(nil), s.Invocations...)
}

func (s *ChatServer) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	idx := len(s.Invocations)
	s.Invocations = append(s.Invocations, ChatInvocation{Header: r.Header.Clone(), Body: body, Raw: raw})
	var reply ChatReply
	switch {
	case len(s.replies) == 0:
		reply = ChatReply{Status: http.StatusInternalServerError, Body: `{"error":{"message":"no scripted reply"}}`}
	case idx < len(s.replies):
		reply = s.replies[idx]
	default:
		reply = s.replies[len(s.replies)-1]
	}
	s.mu.Unlock()

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if reply.Chunks != nil {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		flusher, _ := w.(http.Flusher)
		for _, chunk := range reply.Chunks {
			_, _ = io.WriteString(w, chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply.Body)
}

// SSE formats payloads as blank-line terminated data records.
func SSE(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	return b.String()
}

// ContentChunk is a streamed delta payload carrying content text.
func ContentChunk(text string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": text}}},
	})
	return string(data)
}

// ToolCallChunk is a streamed delta payload carrying one tool-call fragment.
func ToolCallChunk(index int, id, name, args string) string {
	fn := map[string]any{}
	if name != "" {
		fn["name"] = name
	}
	if args != "" {
		fn["arguments"] = args
	}
	tc := map[string]any{"index": index, "function": fn}
	if id != "" {
		tc["id"] = id
		tc["type"] = "function"
	}
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"tool_calls": []any{tc}}}},
	})
	return string(data)
}

// ToolCall describes one call in a scripted non-streaming response.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// CompletionJSON builds a non-streaming response. With calls present the
// finish reason is "tool_calls", otherwise "stop".
func CompletionJSON(content string, calls ...ToolCall) string {
	msg := map[string]any{"role": "assistant", "content": content}
	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
		var tcs []any
		for _, c := range calls {
			tcs = append(tcs, map[string]any{
				"id":       c.ID,
				"type":     "function",
				"function": map[string]any{"name": c.Name, "arguments": c.Args},
			})
		}
		msg["tool_calls"] = tcs
	}
	data, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"choices": []any{map[string]any{"index": 0, "message": msg, "finish_reason": finish}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(data)
}
