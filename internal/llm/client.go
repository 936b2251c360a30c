package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// httpClientTimeout is the default timeout for HTTP requests
const httpClientTimeout = 10 * time.Minute

// defaultStreamIdleTimeout bounds the silence between two reads of a stream.
const defaultStreamIdleTimeout = 30 * time.Second

// defaultHTTPClient is a shared HTTP client with reasonable timeouts
var defaultHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// ChatRequest is one request to the chat-completion endpoint.
type ChatRequest struct {
	Messages  []Message
	Tools     []ToolDefinition
	WebSearch bool
}

// ChatResponse is a complete, non-streamed answer (choice 0).
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        *Usage
	Citations    []Citation
}

// WantsTools reports whether the model asked for tool execution. A
// "tool_calls" finish reason without any calls is a final answer.
func (r *ChatResponse) WantsTools() bool {
	return len(r.Message.ToolCalls) > 0
}

// ChatClient is the transport the engine talks to.
type ChatClient interface {
	// Stream returns the raw server-sent event body.
	Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ReasoningOptions configures the reasoning parameter for thinking models.
type ReasoningOptions struct {
	Enabled   *bool
	Effort    string // "high", "medium" or "low"
	MaxTokens int
	Exclude   bool
}

func (o ReasoningOptions) isSet() bool {
	return o.Enabled != nil || o.Effort != "" || o.MaxTokens > 0 || o.Exclude
}

// ClientConfig configures Client.
type ClientConfig struct {
	Endpoint          string // full chat/completions URL
	APIKey            string
	Model             string
	Headers           map[string]string
	StreamIdleTimeout time.Duration
	Reasoning         ReasoningOptions
	HTTPClient        *http.Client
}

// Client speaks the OpenAI-compatible chat/completions protocol.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a client. Missing timeouts and http clients get defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.StreamIdleTimeout <= 0 {
		cfg.StreamIdleTimeout = defaultStreamIdleTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Stream issues a streaming request and returns the body guarded by an
// idle watchdog. Closing the body cancels the request.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	body, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	watch := newIdleWatch(c.cfg.StreamIdleTimeout, cancel)

	resp, err := c.do(reqCtx, body, true)
	if err != nil {
		watch.stop()
		cancel()
		if watch.fired.Load() {
			return nil, watch.err()
		}
		return nil, err
	}
	return &idleTimeoutBody{body: resp.Body, watch: watch, cancel: cancel}, nil
}

// Complete issues a non-streaming request and parses the single response.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithCancel(ctx)
	watch := newIdleWatch(c.cfg.StreamIdleTimeout, cancel)

	resp, err := c.do(reqCtx, body, false)
	if err != nil {
		watch.stop()
		cancel()
		if watch.fired.Load() {
			return nil, watch.err()
		}
		return nil, err
	}
	respBody := &idleTimeoutBody{body: resp.Body, watch: watch, cancel: cancel}
	defer respBody.Close()

	data, err := io.ReadAll(respBody)
	if err != nil {
		var llmErr *Error
		if errors.As(err, &llmErr) {
			return nil, llmErr
		}
		return nil, WrapError(KindTransport, "failed to read response", err)
	}
	return parseChatResponse(data)
}

func (c *Client) buildRequest(req ChatRequest, stream bool) ([]byte, error) {
	messages := buildMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	tools, err := buildTools(req.Tools)
	if err != nil {
		return nil, err
	}
	chatReq := oaiChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Tools:    tools,
		Stream:   stream,
	}
	if len(tools) > 0 {
		chatReq.ToolChoice = "auto"
	}
	if r := c.cfg.Reasoning; r.isSet() {
		chatReq.Reasoning = &oaiReasoning{
			Effort:    r.Effort,
			MaxTokens: r.MaxTokens,
			Exclude:   r.Exclude,
			Enabled:   r.Enabled,
		}
		// effort and max_tokens are mutually exclusive; max_tokens wins.
		if r.MaxTokens > 0 {
			chatReq.Reasoning.Effort = ""
		}
	}
	if req.WebSearch {
		chatReq.Plugins = []oaiPlugin{{ID: "web"}}
	}

	slog.Debug("chat request",
		"endpoint", c.cfg.Endpoint,
		"model", c.cfg.Model,
		"messages", len(messages),
		"tools", len(tools),
		"stream", stream)

	return json.Marshal(chatReq)
}

func (c *Client) do(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(KindTransport, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for key, value := range c.cfg.Headers {
		if value == "" {
			continue
		}
		httpReq.Header.Set(key, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, WrapError(KindTransport, "API request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, NewErrorf(KindTransport, "API error (status %d): %s", resp.StatusCode, apiErrorMessage(data))
	}
	return resp, nil
}

// apiErrorMessage extracts error.message from a JSON error body, falling
// back to the raw text.
func apiErrorMessage(data []byte) string {
	var parsed struct {
		Error *oaiAPIError `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func parseChatResponse(data []byte) (*ChatResponse, error) {
	var resp oaiChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, WrapError(KindDecode, "failed to parse response", err)
	}
	if resp.Error != nil {
		return nil, NewErrorf(KindTransport, "API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, NewError(KindTransport, "response contained no choices")
	}
	choice := resp.Choices[0]
	msg := choice.Message
	out := &ChatResponse{
		Message: Message{
			Role:      RoleAssistant,
			Content:   derefString(msg.Content),
			Reasoning: msg.reasoningText(),
		},
		FinishReason: derefString(choice.FinishReason),
		Citations:    msg.citations(),
	}
	for _, tc := range msg.ToolCalls {
		call := ToolCall{ID: tc.ID}
		if tc.Function != nil {
			call.Name = tc.Function.Name
			call.Arguments = json.RawMessage(tc.Function.Arguments)
		}
		out.Message.ToolCalls = append(out.Message.ToolCalls, call)
	}
	if resp.Usage != nil {
		out.Usage = &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

func buildMessages(messages []Message) []oaiMessage {
	result := make([]oaiMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser:
			if msg.Content == "" {
				continue
			}
			result = append(result, oaiMessage{Role: string(msg.Role), Content: strPtr(msg.Content)})
		case RoleAssistant:
			out := oaiMessage{Role: "assistant"}
			if msg.Content != "" || len(msg.ToolCalls) == 0 {
				out.Content = strPtr(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				tc := oaiToolCall{ID: call.ID, Type: "function"}
				tc.Function = &struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				}{Name: call.Name, Arguments: string(call.Arguments)}
				out.ToolCalls = append(out.ToolCalls, tc)
			}
			result = append(result, out)
		case RoleTool:
			result = append(result, oaiMessage{
				Role:       "tool",
				Content:    strPtr(msg.Content),
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return result
}

func buildTools(defs []ToolDefinition) ([]oaiTool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]oaiTool, 0, len(defs))
	for _, def := range defs {
		schema, err := json.Marshal(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", def.Name, err)
		}
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

// idleWatch cancels a request when no bytes arrive for the configured time.
type idleWatch struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleWatch(timeout time.Duration, cancel context.CancelFunc) *idleWatch {
	w := &idleWatch{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		cancel()
	})
	return w
}

func (w *idleWatch) touch() {
	w.timer.Reset(w.timeout)
}

func (w *idleWatch) stop() {
	w.timer.Stop()
}

func (w *idleWatch) err() *Error {
	return NewErrorf(KindTransport, "stream idle timeout after %s", w.timeout)
}

type idleTimeoutBody struct {
	body   io.ReadCloser
	watch  *idleWatch
	cancel context.CancelFunc
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if b.watch.fired.Load() {
		return n, b.watch.err()
	}
	if n > 0 {
		b.watch.touch()
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.watch.stop()
	b.cancel()
	return b.body.Close()
}
