package llm

import (
	"context"
	"encoding/json"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation history. Order is causal.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name, only on tool messages
}

// ToolCall is a complete, model-issued request to run a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallDelta is one fragment of a tool call seen in a streamed response.
// Arguments must be concatenated across fragments before they parse.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ToolResult is the outcome of exactly one tool execution.
type ToolResult struct {
	ID        string
	Name      string
	Output    string
	Truncated bool
	Err       *Error
}

// ToolDefinition is everything the remote model is told about a tool.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolRunner executes tool calls on behalf of the engine.
type ToolRunner interface {
	Definitions() []ToolDefinition
	Run(ctx context.Context, call ToolCall) ToolResult
}

// Usage reports token accounting when the endpoint provides it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Citation is a url_citation annotation attached to the answer.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// EventType discriminates StreamEvent.
type EventType string

const (
	EventContentDelta   EventType = "content_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCallDelta  EventType = "tool_call_delta"
	EventUsage          EventType = "usage"
	EventCitations      EventType = "citations"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// StreamEvent is a single decoded delta. Events are transient: consumers
// handle each one and drop it.
type StreamEvent struct {
	Type         EventType
	Text         string
	ToolCall     *ToolCallDelta
	Usage        *Usage
	Citations    []Citation
	FinishReason string
	Err          *Error
}

// Renderer receives everything the engine wants shown to the user.
type Renderer interface {
	Content(text string)
	Reasoning(text string)
	Citations(citations []Citation)
	ToolStart(call ToolCall)
	ToolResult(call ToolCall, result ToolResult)
	// Finish flushes buffered output at the end of a successful response.
	Finish()
	// Abort flushes buffered output and explains why the response is incomplete.
	Abort(err error)
}

// SystemText creates a system message.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserText creates a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantText creates an assistant message with optional reasoning.
func AssistantText(text, reasoning string) Message {
	return Message{Role: RoleAssistant, Content: text, Reasoning: reasoning}
}

// ToolResultMessage converts a tool result into the history entry sent back
// to the model. Errors become content so the model can react to them.
func ToolResultMessage(result ToolResult) Message {
	content := result.Output
	if result.Err != nil {
		content = "Error: " + result.Err.Error()
		if result.Output != "" {
			content += "\n\n" + result.Output
		}
	}
	if result.Truncated {
		content += "\n\n[Output truncated due to size limit]"
	}
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: result.ID,
		Name:       result.Name,
	}
}
