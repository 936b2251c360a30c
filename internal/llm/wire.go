package llm

import "encoding/json"

// OpenAI-compatible chat/completions structures.
// Tool choice can be string ("none"/"auto") or object.
type oaiChatRequest struct {
	Model      string        `json:"model"`
	Messages   []oaiMessage  `json:"messages"`
	Tools      []oaiTool     `json:"tools,omitempty"`
	ToolChoice interface{}   `json:"tool_choice,omitempty"`
	Stream     bool          `json:"stream,omitempty"`
	Reasoning  *oaiReasoning `json:"reasoning,omitempty"`
	Plugins    []oaiPlugin   `json:"plugins,omitempty"`
}

// oaiReasoning follows the OpenRouter unified reasoning parameter.
type oaiReasoning struct {
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Exclude   bool   `json:"exclude,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

type oaiPlugin struct {
	ID string `json:"id"`
}

type oaiMessage struct {
	Role             string          `json:"role,omitempty"`
	Content          *string         `json:"content,omitempty"`
	Reasoning        *string         `json:"reasoning,omitempty"`
	ReasoningContent *string         `json:"reasoning_content,omitempty"`
	ToolCalls        []oaiToolCall   `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	Name             string          `json:"name,omitempty"`
	Annotations      []oaiAnnotation `json:"annotations,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaiToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function *struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type oaiAnnotation struct {
	Type        string `json:"type"`
	URLCitation *struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
	} `json:"url_citation,omitempty"`
}

type oaiChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []oaiChoice  `json:"choices"`
	Usage   *oaiUsage    `json:"usage,omitempty"`
	Error   *oaiAPIError `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Message      *oaiMessage `json:"message,omitempty"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiAPIError struct {
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
	Message string `json:"message"`
}

func strPtr(s string) *string {
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// reasoningText prefers "reasoning" and falls back to "reasoning_content".
func (m *oaiMessage) reasoningText() string {
	if m == nil {
		return ""
	}
	if r := derefString(m.Reasoning); r != "" {
		return r
	}
	return derefString(m.ReasoningContent)
}

func (m *oaiMessage) citations() []Citation {
	if m == nil {
		return nil
	}
	var out []Citation
	for _, a := range m.Annotations {
		if a.Type != "url_citation" || a.URLCitation == nil || a.URLCitation.URL == "" {
			continue
		}
		out = append(out, Citation{URL: a.URLCitation.URL, Title: a.URLCitation.Title})
	}
	return out
}
