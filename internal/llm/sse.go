package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// sseDoneSentinel is the payload that ends a stream.
const sseDoneSentinel = "[DONE]"

// SSEState is the decoder's entire memory: the bytes after the last complete
// record and whether the end-of-stream sentinel has been seen.
type SSEState struct {
	Pending []byte
	Done    bool
}

// DecodeSSE consumes one chunk and returns every event from the records it
// completes. Chunks may split records anywhere; the result only depends on
// the concatenated bytes.
func DecodeSSE(st SSEState, chunk []byte) (SSEState, []StreamEvent) {
	if st.Done || len(chunk) == 0 {
		return st, nil
	}
	buf := make([]byte, 0, len(st.Pending)+len(chunk))
	buf = append(buf, st.Pending...)
	buf = append(buf, chunk...)

	var events []StreamEvent
	for {
		end, next := recordBoundary(buf)
		if end < 0 {
			break
		}
		record := buf[:end]
		buf = buf[next:]
		evs, done := parseRecord(record)
		events = append(events, evs...)
		if done {
			return SSEState{Done: true}, events
		}
	}
	st.Pending = buf
	return st, events
}

// FinishSSE handles end of input: a trailing unterminated record is parsed
// and Done is emitted if the sentinel never arrived.
func FinishSSE(st SSEState) []StreamEvent {
	if st.Done {
		return nil
	}
	var events []StreamEvent
	if len(bytes.TrimSpace(st.Pending)) > 0 {
		evs, done := parseRecord(st.Pending)
		events = append(events, evs...)
		if done {
			return events
		}
	}
	return append(events, StreamEvent{Type: EventDone})
}

// recordBoundary finds the first blank line. It returns the end of the record
// and the start of the remainder, or -1 when no complete record is buffered.
func recordBoundary(buf []byte) (int, int) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, -1
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, crlf + 4
	default:
		return lf, lf + 2
	}
}

// parseRecord turns one record into events. The bool reports the sentinel.
func parseRecord(record []byte) ([]StreamEvent, bool) {
	var (
		eventName string
		data      []string
		hasData   bool
	)
	for _, line := range strings.Split(string(record), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			eventName = value
		case "id", "retry":
			slog.Debug("sse field ignored", "field", field, "value", value)
		default:
			slog.Debug("sse unknown field", "field", field)
		}
	}
	if !hasData {
		return nil, false
	}

	payload := strings.Join(data, "\n")
	if strings.TrimSpace(payload) == sseDoneSentinel {
		return []StreamEvent{{Type: EventDone}}, true
	}

	var chunk oaiChatResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return []StreamEvent{{
			Type: EventError,
			Err:  WrapError(KindDecode, "malformed stream record", err),
		}}, false
	}

	if chunk.Error != nil || eventName == "error" {
		msg := "unknown error"
		if chunk.Error != nil && chunk.Error.Message != "" {
			msg = chunk.Error.Message
		}
		return []StreamEvent{{Type: EventError, Err: NewErrorf(KindTransport, "API error: %s", msg)}}, false
	}

	return chunkEvents(chunk), false
}

// chunkEvents maps one decoded payload to events in a fixed order:
// reasoning, content, tool-call fragments, usage, citations.
func chunkEvents(chunk oaiChatResponse) []StreamEvent {
	var events []StreamEvent
	var citations []Citation
	var finish string
	for _, choice := range chunk.Choices {
		if choice.FinishReason != nil {
			finish = *choice.FinishReason
		}
		delta := choice.Delta
		if delta == nil {
			delta = choice.Message
		}
		if delta == nil {
			continue
		}
		if r := delta.reasoningText(); r != "" {
			events = append(events, StreamEvent{Type: EventReasoningDelta, Text: r})
		}
		if c := derefString(delta.Content); c != "" {
			events = append(events, StreamEvent{Type: EventContentDelta, Text: c})
		}
		for i, tc := range delta.ToolCalls {
			d := &ToolCallDelta{Index: i, ID: tc.ID}
			if tc.Index != nil {
				d.Index = *tc.Index
			}
			if tc.Function != nil {
				d.Name = tc.Function.Name
				d.Arguments = tc.Function.Arguments
			}
			events = append(events, StreamEvent{Type: EventToolCallDelta, ToolCall: d})
		}
		citations = append(citations, delta.citations()...)
	}
	if chunk.Usage != nil {
		events = append(events, StreamEvent{Type: EventUsage, Usage: &Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}})
	}
	if len(citations) > 0 {
		events = append(events, StreamEvent{Type: EventCitations, Citations: citations})
	}
	if len(events) == 0 {
		events = append(events, StreamEvent{Type: EventContentDelta})
	}
	if finish != "" {
		events[len(events)-1].FinishReason = finish
	}
	return events
}

// readChunkSize bounds a single Read from the transport.
const readChunkSize = 4096

// Decoder lazily yields events from a byte stream. It is not restartable.
type Decoder struct {
	r       io.Reader
	st      SSEState
	queue   []StreamEvent
	buf     []byte
	eof     bool
	readErr error
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, buf: make([]byte, readChunkSize)}
}

// Next returns the next event. After Done it returns io.EOF. A read failure
// becomes a TransportError event once; further calls return the error.
func (d *Decoder) Next() (StreamEvent, error) {
	for len(d.queue) == 0 {
		if d.readErr != nil {
			return StreamEvent{}, d.readErr
		}
		if d.eof {
			return StreamEvent{}, io.EOF
		}
		n, err := d.r.Read(d.buf)
		if n > 0 {
			var evs []StreamEvent
			d.st, evs = DecodeSSE(d.st, d.buf[:n])
			d.queue = append(d.queue, evs...)
			if d.st.Done {
				d.eof = true
			}
		}
		if err != nil && !d.eof {
			if errors.Is(err, io.EOF) {
				d.queue = append(d.queue, FinishSSE(d.st)...)
				d.eof = true
				continue
			}
			typed := transportReadError(err)
			d.readErr = typed
			d.queue = append(d.queue, StreamEvent{Type: EventError, Err: typed})
		}
	}
	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, nil
}

func transportReadError(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.Canceled) {
		return WrapError(KindTransport, "stream cancelled", err)
	}
	return WrapError(KindTransport, "stream read failed", err)
}
