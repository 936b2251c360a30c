package llm

import (
	"errors"
	"io"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

const sampleStream = ": keep-alive comment\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"reasoning\":\"thinking about \\\"quotes\\\"\"}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hello, \"}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"wörld ✓\",\"unknown_field\":42}}]}\n\n" +
	"data: {not json}\n\n" +
	"id: 7\r\ndata: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"read_file\",\"arguments\":\"{\\\"pa\"}}]}}]}\r\n\r\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"th\\\":\\\"a.txt\\\"}\"}}]}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":null},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":4}}\n\n" +
	"data: [DONE]\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"after done\"}}]}\n\n"

// decodeChunks runs the pure decoder over the given chunks.
func decodeChunks(chunks ...string) []StreamEvent {
	var st SSEState
	var all []StreamEvent
	for _, c := range chunks {
		var evs []StreamEvent
		st, evs = DecodeSSE(st, []byte(c))
		all = append(all, evs...)
	}
	return append(all, FinishSSE(st)...)
}

func assertSameEvents(t *testing.T, label string, got, want []StreamEvent) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("%s: events differ\n got: %+v\nwant: %+v", label, got, want)
	}
}

func TestDecodeSSE_WholeStream(t *testing.T) {
	events := decodeChunks(sampleStream)

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []EventType{
		EventReasoningDelta,
		EventContentDelta,
		EventContentDelta,
		EventError,
		EventToolCallDelta,
		EventToolCallDelta,
		EventContentDelta,
		EventUsage,
		EventDone,
	}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("types = %v, want %v", types, want)
	}

	if events[0].Text != `thinking about "quotes"` {
		t.Errorf("reasoning = %q", events[0].Text)
	}
	if got := events[1].Text + events[2].Text; got != "Hello, wörld ✓" {
		t.Errorf("content = %q", got)
	}
	if !errors.Is(events[3].Err, ErrDecode) {
		t.Errorf("malformed record error = %v, want DecodeError", events[3].Err)
	}
	if events[6].Text != "" {
		t.Errorf("empty delta should give empty content, got %q", events[6].Text)
	}
	if events[7].FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", events[7].FinishReason)
	}
	if events[7].Usage == nil || events[7].Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", events[7].Usage)
	}

	asm := NewToolCallAssembler()
	for _, ev := range events {
		if ev.Type == EventToolCallDelta {
			asm.Add(*ev.ToolCall)
		}
	}
	calls := asm.Calls()
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "read_file" {
		t.Fatalf("calls = %+v", calls)
	}
	if string(calls[0].Arguments) != `{"path":"a.txt"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestDecodeSSE_TwoWaySplitsMatchWhole(t *testing.T) {
	want := decodeChunks(sampleStream)
	for i := 0; i <= len(sampleStream); i++ {
		got := decodeChunks(sampleStream[:i], sampleStream[i:])
		assertSameEvents(t, "split at "+strconv.Itoa(i), got, want)
	}
}

func TestDecodeSSE_ThreeWaySplitsMatchWhole(t *testing.T) {
	want := decodeChunks(sampleStream)
	for i := 0; i <= len(sampleStream); i += 5 {
		for j := i; j <= len(sampleStream); j += 3 {
			got := decodeChunks(sampleStream[:i], sampleStream[i:j], sampleStream[j:])
			assertSameEvents(t, "split at "+strconv.Itoa(i)+","+strconv.Itoa(j), got, want)
		}
	}
}

func TestDecodeSSE_ByteAtATime(t *testing.T) {
	want := decodeChunks(sampleStream)
	chunks := make([]string, 0, len(sampleStream))
	for i := 0; i < len(sampleStream); i++ {
		chunks = append(chunks, sampleStream[i:i+1])
	}
	assertSameEvents(t, "byte at a time", decodeChunks(chunks...), want)
}

func TestDecodeSSE_RandomSplits(t *testing.T) {
	want := decodeChunks(sampleStream)
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		var chunks []string
		rest := sampleStream
		for len(rest) > 0 {
			n := 1 + rng.Intn(40)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		assertSameEvents(t, "random trial "+strconv.Itoa(trial), decodeChunks(chunks...), want)
	}
}

func TestDecodeSSE_EndOfInputIsDone(t *testing.T) {
	events := decodeChunks("data: " + `{"choices":[{"delta":{"content":"4"}}]}`)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != EventContentDelta || events[0].Text != "4" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Type != EventDone {
		t.Errorf("last event = %+v, want done", events[1])
	}
}

func TestDecodeSSE_ErrorPayload(t *testing.T) {
	events := decodeChunks("event: error\ndata: {\"error\":{\"message\":\"rate limited\"}}\n\n")
	if len(events) != 2 || events[0].Type != EventError {
		t.Fatalf("events = %+v", events)
	}
	if !errors.Is(events[0].Err, ErrTransport) {
		t.Errorf("kind = %s, want transport", events[0].Err.Kind)
	}
	if !strings.Contains(events[0].Err.Error(), "rate limited") {
		t.Errorf("message = %q", events[0].Err.Error())
	}
}

func TestDecodeSSE_MultiLineData(t *testing.T) {
	events := decodeChunks("data: {\"choices\":[{\"delta\":\ndata: {\"content\":\"x\"}}]}\n\n")
	if events[0].Type != EventContentDelta || events[0].Text != "x" {
		t.Fatalf("events = %+v", events)
	}
}

func TestDecodeSSE_ZeroLengthChunk(t *testing.T) {
	st, evs := DecodeSSE(SSEState{Pending: []byte("data: ")}, nil)
	if len(evs) != 0 || string(st.Pending) != "data: " {
		t.Fatalf("zero-length chunk changed state: %+v %+v", st, evs)
	}
}

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, dec *Decoder) ([]StreamEvent, error) {
	t.Helper()
	var events []StreamEvent
	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
		events = append(events, ev)
	}
}

func TestDecoder_MatchesPureDecoder(t *testing.T) {
	want := decodeChunks(sampleStream)
	r := &chunkReader{chunks: []string{sampleStream[:13], sampleStream[13:250], sampleStream[250:]}}
	got, err := collect(t, NewDecoder(r))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSameEvents(t, "decoder", got, want)
}

func TestDecoder_ReadFailureIsTransportError(t *testing.T) {
	r := &chunkReader{
		chunks: []string{"data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n"},
		err:    errors.New("connection reset"),
	}
	events, err := collect(t, NewDecoder(r))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if len(events) != 2 || events[0].Text != "par" || events[1].Type != EventError {
		t.Fatalf("events = %+v", events)
	}
}
