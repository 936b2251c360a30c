package ui

import (
	"math/rand"
	"strings"
	"testing"
)

const sampleMarkdown = "Intro with ``inline`` ticks\n" +
	"```go\n" +
	"package main\n" +
	"\n" +
	"func main() {\n" +
	"\tprintln(\"hi\")\n" +
	"}\n" +
	"```\n" +
	"between\r\n" +
	"  ~~~~ python extra\n" +
	"print('x')\n" +
	"~~~ not a close\n" +
	"```\n" +
	"  ~~~~~  \n" +
	"    ```not a fence because indented\n" +
	"````\n" +
	"nested ``` inside\n" +
	"`````\n" +
	"tail without newline"

func feedAll(h *Highlighter, deltas ...string) string {
	var st CodeBufferState
	var b strings.Builder
	for _, d := range deltas {
		var out string
		st, out = h.Feed(st, d)
		b.WriteString(out)
	}
	_, out := h.Finish(st)
	b.WriteString(out)
	return b.String()
}

func testHighlighter(color bool) *Highlighter {
	return NewHighlighter(HighlighterOptions{Color: color, Width: 24, CodeStyle: "monokai"})
}

func TestHighlighter_WholeInput(t *testing.T) {
	h := testHighlighter(false)
	got := feedAll(h, "text\n```go\nx := 1\n```\nafter\n")
	want := "text\n" + h.Header("go") + "x := 1\n" + h.Footer() + "after\n"
	if got != want {
		t.Fatalf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestHighlighter_SplitInvariance(t *testing.T) {
	for _, color := range []bool{false, true} {
		h := testHighlighter(color)
		want := StripANSI(feedAll(h, sampleMarkdown))

		for i := 0; i <= len(sampleMarkdown); i++ {
			got := StripANSI(feedAll(h, sampleMarkdown[:i], sampleMarkdown[i:]))
			if got != want {
				t.Fatalf("color=%v split at %d:\n got %q\nwant %q", color, i, got, want)
			}
		}

		rng := rand.New(rand.NewSource(7))
		for trial := 0; trial < 100; trial++ {
			var deltas []string
			rest := sampleMarkdown
			for len(rest) > 0 {
				n := 1 + rng.Intn(9)
				if n > len(rest) {
					n = len(rest)
				}
				deltas = append(deltas, rest[:n])
				rest = rest[n:]
			}
			if got := StripANSI(feedAll(h, deltas...)); got != want {
				t.Fatalf("color=%v trial %d:\n got %q\nwant %q", color, trial, got, want)
			}
		}
	}
}

func TestHighlighter_ColorAndPlainAgree(t *testing.T) {
	plain := feedAll(testHighlighter(false), sampleMarkdown)
	colored := feedAll(testHighlighter(true), sampleMarkdown)
	if StripANSI(colored) != plain {
		t.Fatalf("stripped colored output differs:\n%q\n%q", StripANSI(colored), plain)
	}
	if !strings.Contains(colored, "\x1b[") {
		t.Error("expected escape sequences in colored output")
	}
}

func TestHighlighter_FenceStructure(t *testing.T) {
	h := testHighlighter(false)
	out := feedAll(h, sampleMarkdown)

	if strings.Contains(out, "```go") {
		t.Error("opening fence should be replaced by a header")
	}
	for _, want := range []string{
		h.Header("go"),
		h.Header("python"),
		"~~~ not a close\n```\n",
		"    ```not a fence because indented\n",
		h.Header("code") + "nested ``` inside\n" + h.Footer(),
		"tail without newline",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, h.Footer()) != 3 {
		t.Errorf("expected 3 closed blocks:\n%s", out)
	}
}

func TestHighlighter_CodeIsHeldUntilClose(t *testing.T) {
	h := testHighlighter(false)
	st, out := h.Feed(CodeBufferState{}, "```go\nfmt.Println(1)\n")
	if out != h.Header("go") {
		t.Fatalf("out = %q", out)
	}
	if st.Mode != ModeFence || st.Lang != "go" || st.Accumulated != "fmt.Println(1)\n" {
		t.Fatalf("state = %+v", st)
	}
	st, out = h.Feed(st, "``")
	if out != "" || st.Pending != "``" {
		t.Fatalf("partial close: out=%q state=%+v", out, st)
	}
	st, out = h.Feed(st, "`\n")
	if out != "fmt.Println(1)\n"+h.Footer() {
		t.Fatalf("close out = %q", out)
	}
	if st != (CodeBufferState{}) {
		t.Errorf("state after close = %+v", st)
	}
}

func TestHighlighter_TextIsEmittedEagerly(t *testing.T) {
	h := testHighlighter(false)
	st, out := h.Feed(CodeBufferState{}, "hello wor")
	if out != "hello wor" || !st.LineDecided {
		t.Fatalf("out=%q state=%+v", out, st)
	}
	st, out = h.Feed(CodeBufferState{}, "  `")
	if out != "" || st.Pending != "  `" {
		t.Fatalf("possible fence should be held: out=%q state=%+v", out, st)
	}
	_, out = h.Feed(st, "x")
	if out != "  `x" {
		t.Errorf("out = %q", out)
	}
}

func TestHighlighter_FinishFlushesOpenBlock(t *testing.T) {
	h := testHighlighter(false)
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"partial line", "```py\nprint(1)", h.Header("py") + "print(1)\n" + h.Footer()},
		{"complete lines", "```py\na\nb\n", h.Header("py") + "a\nb\n" + h.Footer()},
		{"close without newline", "```py\na\n```", h.Header("py") + "a\n" + h.Footer()},
		{"empty block", "~~~\n", h.Header("code") + h.Footer()},
		{"held text", "``", "``"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := feedAll(h, tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHighlighter_LargeBlockFlushesEarly(t *testing.T) {
	h := NewHighlighter(HighlighterOptions{Width: 24, MaxBlockBytes: 16})
	st, out := h.Feed(CodeBufferState{}, "```\n")
	st, out2 := h.Feed(st, "0123456789\n0123456789\n")
	if !strings.Contains(out2, "0123456789\n0123456789\n") {
		t.Fatalf("block should flush early, got %q (header %q)", out2, out)
	}
	if st.Accumulated != "" || st.Mode != ModeFence {
		t.Errorf("state = %+v", st)
	}
	_, out3 := h.Feed(st, "```\n")
	if out3 != h.Footer() {
		t.Errorf("close = %q", out3)
	}
}

func TestHighlighter_LongLineIsNeverAFence(t *testing.T) {
	h := testHighlighter(false)
	long := "```" + strings.Repeat("a", maxFenceLineBytes) + "\n"
	if out := feedAll(h, long); out != long {
		t.Errorf("long line should pass through unchanged")
	}
}

func TestHighlighter_ZeroLengthDelta(t *testing.T) {
	h := testHighlighter(false)
	st := CodeBufferState{Mode: ModeFence, Accumulated: "x\n"}
	got, out := h.Feed(st, "")
	if out != "" || got != st {
		t.Errorf("zero-length delta changed state")
	}
}

func TestHighlighter_UnknownLanguageIsPlain(t *testing.T) {
	h := testHighlighter(true)
	out := feedAll(h, "```nosuchlang\nplain words\n```\n")
	if !strings.Contains(out, "plain words\n") {
		t.Errorf("unknown language code should be written as is: %q", out)
	}
}
