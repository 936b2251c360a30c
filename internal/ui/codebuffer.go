package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	// DefaultMaxBlockBytes bounds how much of an open code block is held
	// before complete lines are written early.
	DefaultMaxBlockBytes = 64 * 1024

	defaultFrameWidth = 60

	// maxFenceLineBytes is the longest line still considered a fence.
	maxFenceLineBytes = 1024
)

// BufferMode tells whether the highlighter is inside a fenced block.
type BufferMode int

const (
	ModeText BufferMode = iota
	ModeFence
)

// CodeBufferState is everything the highlighter remembers between deltas.
// The zero value is the initial text state.
type CodeBufferState struct {
	Mode        BufferMode
	Lang        string
	FenceChar   byte
	FenceLen    int
	FenceIndent int

	// Accumulated is code of the open block that has not been written yet.
	Accumulated string
	// Pending is the held start of the current line while it may still
	// turn out to be a fence.
	Pending string
	// LineDecided marks the current line as known not to be a fence.
	LineDecided bool
	// OpenLine is set while the block's code so far ends mid-line.
	OpenLine bool
}

// HighlighterOptions configures a Highlighter.
type HighlighterOptions struct {
	Color         bool
	Width         int    // frame width in cells
	MaxBlockBytes int    // 0 = DefaultMaxBlockBytes
	CodeStyle     string // chroma style name
	Frame         lipgloss.Style
}

// Highlighter turns a markdown delta stream into terminal output, coloring
// fenced code blocks once their closing fence arrives. Feed and Finish are
// pure: all progress lives in the CodeBufferState passed in and returned.
type Highlighter struct {
	color    bool
	width    int
	maxBlock int
	frame    lipgloss.Style
	code     *codeColorizer
}

// NewHighlighter creates a highlighter.
func NewHighlighter(opts HighlighterOptions) *Highlighter {
	h := &Highlighter{
		color:    opts.Color,
		width:    opts.Width,
		maxBlock: opts.MaxBlockBytes,
		frame:    opts.Frame,
	}
	if h.width <= 0 {
		h.width = defaultFrameWidth
	}
	if h.maxBlock <= 0 {
		h.maxBlock = DefaultMaxBlockBytes
	}
	if opts.Color {
		h.code = newCodeColorizer(opts.CodeStyle)
	}
	return h
}

// Feed consumes one delta and returns what can be written now.
func (h *Highlighter) Feed(st CodeBufferState, delta string) (CodeBufferState, string) {
	if delta == "" {
		return st, ""
	}
	var out strings.Builder
	for delta != "" {
		nl := strings.IndexByte(delta, '\n')
		if nl < 0 {
			st = h.partial(st, delta, &out)
			break
		}
		st = h.line(st, delta[:nl+1], &out)
		delta = delta[nl+1:]
	}
	return st, out.String()
}

// Finish flushes whatever is held: the look-behind in text mode, or the
// unterminated block (best-effort colored, then closed) in fence mode.
func (h *Highlighter) Finish(st CodeBufferState) (CodeBufferState, string) {
	if st.Mode == ModeText {
		return CodeBufferState{}, st.Pending
	}

	var out strings.Builder
	code := st.Accumulated
	if st.Pending != "" && !st.LineDecided && st.closesFence(trimCR(st.Pending)) {
		out.WriteString(h.colorize(st.Lang, code))
	} else {
		code += st.Pending
		out.WriteString(h.colorize(st.Lang, code))
		if st.OpenLine || st.Pending != "" {
			out.WriteString("\n")
		}
	}
	out.WriteString(h.Footer())
	return CodeBufferState{}, out.String()
}

// partial handles a fragment that does not end a line.
func (h *Highlighter) partial(st CodeBufferState, frag string, out *strings.Builder) CodeBufferState {
	if st.Mode == ModeText {
		if st.LineDecided {
			out.WriteString(frag)
			return st
		}
		p := st.Pending + frag
		if len(p) <= maxFenceLineBytes && couldOpenFence(p) {
			st.Pending = p
			return st
		}
		out.WriteString(p)
		st.Pending = ""
		st.LineDecided = true
		return st
	}

	if st.LineDecided {
		st.Accumulated += frag
	} else {
		p := st.Pending + frag
		if len(p) <= maxFenceLineBytes && st.couldCloseFence(p) {
			st.Pending = p
			return st
		}
		st.Accumulated += p
		st.Pending = ""
		st.LineDecided = true
	}
	st.OpenLine = true
	return h.flushLarge(st, out)
}

// line handles a fragment ending in '\n'.
func (h *Highlighter) line(st CodeBufferState, frag string, out *strings.Builder) CodeBufferState {
	full := st.Pending + frag
	decided := st.LineDecided
	st.Pending = ""
	st.LineDecided = false

	raw := full[:len(full)-1]
	candidate := !decided && len(raw) <= maxFenceLineBytes

	if st.Mode == ModeText {
		if decided {
			out.WriteString(frag)
			return st
		}
		if candidate {
			if f, ok := parseOpenFence(trimCR(raw)); ok {
				out.WriteString(h.Header(f.label()))
				return CodeBufferState{
					Mode:        ModeFence,
					Lang:        f.lang,
					FenceChar:   f.char,
					FenceLen:    f.length,
					FenceIndent: f.indent,
				}
			}
		}
		out.WriteString(full)
		return st
	}

	if candidate && st.closesFence(trimCR(raw)) {
		out.WriteString(h.colorize(st.Lang, st.Accumulated))
		out.WriteString(h.Footer())
		return CodeBufferState{}
	}
	if decided {
		st.Accumulated += frag
	} else {
		st.Accumulated += full
	}
	st.OpenLine = false
	return h.flushLarge(st, out)
}

// flushLarge writes the accumulated code early once it passes the limit.
func (h *Highlighter) flushLarge(st CodeBufferState, out *strings.Builder) CodeBufferState {
	if len(st.Accumulated) <= h.maxBlock {
		return st
	}
	out.WriteString(h.colorize(st.Lang, st.Accumulated))
	st.Accumulated = ""
	return st
}

func (h *Highlighter) colorize(lang, code string) string {
	if !h.color {
		return code
	}
	return h.code.Colorize(lang, code)
}

// Header renders the top edge of a box labeled label.
func (h *Highlighter) Header(label string) string {
	return h.paint(h.headerLine(label)) + "\n"
}

// Footer renders the bottom edge of a box.
func (h *Highlighter) Footer() string {
	return h.paint(h.footerLine()) + "\n"
}

func (h *Highlighter) headerLine(label string) string {
	s := "┌─[" + label + "]"
	fill := h.width - runewidth.StringWidth(s)
	if fill < 3 {
		fill = 3
	}
	return s + strings.Repeat("─", fill)
}

func (h *Highlighter) footerLine() string {
	return "└" + strings.Repeat("─", h.width-1)
}

func (h *Highlighter) paint(s string) string {
	if !h.color {
		return s
	}
	return h.frame.Render(s)
}

type fence struct {
	char   byte
	length int
	indent int
	lang   string
}

func (f fence) label() string {
	if f.lang == "" {
		return "code"
	}
	return f.lang
}

// parseOpenFence recognizes an opening fence: up to three spaces, a run of
// at least three backticks or tildes, then an optional info string whose
// first word is the language.
func parseOpenFence(line string) (fence, bool) {
	indent := leadingSpaces(line)
	if indent > 3 {
		return fence{}, false
	}
	rest := line[indent:]
	if rest == "" || (rest[0] != '`' && rest[0] != '~') {
		return fence{}, false
	}
	char := rest[0]
	n := runOf(rest, char)
	if n < 3 {
		return fence{}, false
	}
	info := strings.TrimSpace(rest[n:])
	if char == '`' && strings.ContainsRune(info, '`') {
		return fence{}, false
	}
	f := fence{char: char, length: n, indent: indent}
	if fields := strings.Fields(info); len(fields) > 0 {
		f.lang = fields[0]
	}
	return f, true
}

// couldOpenFence reports whether a partial line may still complete into an
// opening fence. Once three fence characters are seen the line is held
// until its end.
func couldOpenFence(p string) bool {
	indent := leadingSpaces(p)
	if indent > 3 {
		return false
	}
	rest := p[indent:]
	if rest == "" {
		return true
	}
	if rest[0] != '`' && rest[0] != '~' {
		return false
	}
	n := runOf(rest, rest[0])
	return n == len(rest) || n >= 3
}

func (st CodeBufferState) indentAllowed(indent int) bool {
	return indent <= 3 || indent <= st.FenceIndent+3
}

// closesFence reports whether line closes the open block: same character,
// a run at least as long as the opener and nothing but whitespace after it.
func (st CodeBufferState) closesFence(line string) bool {
	indent := leadingSpaces(line)
	if !st.indentAllowed(indent) {
		return false
	}
	rest := line[indent:]
	n := runOf(rest, st.FenceChar)
	if n == 0 || n < st.FenceLen {
		return false
	}
	return strings.Trim(rest[n:], " \t") == ""
}

// couldCloseFence is the prefix form of closesFence.
func (st CodeBufferState) couldCloseFence(p string) bool {
	indent := leadingSpaces(p)
	if !st.indentAllowed(indent) {
		return false
	}
	rest := p[indent:]
	if rest == "" {
		return true
	}
	n := runOf(rest, st.FenceChar)
	if n == 0 {
		return false
	}
	if n == len(rest) {
		return true
	}
	return n >= st.FenceLen && strings.Trim(rest[n:], " \t\r") == ""
}

func leadingSpaces(s string) int {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	return n
}

func runOf(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func trimCR(s string) string {
	return strings.TrimSuffix(s, "\r")
}
