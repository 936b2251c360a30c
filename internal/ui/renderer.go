package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/samsaffron/cmd2ai/internal/llm"
)

const (
	defaultToolPreviewLines = 20
	reasoningPrefix         = "│ "
)

// ColorEnabled reports whether styled output should be written to f.
func ColorEnabled(f *os.File, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the column count of f, or 0 when it is not a terminal.
func TerminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// RendererOptions configures a Renderer.
type RendererOptions struct {
	Color bool
	Theme *Theme
	Width int
	// ToolPreviewLines caps the tool output shown; 0 = default, <0 = all.
	ToolPreviewLines int
}

// Renderer prints the engine's output to a terminal. Answer text goes
// through an incremental highlighter; reasoning goes through a second one
// and is shown faint inside its own box.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	styles *Styles
	hl     *Highlighter

	content   CodeBufferState
	reasoning CodeBufferState

	reasoningOpen      bool
	reasoningLineStart bool
	reasoningStar      bool

	wrote     bool
	lastByte  byte
	citations []llm.Citation

	previewLines int
}

var _ llm.Renderer = (*Renderer)(nil)

// NewRenderer creates a renderer writing answers to out and diagnostics to
// errOut.
func NewRenderer(out, errOut io.Writer, opts RendererOptions) *Renderer {
	styles := NewStyles(out, opts.Theme, opts.Color)
	preview := opts.ToolPreviewLines
	if preview == 0 {
		preview = defaultToolPreviewLines
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		styles: styles,
		hl: NewHighlighter(HighlighterOptions{
			Color:     opts.Color,
			Width:     opts.Width,
			CodeStyle: styles.Theme().CodeStyle,
			Frame:     styles.Frame,
		}),
		previewLines: preview,
	}
}

func (r *Renderer) write(s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(r.out, s)
	r.wrote = true
	r.lastByte = s[len(s)-1]
}

// ensureNewline moves to a fresh line if anything is pending on the current one.
func (r *Renderer) ensureNewline() {
	if r.wrote && r.lastByte != '\n' {
		r.write("\n")
	}
}

func (r *Renderer) Content(text string) {
	if text == "" {
		return
	}
	r.closeReasoning()
	var out string
	r.content, out = r.hl.Feed(r.content, text)
	r.write(out)
}

func (r *Renderer) Reasoning(text string) {
	text = r.stripBold(text)
	if text == "" {
		return
	}
	if !r.reasoningOpen {
		r.ensureNewline()
		r.write(r.hl.Header("reasoning"))
		r.reasoningOpen = true
		r.reasoningLineStart = true
	}
	var out string
	r.reasoning, out = r.hl.Feed(r.reasoning, text)
	r.writeReasoning(out)
}

// stripBold removes markdown bold markers. A lone trailing '*' is held back
// because the next delta may complete the pair.
func (r *Renderer) stripBold(text string) string {
	if r.reasoningStar {
		text = "*" + text
		r.reasoningStar = false
	}
	run := len(text) - len(strings.TrimRight(text, "*"))
	if run%2 == 1 {
		text = text[:len(text)-1]
		r.reasoningStar = true
	}
	return strings.ReplaceAll(text, "**", "")
}

// writeReasoning prefixes every line and styles each line segment alone so
// lipgloss never pads across lines.
func (r *Renderer) writeReasoning(s string) {
	for s != "" {
		segment := s
		nl := strings.IndexByte(s, '\n')
		if nl >= 0 {
			segment = s[:nl]
		}
		if segment != "" {
			if r.reasoningLineStart {
				r.write(r.styles.Frame.Render(reasoningPrefix))
				r.reasoningLineStart = false
			}
			r.write(r.styles.Reasoning.Render(segment))
		}
		if nl < 0 {
			return
		}
		if r.reasoningLineStart {
			r.write(r.styles.Frame.Render(strings.TrimRight(reasoningPrefix, " ")))
		}
		r.write("\n")
		r.reasoningLineStart = true
		s = s[nl+1:]
	}
}

func (r *Renderer) closeReasoning() {
	if !r.reasoningOpen {
		return
	}
	var out string
	if r.reasoningStar {
		r.reasoningStar = false
		r.reasoning, out = r.hl.Feed(r.reasoning, "*")
		r.writeReasoning(out)
	}
	r.reasoning, out = r.hl.Finish(r.reasoning)
	r.writeReasoning(out)
	if !r.reasoningLineStart {
		r.write("\n")
	}
	r.write(r.hl.Footer())
	r.reasoningOpen = false
	r.reasoning = CodeBufferState{}
}

func (r *Renderer) Citations(citations []llm.Citation) {
	r.citations = append(r.citations, citations...)
}

func (r *Renderer) flush() {
	r.closeReasoning()
	var out string
	r.content, out = r.hl.Finish(r.content)
	r.write(out)
	r.ensureNewline()
}

func (r *Renderer) Finish() {
	r.flush()
	r.writeSources()
}

func (r *Renderer) Abort(err error) {
	r.flush()
	r.citations = nil
	if err == nil {
		return
	}
	fmt.Fprintln(r.errOut, r.styles.Error.Render("Error: "+err.Error()))
}

// writeSources prints numbered, deduplicated citation URLs.
func (r *Renderer) writeSources() {
	if len(r.citations) == 0 {
		return
	}
	seen := make(map[string]bool)
	var b strings.Builder
	b.WriteString("\n" + r.styles.Bold.Render("Sources:") + "\n")
	n := 0
	for _, c := range r.citations {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		n++
		line := fmt.Sprintf("[%d] %s", n, c.URL)
		if c.Title != "" {
			line = fmt.Sprintf("[%d] %s - %s", n, c.Title, c.URL)
		}
		b.WriteString(r.styles.Muted.Render(line) + "\n")
	}
	r.citations = nil
	if n > 0 {
		r.write(b.String())
	}
}

func (r *Renderer) ToolStart(call llm.ToolCall) {
	r.flush()
	line := "→ " + call.Name
	if info := llm.ExtractToolInfo(call); info != "" {
		line += " " + info
	}
	r.write(r.styles.Muted.Render(line) + "\n")
}

func (r *Renderer) ToolResult(call llm.ToolCall, result llm.ToolResult) {
	label := "TOOL: " + call.Name
	style := r.styles.ToolLabel
	body := result.Output
	if result.Err != nil {
		label = "TOOL ERROR: " + call.Name
		style = r.styles.ToolError
		body = result.Err.Error()
		if result.Output != "" {
			body += "\n" + result.Output
		}
	}

	r.ensureNewline()
	r.write(r.paint(style, r.hl.headerLine(label)) + "\n")
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	shown := lines
	if r.previewLines > 0 && len(lines) > r.previewLines {
		shown = lines[:r.previewLines]
	}
	for _, line := range shown {
		r.write(r.styles.Frame.Render(reasoningPrefix) + line + "\n")
	}
	if hidden := len(lines) - len(shown); hidden > 0 {
		r.write(r.styles.Frame.Render(reasoningPrefix) + r.styles.Muted.Render(fmt.Sprintf("… %d more lines", hidden)) + "\n")
	}
	if result.Truncated {
		r.write(r.styles.Frame.Render(reasoningPrefix) + r.styles.Muted.Render("[output truncated]") + "\n")
	}
	r.write(r.hl.Footer())
}

func (r *Renderer) paint(style lipgloss.Style, s string) string {
	if !r.styles.Color() {
		return s
	}
	return style.Render(s)
}
