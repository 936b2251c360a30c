package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/x/ansi"
)

// codeColorizer colors whole code blocks for one chroma style.
type codeColorizer struct {
	style *chroma.Style
}

func newCodeColorizer(styleName string) *codeColorizer {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	return &codeColorizer{style: style}
}

// Colorize highlights code written in lang. Unknown languages and any
// result whose visible text differs from code come back unchanged.
func (c *codeColorizer) Colorize(lang, code string) string {
	if c == nil || code == "" || lang == "" {
		return code
	}
	lexer := lexers.Get(lang)
	if lexer == nil {
		return code
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	formatter := &noBgFormatter{style: c.style}
	if err := formatter.Format(&buf, iterator); err != nil {
		return code
	}

	out := buf.String()
	if ansi.Strip(out) != code {
		return code
	}
	return out
}

// noBgFormatter is a Chroma formatter that applies only foreground colors.
// Newlines are written outside escape sequences so every line can be
// prefixed or restyled on its own.
type noBgFormatter struct {
	style *chroma.Style
}

func (f *noBgFormatter) Format(w io.Writer, iterator chroma.Iterator) error {
	for token := iterator(); token != chroma.EOF; token = iterator() {
		codes := f.codes(token.Type)
		for i, part := range strings.Split(token.Value, "\n") {
			if i > 0 {
				fmt.Fprint(w, "\n")
			}
			if part == "" {
				continue
			}
			if codes == "" {
				fmt.Fprint(w, part)
				continue
			}
			fmt.Fprintf(w, "\x1b[%sm%s\x1b[0m", codes, part)
		}
	}
	return nil
}

func (f *noBgFormatter) codes(t chroma.TokenType) string {
	entry := f.style.Get(t)

	var codes []string
	if entry.Colour.IsSet() {
		codes = append(codes, fmt.Sprintf("38;2;%d;%d;%d", entry.Colour.Red(), entry.Colour.Green(), entry.Colour.Blue()))
	}
	if entry.Bold == chroma.Yes {
		codes = append(codes, "1")
	}
	if entry.Italic == chroma.Yes {
		codes = append(codes, "3")
	}
	if entry.Underline == chroma.Yes {
		codes = append(codes, "4")
	}
	return strings.Join(codes, ";")
}

// StripANSI removes all ANSI escape codes from a string
func StripANSI(s string) string {
	return ansi.Strip(s)
}
