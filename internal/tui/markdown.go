package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
)

func uintPtr(u uint) *uint    { return &u }
func strPtr(s string) *string { return &s }

// resultStyle keeps glamour's dark theme but drops the document margins so
// the output lines up with the result frame.
func resultStyle() ansi.StyleConfig {
	s := styles.DarkStyleConfig
	s.Document.Margin = uintPtr(0)
	s.Document.Indent = uintPtr(0)
	s.Paragraph.Margin = uintPtr(0)
	s.H1.Color = strPtr("#CBA6F7")
	s.H2.Color = strPtr("#89B4FA")
	s.H3.Color = strPtr("#A6E3A1")
	s.Item.BlockPrefix = "• "
	return s
}

// markdownRenderer renders model output. Presentation refinements come back
// as bullet lists, so the result view treats every output as markdown.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
}

func newMarkdownRenderer(width int) *markdownRenderer {
	mr := &markdownRenderer{}
	mr.SetWidth(width)
	return mr
}

// SetWidth rebuilds the renderer for a new wrap width.
func (mr *markdownRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if mr.renderer != nil && width == mr.width {
		return
	}
	mr.width = width
	r, err := glamour.NewTermRenderer(glamour.WithStyles(resultStyle()), glamour.WithWordWrap(width))
	if err != nil {
		mr.renderer = nil
		return
	}
	mr.renderer = r
}

// Render falls back to the raw text when glamour fails.
func (mr *markdownRenderer) Render(md string) string {
	if mr.renderer == nil {
		return md
	}
	out, err := mr.renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}
