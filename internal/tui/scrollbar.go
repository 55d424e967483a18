package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderViewportWithScrollbar draws the result viewport with a scrollbar on
// the right when the content overflows.
func (m Model) renderViewportWithScrollbar() string {
	content := m.viewport.View()
	if content == "" || m.viewport.Height < 3 {
		return content
	}
	if m.viewport.TotalLineCount() <= m.viewport.Height {
		return content
	}

	lines := strings.Split(content, "\n")
	if len(lines) > m.viewport.Height {
		lines = lines[:m.viewport.Height]
	}
	thumb := int(m.viewport.ScrollPercent() * float64(m.viewport.Height-1))

	track := lipgloss.NewStyle().Foreground(overlay)
	thumbStyle := lipgloss.NewStyle().Foreground(purple)

	// Lines are already constrained to the viewport width; pad by visual
	// width so ANSI sequences are left intact.
	var sb strings.Builder
	for i, line := range lines {
		sb.WriteString(line)
		if w := lipgloss.Width(line); w < m.viewport.Width {
			sb.WriteString(strings.Repeat(" ", m.viewport.Width-w))
		}
		sb.WriteString(" ")
		switch {
		case i == thumb:
			sb.WriteString(thumbStyle.Render("█"))
		case i == 0:
			sb.WriteString(track.Render("▲"))
		case i == len(lines)-1:
			sb.WriteString(track.Render("▼"))
		default:
			sb.WriteString(track.Render("│"))
		}
		if i < len(lines)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// scrollIndicator returns a short position label, or "" when everything fits.
func (m Model) scrollIndicator() string {
	if m.viewport.TotalLineCount() <= m.viewport.Height {
		return ""
	}
	pct := m.viewport.ScrollPercent()
	var label string
	switch {
	case pct < 0.01:
		label = "⬆ Top"
	case pct > 0.99:
		label = "⬇ Bottom"
	default:
		label = fmt.Sprintf("↕ %d%%", int(pct*100))
	}
	return dimStyle.Render("[") + keybindStyle.Render(label) + dimStyle.Render("]")
}
