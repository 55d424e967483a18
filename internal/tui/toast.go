package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// toastKind controls the colour of the toast.
type toastKind int

const (
	toastInfo toastKind = iota
	toastSuccess
	toastError
)

// toast is a short-lived notice shown in the top-right corner.
type toast struct {
	message string
	kind    toastKind
	expiry  time.Time
}

// toastDismissMsg is fired by the timer to remove expired toasts.
type toastDismissMsg struct{}

func toastTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return toastDismissMsg{}
	})
}

// showToast adds a toast and returns a Cmd that dismisses it.
func (m *Model) showToast(msg string, kind toastKind, dur time.Duration) tea.Cmd {
	if dur == 0 {
		dur = 3 * time.Second
	}
	m.toasts = append(m.toasts, toast{message: msg, kind: kind, expiry: time.Now().Add(dur)})
	return toastTickCmd(dur + 100*time.Millisecond)
}

// pruneToasts drops expired toasts.
func (m *Model) pruneToasts() {
	now := time.Now()
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if now.Before(t.expiry) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
}

func (m Model) renderToasts() string {
	now := time.Now()
	var lines []string
	for _, t := range m.toasts {
		if !now.Before(t.expiry) {
			continue
		}
		bg := blue
		switch t.kind {
		case toastSuccess:
			bg = green
		case toastError:
			bg = red
		}
		style := lipgloss.NewStyle().
			Foreground(base).
			Background(bg).
			Padding(0, 2).
			Bold(true)
		lines = append(lines, style.Render(t.message))
	}
	return strings.Join(lines, "\n")
}

// overlayToasts places the toast stack at the right edge of the first lines
// of screen.
func (m Model) overlayToasts(screen string) string {
	stack := m.renderToasts()
	if stack == "" {
		return screen
	}
	toastLines := strings.Split(stack, "\n")
	screenLines := strings.Split(screen, "\n")

	maxW := 0
	for _, l := range toastLines {
		if w := lipgloss.Width(l); w > maxW {
			maxW = w
		}
	}
	startX := m.width - maxW - 2
	if startX < 0 {
		startX = 0
	}

	for i := range toastLines {
		if i >= len(screenLines) {
			screenLines = append(screenLines, "")
		}
		line := screenLines[i]
		if pad := startX - lipgloss.Width(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		} else {
			line += "  "
		}
		screenLines[i] = line + toastLines[i]
	}
	return strings.Join(screenLines, "\n")
}
