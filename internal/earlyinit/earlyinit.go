// Package earlyinit must be imported before github.com/charmbracelet/bubbletea
// in cmd/airefiner/main.go. Its init function pre-sets lipgloss's
// dark-background flag so bubbletea's own init finds the value cached and
// never sends the OSC 11 background colour query.
//
// On WSL2 the cursor-position reply can arrive before the OSC 11 reply, which
// leaves "\e]11;rgb:0000/0000/0000\a" in the PTY buffer. bubbletea then reads
// it as keyboard input and it lands in the text area.
package earlyinit

import "github.com/charmbracelet/lipgloss"

func init() {
	lipgloss.SetHasDarkBackground(true)
}
