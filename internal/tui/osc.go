package tui

import (
	"regexp"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

var oscColourReply = regexp.MustCompile(`\d{1,4}/\d{4}/\d{4}`)

// filterOSCSequences drops terminal colour-query replies that some terminals
// deliver as key input, so they never reach the text area.
func filterOSCSequences(_ tea.Model, msg tea.Msg) tea.Msg {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return msg
	}
	str := k.String()
	if oscColourReply.MatchString(str) {
		return nil
	}
	if strings.HasPrefix(str, "]11;") ||
		strings.HasPrefix(str, "rgb:") ||
		strings.HasPrefix(str, "gb:") ||
		strings.Contains(str, ";rgb:") {
		return nil
	}
	return msg
}
