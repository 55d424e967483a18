package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"
)

// pickerItem is one selectable row.
type pickerItem struct {
	Title       string
	Description string
	Badge       string
	Value       interface{}
}

type pickerKeyMap struct {
	Up    key.Binding
	Down  key.Binding
	Enter key.Binding
}

var defaultPickerKeys = pickerKeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "ctrl+p"),
		key.WithHelp("↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "ctrl+n", "tab"),
		key.WithHelp("↓", "down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
}

// picker is a scrolling list with an optional fuzzy filter line.
type picker struct {
	title    string
	items    []pickerItem
	filtered []int
	cursor   int
	offset   int
	height   int
	query    textinput.Model
	filter   bool
	keys     pickerKeyMap
}

func newPicker(title string, items []pickerItem, height int, filter bool) *picker {
	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "type to filter"
	ti.CharLimit = 64
	if filter {
		ti.Focus()
	}
	p := &picker{
		title:  title,
		height: height,
		query:  ti,
		filter: filter,
		keys:   defaultPickerKeys,
	}
	p.SetItems(items)
	return p
}

// SetItems replaces the rows and reapplies the current filter.
func (p *picker) SetItems(items []pickerItem) {
	p.items = items
	p.applyFilter()
}

// Len returns the number of visible rows.
func (p *picker) Len() int { return len(p.filtered) }

func (p *picker) applyFilter() {
	q := strings.TrimSpace(p.query.Value())
	p.filtered = p.filtered[:0]
	if q == "" {
		for i := range p.items {
			p.filtered = append(p.filtered, i)
		}
	} else {
		titles := make([]string, len(p.items))
		for i, it := range p.items {
			titles[i] = it.Title
		}
		for _, m := range fuzzy.Find(q, titles) {
			p.filtered = append(p.filtered, m.Index)
		}
	}
	p.cursor = 0
	p.offset = 0
}

// Selected returns the highlighted row.
func (p *picker) Selected() (pickerItem, bool) {
	if len(p.filtered) == 0 {
		return pickerItem{}, false
	}
	return p.items[p.filtered[p.cursor]], true
}

func (p *picker) move(delta int) {
	if len(p.filtered) == 0 {
		return
	}
	p.cursor = (p.cursor + delta + len(p.filtered)) % len(p.filtered)
	if p.cursor < p.offset {
		p.offset = p.cursor
	}
	if p.height > 0 && p.cursor >= p.offset+p.height {
		p.offset = p.cursor - p.height + 1
	}
}

// Update handles navigation. chosen is true when enter picked a row.
func (p *picker) Update(msg tea.KeyMsg) (item pickerItem, chosen bool, cmd tea.Cmd) {
	switch {
	case key.Matches(msg, p.keys.Up):
		p.move(-1)
		return pickerItem{}, false, nil
	case key.Matches(msg, p.keys.Down):
		p.move(1)
		return pickerItem{}, false, nil
	case key.Matches(msg, p.keys.Enter):
		item, ok := p.Selected()
		return item, ok, nil
	}
	if !p.filter {
		return pickerItem{}, false, nil
	}
	before := p.query.Value()
	p.query, cmd = p.query.Update(msg)
	if p.query.Value() != before {
		p.applyFilter()
	}
	return pickerItem{}, false, cmd
}

// View renders the picker at the given width.
func (p *picker) View(width int) string {
	var sb strings.Builder
	sb.WriteString(dialogTitleStyle.Render(p.title))
	sb.WriteString("\n")
	if p.filter {
		sb.WriteString(p.query.View())
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(p.filtered) == 0 {
		sb.WriteString(dimStyle.Render("  no matches"))
		return dialogBorder.Width(width).Render(sb.String())
	}

	end := len(p.filtered)
	if p.height > 0 && end > p.offset+p.height {
		end = p.offset + p.height
	}
	for i := p.offset; i < end; i++ {
		it := p.items[p.filtered[i]]
		line := it.Title
		if it.Badge != "" {
			line += "  " + it.Badge
		}
		if i == p.cursor {
			sb.WriteString(selectedItemStyle.Render(line))
		} else {
			sb.WriteString(unselectedItemStyle.Render(line))
		}
		if it.Description != "" {
			sb.WriteString(" " + descStyle.Render(it.Description))
		}
		sb.WriteString("\n")
	}
	if len(p.filtered) > end-p.offset {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("\n  %d/%d", p.cursor+1, len(p.filtered))))
	}
	return dialogBorder.Width(width).Render(strings.TrimRight(sb.String(), "\n"))
}
