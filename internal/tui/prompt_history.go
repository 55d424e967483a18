package tui

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
)

const maxHistoryEntries = 50

// inputHistory keeps the last texts submitted to a task. With a file path it
// persists as JSONL, one JSON string per line.
type inputHistory struct {
	entries []string // oldest first
	index   int      // navigation position; len(entries) means fresh input
	file    string
}

func newInputHistory(file string) *inputHistory {
	h := &inputHistory{file: file}
	h.load()
	h.index = len(h.entries)
	return h
}

func (h *inputHistory) load() {
	if h.file == "" {
		return
	}
	f, err := os.Open(h.file)
	if err != nil {
		return
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var s string
		if err := json.Unmarshal(sc.Bytes(), &s); err == nil && s != "" {
			entries = append(entries, s)
		}
	}
	if len(entries) > maxHistoryEntries {
		entries = entries[len(entries)-maxHistoryEntries:]
	}
	h.entries = entries
}

// Append records input and resets navigation to the end.
func (h *inputHistory) Append(input string) {
	if input == "" {
		return
	}
	if len(h.entries) > 0 && h.entries[len(h.entries)-1] == input {
		h.index = len(h.entries)
		return
	}
	h.entries = append(h.entries, input)
	if len(h.entries) > maxHistoryEntries {
		h.entries = h.entries[len(h.entries)-maxHistoryEntries:]
	}
	h.index = len(h.entries)
	h.persist()
}

// Older steps back and returns the entry, or current when history is empty.
func (h *inputHistory) Older(current string) string {
	if len(h.entries) == 0 {
		return current
	}
	if h.index > 0 {
		h.index--
	}
	return h.entries[h.index]
}

// Newer steps forward; "" means back at fresh input.
func (h *inputHistory) Newer() string {
	if h.index < len(h.entries) {
		h.index++
	}
	if h.index == len(h.entries) {
		return ""
	}
	return h.entries[h.index]
}

// Reset returns navigation to the fresh input position.
func (h *inputHistory) Reset() {
	h.index = len(h.entries)
}

func (h *inputHistory) persist() {
	if h.file == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.file), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(h.file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, e := range h.entries {
		b, _ := json.Marshal(e)
		_, _ = w.Write(b)
		_ = w.WriteByte('\n')
	}
	_ = w.Flush()
}
