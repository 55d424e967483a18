package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhanuzh/airefiner/internal/catalog"
	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/refiner"
	"github.com/Dhanuzh/airefiner/internal/resilience"
	"github.com/Dhanuzh/airefiner/internal/task"
)

type runCall struct {
	task task.ID
	desc catalog.ModelDescriptor
	text string
	tc   task.Context
}

type fakeEngine struct {
	models map[provider.ID][]catalog.ModelDescriptor
	err    error
	runErr error

	mu    sync.Mutex
	calls []runCall
}

func (f *fakeEngine) GetAvailableModels(ctx context.Context) (map[provider.ID][]catalog.ModelDescriptor, error) {
	return f.models, f.err
}

func (f *fakeEngine) RefreshModels(ctx context.Context) (*catalog.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &catalog.Snapshot{Models: f.models, FetchedAt: time.Now(), TTL: time.Hour}, nil
}

func (f *fakeEngine) Snapshot() *catalog.Snapshot { return nil }

func (f *fakeEngine) RunTask(ctx context.Context, id task.ID, desc catalog.ModelDescriptor, text string, tc task.Context) (*refiner.TaskResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{task: id, desc: desc, text: text, tc: tc})
	f.mu.Unlock()
	if f.runErr != nil {
		return nil, &refiner.InvocationError{Provider: desc.Provider, Model: desc.ID, Err: f.runErr}
	}
	return &refiner.TaskResult{
		RequestID:    "req-1",
		Task:         id,
		ResolvedTask: id,
		Model:        desc,
		Output:       "refined: " + text,
		Attempts:     1,
	}, nil
}

func (f *fakeEngine) BreakerState(desc catalog.ModelDescriptor) resilience.BreakerState {
	return resilience.BreakerState{Key: desc.Key(), Status: resilience.StatusClosed}
}

func (f *fakeEngine) lastCall(t *testing.T) runCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{models: map[provider.ID][]catalog.ModelDescriptor{
		provider.OpenAI:    {{Provider: provider.OpenAI, ID: "gpt-4o", DisplayName: "gpt-4o"}},
		provider.Anthropic: {{Provider: provider.Anthropic, ID: "claude-3-5-sonnet", DisplayName: "Claude 3.5 Sonnet"}},
	}}
}

func press(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

// drain runs cmd and any batched commands, returning the messages that
// matter to these tests. Only used on commands that return immediately.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, drain(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func findTaskDone(t *testing.T, msgs []tea.Msg) TaskDoneMsg {
	t.Helper()
	for _, msg := range msgs {
		if done, ok := msg.(TaskDoneMsg); ok {
			return done
		}
	}
	t.Fatal("no TaskDoneMsg produced")
	return TaskDoneMsg{}
}

func loaded(t *testing.T, m Model, eng *fakeEngine) Model {
	t.Helper()
	msg := loadModelsCmd(eng, false)()
	m, _ = update(t, m, msg)
	return m
}

func TestFullFlowAndRefineFurther(t *testing.T) {
	eng := newFakeEngine()
	m := loaded(t, New(eng, Options{}), eng)
	require.Equal(t, ViewModels, m.view)
	require.Equal(t, 2, m.modelPicker.Len())

	// models are listed in provider order, so openai comes first
	m, _ = update(t, m, press("enter"))
	require.Equal(t, ViewTasks, m.view)
	assert.Equal(t, "openai/gpt-4o", m.selected.Key())
	assert.Equal(t, len(task.All), m.taskPicker.Len(), "no refine-further row before a result")

	m, _ = update(t, m, press("enter"))
	require.Equal(t, ViewInput, m.view)
	assert.Equal(t, task.Refine, m.taskID)

	m, _ = update(t, m, press("ctrl+s"))
	assert.Equal(t, ViewInput, m.view, "empty input is not submitted")
	assert.NotEmpty(t, m.status)

	m, _ = update(t, m, press("hello team"))
	m, cmd := update(t, m, press("ctrl+s"))
	require.Equal(t, ViewRunning, m.view)

	done := findTaskDone(t, drain(cmd))
	call := eng.lastCall(t)
	assert.Equal(t, "hello team", call.text)
	assert.Equal(t, task.Refine, call.task)

	m, _ = update(t, m, done)
	require.Equal(t, ViewResult, m.view)
	require.NotNil(t, m.result)
	assert.Equal(t, "refined: hello team", m.result.Output)
	assert.True(t, task.CanRefineFurther(m.taskCtx))
	assert.Contains(t, m.View(), "refine further")

	m, cmd = update(t, m, press("r"))
	require.Equal(t, ViewRunning, m.view)
	findTaskDone(t, drain(cmd))
	call = eng.lastCall(t)
	assert.Equal(t, "refined: hello team", call.text)
	assert.Equal(t, task.Refine, call.tc.PreviousTaskID)
	assert.Equal(t, "refined: hello team", call.tc.PreviousResult)
}

func TestRefineFurtherRowInTaskPicker(t *testing.T) {
	items := taskItems(task.Context{PreviousTaskID: task.Refine, PreviousResult: "done"})
	require.Len(t, items, len(task.All)+1)
	_, ok := items[0].Value.(refineFurther)
	assert.True(t, ok)

	items = taskItems(task.Context{PreviousTaskID: task.EnToZh, PreviousResult: "你好"})
	assert.Len(t, items, len(task.All))
}

func TestTranslationResultCannotRefineFurther(t *testing.T) {
	eng := newFakeEngine()
	m := loaded(t, New(eng, Options{Model: "openai/gpt-4o", Task: task.EnToZh}), eng)
	require.Equal(t, ViewInput, m.view)

	m, _ = update(t, m, press("Good morning"))
	m, cmd := update(t, m, press("ctrl+s"))
	m, _ = update(t, m, findTaskDone(t, drain(cmd)))
	require.Equal(t, ViewResult, m.view)

	m, cmd = update(t, m, press("r"))
	assert.Nil(t, cmd)
	assert.Equal(t, ViewResult, m.view)
	assert.Contains(t, m.status, "Only refine")
}

func TestRunFailureShowsFriendlyError(t *testing.T) {
	eng := newFakeEngine()
	eng.runErr = &resilience.CircuitOpenError{Key: "openai/gpt-4o", RetryAt: time.Now().Add(20 * time.Second)}
	m := loaded(t, New(eng, Options{Model: "openai/gpt-4o", Task: task.Refine}), eng)

	m, _ = update(t, m, press("draft"))
	m, cmd := update(t, m, press("ctrl+s"))
	m, _ = update(t, m, findTaskDone(t, drain(cmd)))

	require.Equal(t, ViewResult, m.view)
	require.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "Temporarily Disabled")
	assert.Contains(t, m.View(), "try again")

	eng.runErr = nil
	m, cmd = update(t, m, press("a"))
	require.Equal(t, ViewRunning, m.view)
	findTaskDone(t, drain(cmd))
	assert.Equal(t, "draft", eng.lastCall(t).text)
}

func TestModelLoadFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.err = catalog.ErrNoModelsAvailable
	m := loaded(t, New(eng, Options{}), eng)

	require.Equal(t, ViewLoading, m.view)
	require.Error(t, m.err)
	assert.Contains(t, m.View(), "No Models Available")

	eng.err = nil
	m, cmd := update(t, m, press("r"))
	require.NotNil(t, cmd)
	var loadedMsg ModelsLoadedMsg
	for _, msg := range drain(cmd) {
		if lm, ok := msg.(ModelsLoadedMsg); ok {
			loadedMsg = lm
		}
	}
	require.NoError(t, loadedMsg.Err)
	m, _ = update(t, m, loadedMsg)
	assert.Equal(t, ViewModels, m.view)
}

func TestUnknownPreselectedModel(t *testing.T) {
	eng := newFakeEngine()
	m := loaded(t, New(eng, Options{Model: "groq/llama-3.1-70b"}), eng)
	assert.Equal(t, ViewModels, m.view)
	assert.Contains(t, m.status, "not available")
}

func TestEscNavigatesBack(t *testing.T) {
	eng := newFakeEngine()
	m := loaded(t, New(eng, Options{}), eng)
	m, _ = update(t, m, press("enter"))
	m, _ = update(t, m, press("enter"))
	require.Equal(t, ViewInput, m.view)

	m, _ = update(t, m, press("esc"))
	assert.Equal(t, ViewTasks, m.view)
	m, _ = update(t, m, press("esc"))
	assert.Equal(t, ViewModels, m.view)
}

func TestPickerFilter(t *testing.T) {
	p := newPicker("models", []pickerItem{
		{Title: "openai/gpt-4o"},
		{Title: "anthropic/claude-3-5-sonnet"},
		{Title: "groq/llama-3.1-70b"},
	}, 10, true)
	assert.Equal(t, 3, p.Len())

	for _, r := range "sonnet" {
		p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	require.Equal(t, 1, p.Len())
	item, chosen, _ := p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, chosen)
	assert.Equal(t, "anthropic/claude-3-5-sonnet", item.Title)

	for _, r := range "zzz" {
		p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	assert.Equal(t, 0, p.Len())
	_, chosen, _ = p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, chosen)
}

func TestPickerWrapsAndScrolls(t *testing.T) {
	p := newPicker("tasks", []pickerItem{{Title: "a"}, {Title: "b"}, {Title: "c"}}, 2, false)
	p.Update(tea.KeyMsg{Type: tea.KeyDown})
	p.Update(tea.KeyMsg{Type: tea.KeyDown})
	item, _ := p.Selected()
	assert.Equal(t, "c", item.Title)
	assert.Equal(t, 1, p.offset)

	p.Update(tea.KeyMsg{Type: tea.KeyDown})
	item, _ = p.Selected()
	assert.Equal(t, "a", item.Title)
	assert.Equal(t, 0, p.offset)

	// typing does nothing without a filter
	p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})
	assert.Equal(t, 3, p.Len())
}

func TestMarkdownRendererFallsBack(t *testing.T) {
	mr := &markdownRenderer{}
	assert.Equal(t, "plain", mr.Render("plain"))

	mr = newMarkdownRenderer(40)
	out := mr.Render("- first point\n- second point")
	assert.Contains(t, out, "first point")
}

var _ Engine = (*refiner.Engine)(nil)

func TestFriendlyPassthrough(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, err, refiner.Friendly(err))
}

func TestFilterOSCSequences(t *testing.T) {
	leak := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("]11;rgb:0000/0000/0000")}
	assert.Nil(t, filterOSCSequences(nil, leak))

	normal := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hello")}
	assert.Equal(t, normal, filterOSCSequences(nil, normal))

	size := tea.WindowSizeMsg{Width: 80, Height: 24}
	assert.Equal(t, size, filterOSCSequences(nil, size))
}

func TestInputHistoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	h := newInputHistory(path)
	h.Append("first draft")
	h.Append("second draft")
	h.Append("second draft")
	require.Len(t, h.entries, 2)

	h = newInputHistory(path)
	assert.Equal(t, "second draft", h.Older("typing"))
	assert.Equal(t, "first draft", h.Older(""))
	assert.Equal(t, "first draft", h.Older(""), "stays at the oldest entry")
	assert.Equal(t, "second draft", h.Newer())
	assert.Equal(t, "", h.Newer())
}

func TestInputHistoryInMemory(t *testing.T) {
	h := newInputHistory("")
	assert.Equal(t, "current", h.Older("current"))
	for i := 0; i < maxHistoryEntries+5; i++ {
		h.Append(strings.Repeat("x", i+1))
	}
	assert.Len(t, h.entries, maxHistoryEntries)
}

func TestInputViewRecallsHistory(t *testing.T) {
	eng := newFakeEngine()
	m := loaded(t, New(eng, Options{Model: "openai/gpt-4o", Task: task.Refine}), eng)
	m, _ = update(t, m, press("earlier text"))
	m, cmd := update(t, m, press("ctrl+s"))
	m, _ = update(t, m, findTaskDone(t, drain(cmd)))
	require.Equal(t, ViewResult, m.view)

	m, _ = update(t, m, press("n"))
	require.Equal(t, ViewInput, m.view)
	assert.Empty(t, m.input.Value())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp, Alt: true})
	assert.Equal(t, "earlier text", m.input.Value())
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown, Alt: true})
	assert.Empty(t, m.input.Value())
}

func TestToastOverlayAndExpiry(t *testing.T) {
	m := New(newFakeEngine(), Options{})
	m.width = 60
	cmd := m.showToast("Copied result (5 chars)", toastSuccess, time.Minute)
	require.NotNil(t, cmd)

	out := m.overlayToasts("line one\nline two")
	assert.Contains(t, out, "Copied result")
	assert.Contains(t, out, "line two")

	m.toasts[0].expiry = time.Now().Add(-time.Second)
	assert.Equal(t, "line one", m.overlayToasts("line one"))
	m.pruneToasts()
	assert.Empty(t, m.toasts)
}

func TestResultScrollbar(t *testing.T) {
	m := New(newFakeEngine(), Options{})
	m.viewport.Width = 20
	m.viewport.Height = 4
	m.viewport.SetContent("short")
	assert.Equal(t, m.viewport.View(), m.renderViewportWithScrollbar())
	assert.Empty(t, m.scrollIndicator())

	m.viewport.SetContent(strings.Repeat("line\n", 20))
	out := m.renderViewportWithScrollbar()
	assert.Contains(t, out, "█")
	assert.Contains(t, m.scrollIndicator(), "Top")
}
