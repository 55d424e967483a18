// Package tui is the interactive front end: choose a model, choose a task,
// enter text, read the result and optionally refine it further.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dhanuzh/airefiner/internal/catalog"
	"github.com/Dhanuzh/airefiner/internal/langdetect"
	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/refiner"
	"github.com/Dhanuzh/airefiner/internal/resilience"
	"github.com/Dhanuzh/airefiner/internal/task"
)

// Engine is what the TUI needs from *refiner.Engine.
type Engine interface {
	GetAvailableModels(ctx context.Context) (map[provider.ID][]catalog.ModelDescriptor, error)
	RefreshModels(ctx context.Context) (*catalog.Snapshot, error)
	Snapshot() *catalog.Snapshot
	RunTask(ctx context.Context, taskID task.ID, desc catalog.ModelDescriptor, text string, taskCtx task.Context) (*refiner.TaskResult, error)
	BreakerState(desc catalog.ModelDescriptor) resilience.BreakerState
}

// ─── Views ──────────────────────────────────────────────────────────────────────

type View string

const (
	ViewLoading View = "loading"
	ViewModels  View = "models"
	ViewTasks   View = "tasks"
	ViewInput   View = "input"
	ViewRunning View = "running"
	ViewResult  View = "result"
)

// ─── Messages ───────────────────────────────────────────────────────────────────

// ModelsLoadedMsg carries the catalog after a (re)load.
type ModelsLoadedMsg struct {
	Models   []catalog.ModelDescriptor
	Degraded map[provider.ID]error
	Err      error
}

// TaskDoneMsg carries the outcome of a RunTask call.
type TaskDoneMsg struct {
	Result *refiner.TaskResult
	Err    error
}

// refineFurther marks the task row that feeds the previous output back in.
type refineFurther struct{}

// Options preselect parts of the flow.
type Options struct {
	// Model is a "provider/model" key to preselect when it is available.
	Model string
	// Task skips the task picker when set.
	Task task.ID
	// Timeout bounds one task run; zero means no limit beyond the engine's.
	Timeout time.Duration
	// HistoryFile persists submitted texts; empty keeps history in memory.
	HistoryFile string
}

// Model is the bubbletea model.
type Model struct {
	engine Engine
	opts   Options

	view   View
	width  int
	height int

	models   []catalog.ModelDescriptor
	degraded map[provider.ID]error
	selected catalog.ModelDescriptor
	taskID   task.ID
	taskCtx  task.Context

	modelPicker *picker
	taskPicker  *picker
	input       textarea.Model
	spinner     spinner.Model
	viewport    viewport.Model
	markdown    *markdownRenderer
	history     *inputHistory
	toasts      []toast

	lastInput string
	result    *refiner.TaskResult
	err       error
	status    string
	cancel    context.CancelFunc
}

// New builds the TUI model.
func New(engine Engine, opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Paste or type the text to work on..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(76)
	ta.SetHeight(10)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(purple)

	return Model{
		engine:   engine,
		opts:     opts,
		view:     ViewLoading,
		width:    80,
		height:   24,
		input:    ta,
		spinner:  sp,
		viewport: viewport.New(76, 14),
		markdown: newMarkdownRenderer(72),
		history:  newInputHistory(opts.HistoryFile),
	}
}

// Run starts the program on the alternate screen.
func Run(engine Engine, opts Options) error {
	p := tea.NewProgram(New(engine, opts), tea.WithAltScreen(), tea.WithFilter(filterOSCSequences))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadModelsCmd(m.engine, false))
}

func loadModelsCmd(engine Engine, refresh bool) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var (
			grouped map[provider.ID][]catalog.ModelDescriptor
			err     error
		)
		if refresh {
			var snap *catalog.Snapshot
			if snap, err = engine.RefreshModels(ctx); snap != nil {
				grouped = snap.Models
			}
		} else {
			grouped, err = engine.GetAvailableModels(ctx)
		}
		msg := ModelsLoadedMsg{Models: catalog.Flatten(grouped), Err: err}
		if snap := engine.Snapshot(); snap != nil {
			msg.Degraded = snap.Degraded
		}
		return msg
	}
}

func runTaskCmd(ctx context.Context, engine Engine, id task.ID, desc catalog.ModelDescriptor, text string, tc task.Context) tea.Cmd {
	return func() tea.Msg {
		res, err := engine.RunTask(ctx, id, desc, text, tc)
		return TaskDoneMsg{Result: res, Err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ModelsLoadedMsg:
		return m.handleModelsLoaded(msg)

	case TaskDoneMsg:
		return m.handleTaskDone(msg)

	case toastDismissMsg:
		m.pruneToasts()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		switch m.view {
		case ViewLoading:
			return m.updateLoading(msg)
		case ViewModels:
			return m.updateModels(msg)
		case ViewTasks:
			return m.updateTasks(msg)
		case ViewInput:
			return m.updateInput(msg)
		case ViewRunning:
			return m.updateRunning(msg)
		case ViewResult:
			return m.updateResult(msg)
		}
	}

	if m.view == ViewInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	inner := w - 8
	if inner < 20 {
		inner = 20
	}
	m.input.SetWidth(inner)
	m.viewport.Width = inner
	vh := h - 12
	if vh < 5 {
		vh = 5
	}
	m.viewport.Height = vh
	m.markdown.SetWidth(inner - 2)
	if m.result != nil {
		m.viewport.SetContent(m.renderResultBody())
	}
}

func (m *Model) listHeight() int {
	h := m.height - 10
	if h < 5 {
		return 5
	}
	return h
}

func (m Model) handleModelsLoaded(msg ModelsLoadedMsg) (tea.Model, tea.Cmd) {
	m.degraded = msg.Degraded
	if msg.Err != nil {
		m.view = ViewLoading
		m.err = refiner.Friendly(msg.Err)
		return m, nil
	}
	m.err = nil
	reloaded := m.models != nil
	m.models = msg.Models
	m.modelPicker = newPicker("Choose a model", m.modelItems(), m.listHeight(), true)
	m.view = ViewModels
	if reloaded {
		return m, m.showToast(fmt.Sprintf("Model list refreshed (%d)", len(m.models)), toastInfo, 0)
	}

	if m.opts.Model != "" {
		for _, d := range m.models {
			if d.Key() == m.opts.Model {
				m.opts.Model = ""
				return m.selectModel(d)
			}
		}
		m.status = fmt.Sprintf("%s is not available, pick another model", m.opts.Model)
		m.opts.Model = ""
	}
	return m, nil
}

func (m *Model) modelItems() []pickerItem {
	items := make([]pickerItem, 0, len(m.models))
	for _, d := range m.models {
		it := pickerItem{Title: d.Key(), Value: d}
		if d.DisplayName != "" && d.DisplayName != d.ID {
			it.Description = d.DisplayName
		}
		if st := m.engine.BreakerState(d); st.Status != resilience.StatusClosed {
			it.Badge = warnStyle.Render("[" + string(st.Status) + "]")
		}
		items = append(items, it)
	}
	return items
}

func taskItems(tc task.Context) []pickerItem {
	var items []pickerItem
	if task.CanRefineFurther(tc) {
		items = append(items, pickerItem{
			Title:       "Refine further",
			Description: "run Refine Text again on the last result",
			Value:       refineFurther{},
		})
	}
	for _, id := range task.All {
		items = append(items, pickerItem{Title: id.Name(), Description: id.Description(), Value: id})
	}
	return items
}

func (m Model) updateLoading(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "r":
		if m.err != nil {
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, loadModelsCmd(m.engine, true))
		}
	}
	return m, nil
}

func (m Model) updateModels(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "ctrl+r":
		m.view = ViewLoading
		m.status = ""
		return m, tea.Batch(m.spinner.Tick, loadModelsCmd(m.engine, true))
	}
	item, chosen, cmd := m.modelPicker.Update(msg)
	if chosen {
		return m.selectModel(item.Value.(catalog.ModelDescriptor))
	}
	return m, cmd
}

func (m Model) selectModel(d catalog.ModelDescriptor) (tea.Model, tea.Cmd) {
	m.selected = d
	m.status = ""
	if m.opts.Task != "" {
		m.taskID = m.opts.Task
		m.opts.Task = ""
		return m.openInput()
	}
	m.taskPicker = newPicker("Choose a task for "+d.Key(), taskItems(m.taskCtx), m.listHeight(), false)
	m.view = ViewTasks
	return m, nil
}

func (m Model) updateTasks(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.view = ViewModels
		return m, nil
	case "q":
		return m, tea.Quit
	}
	item, chosen, _ := m.taskPicker.Update(msg)
	if !chosen {
		return m, nil
	}
	if _, ok := item.Value.(refineFurther); ok {
		m.taskID = task.Refine
		return m.startRun(m.taskCtx.PreviousResult)
	}
	m.taskID = item.Value.(task.ID)
	return m.openInput()
}

func (m Model) openInput() (tea.Model, tea.Cmd) {
	m.view = ViewInput
	m.input.Reset()
	m.history.Reset()
	return m, m.input.Focus()
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		m.taskPicker = newPicker("Choose a task for "+m.selected.Key(), taskItems(m.taskCtx), m.listHeight(), false)
		m.view = ViewTasks
		return m, nil
	case "ctrl+s", "ctrl+d":
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			m.status = "Enter some text first"
			return m, nil
		}
		m.input.Blur()
		m.history.Append(text)
		return m.startRun(text)
	case "alt+up":
		m.input.SetValue(m.history.Older(m.input.Value()))
		return m, nil
	case "alt+down":
		m.input.SetValue(m.history.Newer())
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) startRun(text string) (tea.Model, tea.Cmd) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.cancel = cancel
	m.lastInput = text
	m.status = ""
	m.err = nil
	m.view = ViewRunning
	tc := m.taskCtx
	tc.TaskID = m.taskID
	return m, tea.Batch(m.spinner.Tick, runTaskCmd(ctx, m.engine, m.taskID, m.selected, text, tc))
}

func (m Model) updateRunning(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" && m.cancel != nil {
		m.cancel()
		m.status = "Canceling..."
	}
	return m, nil
}

func (m Model) handleTaskDone(msg TaskDoneMsg) (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.view = ViewResult
	if msg.Err != nil {
		m.err = refiner.Friendly(msg.Err)
		m.result = nil
	} else {
		m.err = nil
		m.result = msg.Result
		m.taskCtx = msg.Result.Context()
	}
	m.viewport.SetContent(m.renderResultBody())
	m.viewport.GotoTop()
	return m, nil
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "r":
		if task.CanRefineFurther(m.taskCtx) {
			m.taskID = task.Refine
			return m.startRun(m.taskCtx.PreviousResult)
		}
		m.status = "Only refine results can be refined further"
		return m, nil
	case "a":
		if m.err != nil && m.lastInput != "" {
			return m.startRun(m.lastInput)
		}
		return m, nil
	case "n":
		return m.openInput()
	case "t":
		m.taskPicker = newPicker("Choose a task for "+m.selected.Key(), taskItems(m.taskCtx), m.listHeight(), false)
		m.view = ViewTasks
		return m, nil
	case "m":
		m.modelPicker.SetItems(m.modelItems())
		m.view = ViewModels
		return m, nil
	case "c":
		if m.result == nil {
			return m, nil
		}
		if err := clipboard.WriteAll(m.result.Output); err != nil {
			return m, m.showToast("Failed to copy: "+err.Error(), toastError, 0)
		}
		return m, m.showToast(fmt.Sprintf("Copied result (%d chars)", len(m.result.Output)), toastSuccess, 0)
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// ─── Rendering ──────────────────────────────────────────────────────────────────

func (m Model) View() string {
	var body string
	switch m.view {
	case ViewLoading:
		body = m.renderLoading()
	case ViewModels:
		body = m.modelPicker.View(m.width - 4)
		if warn := m.renderDegraded(); warn != "" {
			body += "\n" + warn
		}
	case ViewTasks:
		body = m.taskPicker.View(m.width - 4)
	case ViewInput:
		body = dialogTitleStyle.Render(m.taskID.Name()) + "  " + descStyle.Render(m.taskID.Description()) +
			"\n\n" + m.input.View()
	case ViewRunning:
		body = "  " + m.spinner.View() + " Running " + m.taskID.Name() + " on " + m.selected.Key() + "..."
	case ViewResult:
		body = m.renderViewportWithScrollbar()
	}

	parts := []string{m.renderHeader(), body}
	if m.status != "" {
		parts = append(parts, warnStyle.Render(m.status))
	}
	parts = append(parts, m.renderFooter())
	return m.overlayToasts(strings.Join(parts, "\n\n"))
}

func (m Model) renderHeader() string {
	header := titleStyle.Render("airefiner")
	if m.selected.ID != "" {
		header += " " + providerBadge.Render(string(m.selected.Provider)) + " " + modelBadge.Render(m.selected.ID)
	}
	if m.taskID != "" && m.view != ViewModels && m.view != ViewTasks {
		header += " " + taskBadge.Render(m.taskID.Name())
	}
	return header
}

func (m Model) renderLoading() string {
	if m.err != nil {
		return errorStyle.Render(m.err.Error())
	}
	return "  " + m.spinner.View() + " Loading models..."
}

func (m Model) renderDegraded() string {
	if len(m.degraded) == 0 {
		return ""
	}
	var names []string
	for _, id := range provider.All {
		if _, ok := m.degraded[id]; ok {
			names = append(names, string(id))
		}
	}
	return warnStyle.Render("Unavailable this refresh: " + strings.Join(names, ", "))
}

func (m Model) renderResultBody() string {
	if m.err != nil {
		return errorStyle.Render(m.err.Error())
	}
	if m.result == nil {
		return ""
	}
	var sb strings.Builder
	if d := m.result.Detection; d != nil {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("Detected %s (%s confidence, %.2f)", d.Language, langdetect.Level(d.Confidence), d.Confidence)))
		sb.WriteString("\n")
	}
	if m.result.Fallback {
		sb.WriteString(warnStyle.Render("Language unclear, refined instead of translating"))
		sb.WriteString("\n")
	} else if m.result.ResolvedTask != m.result.Task {
		sb.WriteString(dimStyle.Render("Routed to " + m.result.ResolvedTask.Name()))
		sb.WriteString("\n")
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(m.markdown.Render(m.result.Output))
	sb.WriteString("\n\n")
	attempts := "1 attempt"
	if m.result.Attempts != 1 {
		attempts = fmt.Sprintf("%d attempts", m.result.Attempts)
	}
	sb.WriteString(successStyle.Render("✓ ") + dimStyle.Render(fmt.Sprintf("%s · %s · %s",
		m.result.Duration.Round(time.Millisecond), attempts, m.result.RequestID)))
	return sb.String()
}

func (m Model) renderFooter() string {
	type binding struct{ key, desc string }
	var keys []binding
	switch m.view {
	case ViewLoading:
		if m.err != nil {
			keys = []binding{{"r", "retry"}, {"q", "quit"}}
		}
	case ViewModels:
		keys = []binding{{"↑/↓", "move"}, {"enter", "select"}, {"ctrl+r", "refresh"}, {"esc", "quit"}}
	case ViewTasks:
		keys = []binding{{"↑/↓", "move"}, {"enter", "select"}, {"esc", "models"}}
	case ViewInput:
		keys = []binding{{"ctrl+s", "run"}, {"alt+↑/↓", "history"}, {"esc", "tasks"}}
	case ViewRunning:
		keys = []binding{{"esc", "cancel"}}
	case ViewResult:
		if task.CanRefineFurther(m.taskCtx) && m.err == nil {
			keys = append(keys, binding{"r", "refine further"})
		}
		if m.err != nil {
			keys = append(keys, binding{"a", "try again"})
		} else {
			keys = append(keys, binding{"c", "copy"})
		}
		keys = append(keys, binding{"n", "new text"}, binding{"t", "task"}, binding{"m", "model"}, binding{"q", "quit"})
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, keybindStyle.Render(k.key)+" "+descStyle.Render(k.desc))
	}
	if m.view == ViewResult {
		if ind := m.scrollIndicator(); ind != "" {
			parts = append(parts, ind)
		}
	}
	return strings.Join(parts, dimStyle.Render("  ·  "))
}
