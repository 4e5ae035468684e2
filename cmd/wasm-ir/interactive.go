package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/check"
	"github.com/wippyai/wasm-ir/pipeline"
	"github.com/wippyai/wasm-ir/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var views = []string{"ir", "tree", "wasm"}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateView
	stateInputArgs
	stateShowResult
)

type funcInfo struct {
	name    string // export name, empty when not exported
	outcome pipeline.Outcome
	params  []wasm.ValType
	results []wasm.ValType
}

type interactiveModel struct {
	err      error
	checker  *check.Checker
	src      *wasm.Module
	funcs    []funcInfo
	orig     []byte
	out      []byte
	opts     options
	result   string
	input    textinput.Model
	viewport viewport.Model
	selected int
	mode     int
	width    int
	height   int
	state    modelState
	loaded   bool
}

func newInteractiveModel(o options) *interactiveModel {
	vp := viewport.New(80, 20)
	return &interactiveModel{opts: o, viewport: vp, state: stateSelectFunc}
}

type loadedMsg struct {
	err     error
	checker *check.Checker
	src     *wasm.Module
	funcs   []funcInfo
	orig    []byte
	out     []byte
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	ctx := context.Background()

	data, err := os.ReadFile(m.opts.in)
	if err != nil {
		return loadedMsg{err: err}
	}
	cfg, err := config(m.opts, zap.NewNop())
	if err != nil {
		return loadedMsg{err: err}
	}
	out, res, err := pipeline.Run(ctx, data, cfg)
	if res == nil || res.Module == nil {
		return loadedMsg{err: err}
	}

	src := res.IR.Source
	funcs := make([]funcInfo, len(res.Outcomes))
	for i, oc := range res.Outcomes {
		fi := funcInfo{name: res.IR.Funcs[oc.Index].Name, outcome: oc}
		if ft := src.GetFuncType(oc.Index); ft != nil {
			fi.params, fi.results = ft.Params, ft.Results
		}
		funcs[i] = fi
	}
	return loadedMsg{funcs: funcs, src: src, orig: data, out: out, checker: check.New(ctx, nil)}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-5, 3)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m.quit()

		case "q":
			if m.state != stateInputArgs {
				return m.quit()
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
				return m, nil
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
				return m, nil
			}

		case "tab":
			if m.state == stateView {
				m.mode = (m.mode + 1) % len(views)
				m.refresh()
				return m, nil
			}

		case "c":
			if m.state == stateView && m.funcs[m.selected].name != "" {
				m.prepareInput()
				if len(m.funcs[m.selected].params) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, textinput.Blink
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) > 0 {
					m.state = stateView
					m.refresh()
				}
				return m, nil
			case stateInputArgs:
				return m, m.callFunction
			case stateShowResult:
				m.state = stateView
				m.result, m.err = "", nil
				return m, nil
			}

		case "esc":
			switch m.state {
			case stateView:
				m.state = stateSelectFunc
			case stateInputArgs, stateShowResult:
				m.state = stateView
				m.result, m.err = "", nil
			}
			return m, nil
		}

	case loadedMsg:
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs, m.src, m.orig, m.out, m.checker = msg.funcs, msg.src, msg.orig, msg.out, msg.checker

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	var cmd tea.Cmd
	switch m.state {
	case stateInputArgs:
		m.input, cmd = m.input.Update(msg)
	case stateView:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *interactiveModel) quit() (tea.Model, tea.Cmd) {
	if m.checker != nil {
		_ = m.checker.Close(context.Background())
	}
	return m, tea.Quit
}

func (m *interactiveModel) refresh() {
	fi := m.funcs[m.selected]
	text, err := render(m.src, fi.outcome, views[m.mode])
	if err != nil {
		text = errorStyle.Render(err.Error())
	}
	if fi.outcome.Err != nil {
		text = errorStyle.Render(fi.outcome.Err.Error()) + "\n\n" + text
	}
	m.viewport.SetContent(text)
	m.viewport.GotoTop()
}

func (m *interactiveModel) prepareInput() {
	f := m.funcs[m.selected]
	ti := textinput.New()
	ti.Prompt = "args: "
	ti.Placeholder = typeList(f.params)
	ti.Width = 40
	ti.Focus()
	m.input = ti
}

// callFunction runs the selected export in both modules.
func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()
	f := m.funcs[m.selected]
	args, err := encodeArgs(f.params, m.input.Value())
	if err != nil {
		return callResultMsg{err: err}
	}
	calls := []check.Call{{Export: f.name, Args: args}}

	var b strings.Builder
	for _, side := range []struct {
		label string
		bin   []byte
	}{{"original ", m.orig}, {"rewritten", m.out}} {
		res, err := m.checker.Run(ctx, side.bin, calls)
		if err != nil {
			return callResultMsg{err: err}
		}
		b.WriteString(side.label + "  ")
		if res[0].Trapped() {
			b.WriteString(errorStyle.Render("trap: " + res[0].Err.Error()))
		} else {
			b.WriteString(resultStyle.Render(formatValues(f.results, res[0].Values)))
		}
		b.WriteString("\n")
	}
	return callResultMsg{result: b.String()}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if !m.loaded {
		return "Transforming module..."
	}
	if len(m.funcs) == 0 {
		return "Module defines no functions.\n\nPress q to quit."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("WASM IR"))
	b.WriteString(" ")
	b.WriteString(m.opts.in)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function:\n\n")
		for i, f := range m.funcs {
			line := m.formatFunc(f)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter inspect • q quit"))

	case stateView:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("%s  [%s]\n", m.formatFunc(f), typeStyle.Render(views[m.mode])))
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		help := "tab ir/tree/wasm • ↑/↓ scroll • esc back"
		if f.name != "" {
			help += " • c call"
		}
		b.WriteString(helpStyle.Render(help))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		b.WriteString(m.input.View())
		b.WriteString(" ")
		b.WriteString(typeStyle.Render(typeList(f.params)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("comma-separated • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(m.result)
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	name := fmt.Sprintf("func %d", f.outcome.Index)
	if f.name != "" {
		name += " " + f.name
	}
	sig := "(" + typeStyle.Render(typeList(f.params)) + ")"
	if len(f.results) > 0 {
		sig += " -> " + typeStyle.Render(typeList(f.results))
	}
	status := resultStyle.Render("ok")
	switch {
	case f.outcome.Err != nil:
		status = errorStyle.Render(string(f.outcome.Stage) + " failed")
	case !f.outcome.OK():
		status = helpStyle.Render(string(f.outcome.Stage))
	case f.outcome.Tree.Dispatches > 0:
		status += typeStyle.Render(fmt.Sprintf(" +%d dispatch", f.outcome.Tree.Dispatches))
	}
	return funcStyle.Render(name) + sig + "  " + status
}

func typeList(ts []wasm.ValType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func runInteractive(o options) error {
	p := tea.NewProgram(newInteractiveModel(o), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
