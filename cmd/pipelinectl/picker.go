package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/monitor"
)

type pickerKeys struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	All     key.Binding
	Confirm key.Binding
	Cancel  key.Binding
}

var defaultPickerKeys = pickerKeys{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:  key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "toggle")),
	All:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all")),
	Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run")),
	Cancel:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "cancel")),
}

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("51")).
				Bold(true).
				Padding(0, 1)

	pickerCursorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("51")).
				Bold(true)

	pickerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("46"))

	pickerDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// picker lets the operator choose which tickets to run.
type picker struct {
	issues    []jira.Issue
	cursor    int
	selected  map[int]bool
	keys      pickerKeys
	done      bool
	cancelled bool
}

func newPicker(issues []jira.Issue) picker {
	return picker{issues: issues, selected: make(map[int]bool), keys: defaultPickerKeys}
}

// Chosen returns the selected issues in list order. A cancelled picker
// chooses nothing.
func (p picker) Chosen() []jira.Issue {
	if p.cancelled {
		return nil
	}
	var out []jira.Issue
	for i, issue := range p.issues {
		if p.selected[i] {
			out = append(out, issue)
		}
	}
	return out
}

func (p picker) Init() tea.Cmd { return nil }

func (p picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return p, nil
	}
	switch {
	case key.Matches(km, p.keys.Cancel):
		p.cancelled = true
		return p, tea.Quit
	case key.Matches(km, p.keys.Confirm):
		p.done = true
		return p, tea.Quit
	case key.Matches(km, p.keys.Up):
		if p.cursor > 0 {
			p.cursor--
		}
	case key.Matches(km, p.keys.Down):
		if p.cursor < len(p.issues)-1 {
			p.cursor++
		}
	case key.Matches(km, p.keys.Toggle):
		if len(p.issues) > 0 {
			p.selected[p.cursor] = !p.selected[p.cursor]
		}
	case key.Matches(km, p.keys.All):
		all := len(p.Chosen()) < len(p.issues)
		for i := range p.issues {
			p.selected[i] = all
		}
	}
	return p, nil
}

func (p picker) View() string {
	if p.done || p.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(pickerTitleStyle.Render(" Active tickets ") + "\n\n")
	for i, issue := range p.issues {
		cursor := "  "
		if i == p.cursor {
			cursor = pickerCursorStyle.Render("> ")
		}
		box := "[ ]"
		if p.selected[i] {
			box = pickerSelectedStyle.Render("[x]")
		}
		b.WriteString(fmt.Sprintf("%s%s %-10s %-8s %-14s %s\n",
			cursor, box, issue.Key,
			monitor.Truncate(issue.Priority, 8),
			monitor.Truncate(issue.Status, 14),
			monitor.Truncate(issue.Summary, 60)))
	}

	k := p.keys
	help := make([]string, 0, 6)
	for _, bnd := range []key.Binding{k.Up, k.Down, k.Toggle, k.All, k.Confirm, k.Cancel} {
		h := bnd.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString("\n" + pickerDimStyle.Render(strings.Join(help, " • ")) + "\n")
	return b.String()
}
