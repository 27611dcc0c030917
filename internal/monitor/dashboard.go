package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	api "github.com/fyrsmithlabs/pipelined/internal/http"
	"github.com/fyrsmithlabs/pipelined/internal/state"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxTicketRows   = 10
	maxJournalRows  = 8
)

// Model is the bubbletea model for `pipelinectl watch`.
type Model struct {
	client     *Client
	interval   time.Duration
	lastUpdate time.Time
	status     api.StatusResponse
	err        error
	quitting   bool
	now        func() time.Time

	trackedHistory []float64
	failingHistory []float64
	checksProgress progress.Model
}

// k9s-style palette.
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling client every interval.
func NewModel(client *Client, interval time.Duration) Model {
	return Model{
		client:   client,
		interval: interval,
		now:      time.Now,
		checksProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		trackedHistory: make([]float64, 0, historySize),
		failingHistory: make([]float64, 0, historySize),
	}
}

// statusBadge summarizes the snapshot: failing checks are an error,
// failed passes in the journal a warning.
func statusBadge(c api.StatusCounts) string {
	switch {
	case c.FailingChecks > 0:
		return errorStyle.Render("✗ CHECKS FAILING")
	case c.JournalErrors > 0:
		return warningStyle.Render("⚠ PASS ERRORS")
	default:
		return healthyStyle.Render("✓ HEALTHY")
	}
}

func healthBadge(h Health) string {
	switch h {
	case HealthPassing:
		return healthyStyle.Render("[✓]")
	case HealthRunning:
		return warningStyle.Render("[…]")
	case HealthFailing:
		return errorStyle.Render("[✗]")
	default:
		return dimStyle.Render("[-]")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// passingRatio is the share of tickets with checks whose checks all passed.
func passingRatio(tracked []state.TrackedTicket) (float64, bool) {
	var withChecks, passing int
	for _, t := range tracked {
		_, h := SummarizeChecks(t.Checks)
		if h == HealthUnknown {
			continue
		}
		withChecks++
		if h == HealthPassing {
			passing++
		}
	}
	if withChecks == 0 {
		return 0, false
	}
	return float64(passing) / float64(withChecks), true
}

type tickMsg time.Time
type statusMsg api.StatusResponse
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatus(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(status)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.client),
		)

	case statusMsg:
		m.status = api.StatusResponse(msg)
		m.trackedHistory = appendToHistory(m.trackedHistory, float64(m.status.Counts.Tracked))
		m.failingHistory = appendToHistory(m.failingHistory, float64(m.status.Counts.FailingChecks))
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" pipelined Status ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach pipelined") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()+StatusPath) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the daemon with `pipelined` or pass --server.") + "\n")
	b.WriteString(m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	counts := m.status.Counts

	lastUpdate := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("3:04:05 PM")
	}
	autopilot := m.status.AutopilotState
	if autopilot == "" {
		autopilot = "off"
	}

	b.WriteString(headerStyle.Render(" pipelined Status ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		statusBadge(counts),
		dimStyle.Render("Autopilot:"),
		valueStyle.Render(autopilot),
		dimStyle.Render(lastUpdate)))

	b.WriteString("\n" + sectionStyle.Render("┃ Supervision") + "\n")
	b.WriteString(labelStyle.Render("  Tracked: ") +
		valueStyle.Render(fmt.Sprintf("%-4d", counts.Tracked)) +
		dimStyle.Render(fmt.Sprintf("(%d resumed)", counts.Reconciled)) +
		"   " + createSparkline(m.trackedHistory) + "\n")
	b.WriteString(labelStyle.Render("  Failing: ") +
		valueStyle.Render(fmt.Sprintf("%-4d", counts.FailingChecks)) +
		dimStyle.Render(fmt.Sprintf("(%d fixes merged)", counts.SubPRsMerged)) +
		"   " + createSparkline(m.failingHistory) + "\n")

	if ratio, ok := passingRatio(m.status.Tracked); ok {
		b.WriteString(labelStyle.Render("  Checks: ") +
			m.checksProgress.ViewAs(ratio) +
			" " + dimStyle.Render(FormatPercentage(ratio)+" green") + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Tracked Tickets") + "\n")
	if len(m.status.Tracked) == 0 {
		b.WriteString(dimStyle.Render("  nothing under supervision") + "\n")
	}
	for i, t := range m.status.Tracked {
		if i == maxTicketRows {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d more", len(m.status.Tracked)-maxTicketRows)) + "\n")
			break
		}
		summary, health := SummarizeChecks(t.Checks)
		b.WriteString(fmt.Sprintf("  %s %s %s %s %s\n",
			healthBadge(health),
			valueStyle.Render(fmt.Sprintf("%-10s", t.Key)),
			labelStyle.Render(fmt.Sprintf("%-24s", Truncate(t.Repository, 24))),
			dimStyle.Render(fmt.Sprintf("%-16s", Stage(t))),
			dimStyle.Render(summary)))
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Recent Passes") + "\n")
	if len(m.status.Journal) == 0 {
		b.WriteString(dimStyle.Render("  no passes yet") + "\n")
	}
	now := m.now()
	for i, e := range m.status.Journal {
		if i == maxJournalRows {
			break
		}
		badge := healthyStyle.Render("[✓]")
		if e.Status == state.StatusError {
			badge = errorStyle.Render("[✗]")
		}
		b.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			badge,
			dimStyle.Render(fmt.Sprintf("%-10s", FormatAge(now.Sub(e.Time)))),
			valueStyle.Render(fmt.Sprintf("%-10s", e.IssueKey)),
			Truncate(e.Message, 60)))
	}

	b.WriteString(m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) footer() string {
	return "\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
}
