// Package monitor renders a terminal dashboard over the loomd stats
// endpoint.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxSessionRows  = 8
)

// Model is the bubbletea dashboard model.
type Model struct {
	client     *Client
	interval   time.Duration
	lastUpdate time.Time
	stats      Stats
	err        error
	quitting   bool

	// Token throughput is derived from successive polls.
	prevTokens   int64
	prevPoll     time.Time
	tokenRate    float64
	tokenHistory []float64

	projectsProgress      progress.Model
	conversationsProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
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

// NewModel creates a dashboard polling client at the given interval.
func NewModel(client *Client, interval time.Duration) Model {
	return Model{
		client:   client,
		interval: interval,
		projectsProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(30),
		),
		conversationsProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(30),
		),
		tokenHistory: make([]float64, 0, historySize),
	}
}

// serviceBadge renders a status value from the services map.
func serviceBadge(status string) string {
	switch status {
	case "ok":
		return healthyStyle.Render("✓ ok")
	case "disabled":
		return dimStyle.Render("– disabled")
	default:
		return errorStyle.Render("✗ " + status)
	}
}

// statusBadge summarizes the daemon: the LLM being down is a warning,
// anything else unhealthy is an error.
func statusBadge(services map[string]string) string {
	for name, status := range services {
		if status == "ok" || status == "disabled" {
			continue
		}
		if name == "llm" {
			return warningStyle.Render("⚠ DEGRADED")
		}
		return errorStyle.Render("✗ ERROR")
	}
	return healthyStyle.Render("✓ HEALTHY")
}

// appendToHistory appends a value to history, maintaining max size.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data.
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type statsMsg Stats
type errMsg error

// Init starts the poll loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStats(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStats(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stats, err := client.Stats(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statsMsg(stats)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStats(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStats(m.client),
		)

	case statsMsg:
		now := time.Now()
		stats := Stats(msg)

		if !m.prevPoll.IsZero() {
			elapsed := now.Sub(m.prevPoll).Seconds()
			if elapsed > 0 && stats.TokensStreamed >= m.prevTokens {
				m.tokenRate = float64(stats.TokensStreamed-m.prevTokens) / elapsed
			}
		}
		m.tokenHistory = appendToHistory(m.tokenHistory, m.tokenRate)
		m.prevTokens = stats.TokensStreamed
		m.prevPoll = now

		m.stats = stats
		m.lastUpdate = now
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
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
	header := headerStyle.Render(" loom monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach loomd") + "\n"
	content += "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Is the daemon running? Try: loomd") + "\n"
	content += "\n"
	content += footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" loom monitor ")
	headerLine := fmt.Sprintf("%s   %s %s   %s %s   %s",
		statusBadge(m.stats.Services),
		dimStyle.Render("Version:"),
		valueStyle.Render(m.stats.Version),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatDuration(m.stats.UptimeSeconds)),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Generation activity.
	content += "\n" + sectionStyle.Render("┃ Generation") + "\n"
	content += labelStyle.Render("  Tokens: ") +
		valueStyle.Render(FormatTokenRate(m.tokenRate)) +
		"   " + createSparkline(m.tokenHistory) + "\n"
	content += labelStyle.Render("  Active sessions: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.stats.ActiveSessions)) + "\n"

	for i, sess := range m.stats.Sessions {
		if i == maxSessionRows {
			content += dimStyle.Render(fmt.Sprintf("    … %d more", len(m.stats.Sessions)-maxSessionRows)) + "\n"
			break
		}
		age := time.Since(sess.StartedAt).Round(time.Second)
		content += dimStyle.Render("    "+shortID(sess.ID)) +
			"  " + labelStyle.Render("conv ") + valueStyle.Render(shortID(sess.ConversationID)) +
			"  " + dimStyle.Render(age.String()) + "\n"
	}

	// LLM health.
	content += "\n" + sectionStyle.Render("┃ Inference") + "\n"
	content += labelStyle.Render("  llama.cpp: ") + serviceBadge(m.stats.Services["llm"]) + "\n"
	content += labelStyle.Render("  Events: ") + serviceBadge(m.stats.Services["events"]) + "\n"

	// Cache hit rates.
	content += "\n" + sectionStyle.Render("┃ Cache") + "\n"
	projects := m.stats.Cache.Projects
	content += labelStyle.Render("  Projects: ") +
		m.projectsProgress.ViewAs(projects.HitRate()) +
		" " + dimStyle.Render(fmt.Sprintf("%s  %d/%d", FormatPercentage(projects.HitRate()), projects.Hits, projects.Hits+projects.Misses)) + "\n"
	conversations := m.stats.Cache.Conversations
	content += labelStyle.Render("  Conversations: ") +
		m.conversationsProgress.ViewAs(conversations.HitRate()) +
		" " + dimStyle.Render(fmt.Sprintf("%s  %d/%d", FormatPercentage(conversations.HitRate()), conversations.Hits, conversations.Hits+conversations.Misses)) + "\n"

	// Store contents.
	content += "\n" + sectionStyle.Render("┃ Store") + "\n"
	content += labelStyle.Render("  Projects: ") + valueStyle.Render(fmt.Sprintf("%d", m.stats.Counts.Projects)) +
		labelStyle.Render("   Conversations: ") + valueStyle.Render(fmt.Sprintf("%d", m.stats.Counts.Conversations)) +
		labelStyle.Render("   Messages: ") + valueStyle.Render(fmt.Sprintf("%d", m.stats.Counts.Messages)) + "\n"
	content += labelStyle.Render("  Documents: ") + valueStyle.Render(fmt.Sprintf("%d", m.stats.Counts.Documents)) +
		labelStyle.Render("   Database: ") + valueStyle.Render(FormatBytes(m.stats.Counts.SizeBytes)) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
