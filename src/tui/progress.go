package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ASCII art logo lines for the waiting screen
var logo = []string{
	"▀█▀ █▀█ █▀█ █ █▀▀   █▄▄ █ █ █▀",
	" █  █▄█ █▀▀ █ █▄▄   █▄█ █▄█ ▄█",
}

// Gradient colors from light (top) to dark (bottom)
var logoGradientColors = []string{
	"#5DADE2",
	"#2874A6",
}

// Spinner frames for the loading animation
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ProgressMsg reports subscriber start-up, e.g. "Connecting" 1/3.
// Stage "complete" means every subscriber is dispatching.
type ProgressMsg struct {
	Stage   string
	Current int
	Total   int
}

// SpinnerTickMsg triggers spinner animation frame advance
type SpinnerTickMsg time.Time

// ProgressModel is shown until the first cache entry arrives.
type ProgressModel struct {
	stage        string
	current      int
	total        int
	done         bool
	spinnerFrame int
}

func NewProgressModel() ProgressModel {
	return ProgressModel{}
}

// SpinnerTick returns a command that sends SpinnerTickMsg after a delay
func SpinnerTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return SpinnerTickMsg(t)
	})
}

func (m ProgressModel) Update(msg tea.Msg) (ProgressModel, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.stage = msg.Stage
		m.current = msg.Current
		m.total = msg.Total
		if msg.Stage == "complete" {
			m.done = true
		}
	case SpinnerTickMsg:
		m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
		return m, SpinnerTick()
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var logoLines []string
	for i, line := range logo {
		color := logoGradientColors[i%len(logoGradientColors)]
		style := lipgloss.NewStyle().
			Foreground(lipgloss.Color(color)).
			Bold(true)
		logoLines = append(logoLines, style.Render(line))
	}
	art := strings.Join(logoLines, "\n")

	spinner := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Render(spinnerFrames[m.spinnerFrame])

	var statusLine string
	switch {
	case m.done:
		statusLine = fmt.Sprintf("%s Subscribed, waiting for messages...", spinner)
	case m.total > 0:
		pct := float64(m.current) / float64(m.total) * 100
		statusLine = fmt.Sprintf("%s %s (%d/%d, %.0f%%)", spinner, m.stage, m.current, m.total, pct)
	case m.stage != "":
		statusLine = fmt.Sprintf("%s %s...", spinner, m.stage)
	default:
		statusLine = fmt.Sprintf("%s Loading...", spinner)
	}

	return lipgloss.JoinVertical(lipgloss.Center, art, "", statusLine)
}
