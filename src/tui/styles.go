package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// StyleConfig holds all customizable style colors for the watch UI.
type StyleConfig struct {
	PrimaryBlue    lipgloss.Color
	AccentBlue     lipgloss.Color
	DarkBackground lipgloss.Color
	CardBackground lipgloss.Color
	TextPrimary    lipgloss.Color
	TextSecondary  lipgloss.Color
	BorderColor    lipgloss.Color
	SelectedColor  lipgloss.Color
	LiveColor      lipgloss.Color
	StoppedColor   lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:    lipgloss.Color("#8AB4F8"),
		AccentBlue:     lipgloss.Color("#4285F4"),
		DarkBackground: lipgloss.Color("#1E1E1E"),
		CardBackground: lipgloss.Color("#2D2D2D"),
		TextPrimary:    lipgloss.Color("#E8EAED"),
		TextSecondary:  lipgloss.Color("#9AA0A6"),
		BorderColor:    lipgloss.Color("#5F6368"),
		SelectedColor:  lipgloss.Color("#303134"),
		LiveColor:      lipgloss.Color("#34A853"),
		StoppedColor:   lipgloss.Color("#EA4335"),
	}
}

// HelpStyle returns a help text lipgloss style using this config
func (s *StyleConfig) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Padding(0, 2)
}

// PanelStyle returns a bordered container for the table and detail panels.
func (s *StyleConfig) PanelStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.BorderColor)
}

// TableStyles adapts the palette to bubbles/table.
func (s *StyleConfig) TableStyles() table.Styles {
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		Foreground(s.PrimaryBlue).
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(s.BorderColor)
	ts.Cell = ts.Cell.Foreground(s.TextPrimary)
	ts.Selected = ts.Selected.
		Foreground(s.TextPrimary).
		Background(s.SelectedColor).
		Bold(false)
	return ts
}
