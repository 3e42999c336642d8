package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

const allTopics = "ALL"

// Header represents the top status bar component.
type Header struct {
	source         string
	live           bool
	selectedFilter string
	topics         []string
	searchQuery    string
	searchMode     bool
	styles         *StyleConfig
}

// NewHeader creates a header for the given broker description.
func NewHeader(source string, styles *StyleConfig) Header {
	if styles == nil {
		styles = DefaultStyles()
	}
	return Header{
		source:         source,
		live:           true,
		selectedFilter: allTopics,
		styles:         styles,
	}
}

// SetTopics sets the topics the filter cycles through.
func (h *Header) SetTopics(topics []string) {
	h.topics = topics
}

// SetLive marks whether updates are still arriving.
func (h *Header) SetLive(live bool) {
	h.live = live
}

// GetFilter returns the current topic filter
func (h Header) GetFilter() string {
	return h.selectedFilter
}

// CycleFilter cycles to the next topic filter
func (h *Header) CycleFilter() {
	filters := append([]string{allTopics}, h.topics...)
	currentIndex := 0
	for i, f := range filters {
		if f == h.selectedFilter {
			currentIndex = i
			break
		}
	}
	h.selectedFilter = filters[(currentIndex+1)%len(filters)]
}

// SetSearch updates the search state
func (h *Header) SetSearch(query string, mode bool) {
	h.searchQuery = query
	h.searchMode = mode
}

// Render renders the header
func (h Header) Render(width int) string {
	sectionStyle := lipgloss.NewStyle().
		Foreground(h.styles.PrimaryBlue).
		Bold(true).
		Padding(0, 2)

	state, stateColor := "● live", h.styles.LiveColor
	if !h.live {
		state, stateColor = "○ stopped", h.styles.StoppedColor
	}
	status := lipgloss.NewStyle().Foreground(stateColor).Bold(true).Padding(0, 2).Render(state)
	source := sectionStyle.Render(h.source)
	filter := sectionStyle.Render(fmt.Sprintf("Topic: %s", h.selectedFilter))

	var searchText string
	switch {
	case h.searchMode:
		searchText = fmt.Sprintf("Search: %s█", h.searchQuery)
	case h.searchQuery != "":
		searchText = fmt.Sprintf("Search: %s", h.searchQuery)
	default:
		searchText = "[/] to search"
	}
	searchStyle := lipgloss.NewStyle().
		Foreground(h.styles.TextSecondary).
		Padding(0, 2)
	if h.searchMode {
		searchStyle = searchStyle.Foreground(h.styles.PrimaryBlue)
	}
	search := searchStyle.Render(searchText)

	content := lipgloss.JoinHorizontal(lipgloss.Left, status, source, filter, search)
	content = TruncateStyled(content, width)

	headerStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(h.styles.BorderColor).
		Width(width)

	return headerStyle.Render(content)
}
