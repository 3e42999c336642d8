package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Fixed column widths; topic and value share what is left.
const (
	partitionWidth = 4
	offsetWidth    = 10
	updatesWidth   = 7
	timeWidth      = 8
	minTopicWidth  = 12
	minValueWidth  = 16
	// columnPadding is the cell padding bubbles/table adds per column.
	columnPadding = 2
)

// panelDimensions holds calculated layout dimensions
type panelDimensions struct {
	innerWidth   int
	tableHeight  int
	detailHeight int
}

// calculateDimensions computes panel sizes based on terminal dimensions.
func (m WatchModel) calculateDimensions() panelDimensions {
	headerHeight := lipgloss.Height(m.header.Render(m.width))
	// header + help line (1) + two panels with borders (2 each)
	available := m.height - headerHeight - 1 - 4
	if available < 4 {
		available = 4
	}

	// Table gets 60%, detail the rest.
	tableHeight := available * 3 / 5
	return panelDimensions{
		innerWidth:   max(m.width-2, 20),
		tableHeight:  tableHeight,
		detailHeight: available - tableHeight,
	}
}

// columnsFor splits width between the table columns.
func columnsFor(width int) []table.Column {
	fixed := partitionWidth + offsetWidth + updatesWidth + timeWidth + 6*columnPadding
	rest := width - fixed
	topicWidth := max(rest/3, minTopicWidth)
	valueWidth := max(rest-topicWidth, minValueWidth)

	return []table.Column{
		{Title: "Topic", Width: topicWidth},
		{Title: "Part", Width: partitionWidth},
		{Title: "Offset", Width: offsetWidth},
		{Title: "Updates", Width: updatesWidth},
		{Title: "Time", Width: timeWidth},
		{Title: "Value", Width: valueWidth},
	}
}

// resizeComponents handles window resize events
func (m *WatchModel) resizeComponents() {
	dims := m.calculateDimensions()

	m.table.SetColumns(columnsFor(dims.innerWidth))
	m.table.SetWidth(dims.innerWidth)
	m.table.SetHeight(dims.tableHeight)

	m.detail.Width = dims.innerWidth
	m.detail.Height = dims.detailHeight

	// Row text depends on the value column width.
	m.applyFilter()
}

// View renders the complete TUI layout
func (m WatchModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := m.header.Render(m.width)

	if len(m.rows) == 0 {
		waiting := lipgloss.NewStyle().
			Width(m.width).
			Align(lipgloss.Center).
			PaddingTop(2).
			Render(m.progress.View())
		return lipgloss.JoinVertical(lipgloss.Left, header, waiting)
	}

	panel := m.styles.PanelStyle()
	tablePanel := panel.Render(m.table.View())
	detailPanel := panel.Render(m.detail.View())

	return lipgloss.JoinVertical(lipgloss.Left, header, tablePanel, detailPanel, m.renderHelpText())
}

// renderHelpText renders context-aware help text at the bottom
func (m WatchModel) renderHelpText() string {
	keyStyle := lipgloss.NewStyle().Foreground(m.styles.PrimaryBlue).Bold(true)
	sepStyle := lipgloss.NewStyle().Foreground(m.styles.TextSecondary)

	var parts []string
	if m.searchMode {
		parts = []string{
			keyStyle.Render("Enter") + ": Apply",
			keyStyle.Render("Esc") + ": Clear",
		}
	} else {
		parts = []string{
			keyStyle.Render("j/k") + ": Nav",
			keyStyle.Render("J/K") + ": Scroll value",
			keyStyle.Render("Tab") + ": Topic",
			keyStyle.Render("/") + ": Search",
			keyStyle.Render("q") + ": Quit",
		}
	}

	help := strings.Join(parts, fmt.Sprintf(" %s ", sepStyle.Render("•")))
	return m.styles.HelpStyle().Render(TruncateStyled(help, max(m.width-4, 1)))
}

// updateDetailContent shows the selected entry in the detail panel.
func (m *WatchModel) updateDetailContent() {
	e, ok := m.Selected()
	if !ok {
		m.detail.SetContent("")
		return
	}

	title := lipgloss.NewStyle().
		Foreground(m.styles.PrimaryBlue).
		Bold(true).
		Render(fmt.Sprintf("%s │ partition %d │ offset %d │ %s",
			e.Topic, e.Partition, e.Offset, e.UpdatedAt.Format("2006-01-02 15:04:05")))

	var lines []string
	for _, line := range SplitLines(IndentJSON(e.Raw)) {
		if VisualWidth(line) > m.detail.Width && m.detail.Width > 0 {
			line = Wrap(line, m.detail.Width)
		}
		lines = append(lines, line)
	}
	m.detail.SetContent(title + "\n\n" + strings.Join(lines, "\n"))
}
