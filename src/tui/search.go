package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
)

// applyFilter rebuilds the table rows from the topic filter and search
// query, keeping the cursor on the same topic when it is still visible.
func (m *WatchModel) applyFilter() {
	var current string
	if e, ok := m.Selected(); ok {
		current = e.Topic
	}

	filter := m.header.GetFilter()
	query := strings.ToLower(m.searchQuery)

	m.visible = m.visible[:0]
	for _, topic := range m.Topics() {
		if filter != allTopics && topic != filter {
			continue
		}
		r := m.rows[topic]
		if query != "" &&
			!strings.Contains(strings.ToLower(topic), query) &&
			!strings.Contains(strings.ToLower(string(r.entry.Raw)), query) {
			continue
		}
		m.visible = append(m.visible, topic)
	}

	cols := m.table.Columns()
	valueWidth := 40
	if len(cols) > 0 {
		valueWidth = cols[len(cols)-1].Width
	}

	rows := make([]table.Row, len(m.visible))
	cursor := 0
	for i, topic := range m.visible {
		r := m.rows[topic]
		rows[i] = table.Row{
			topic,
			strconv.Itoa(int(r.entry.Partition)),
			strconv.FormatInt(r.entry.Offset, 10),
			strconv.Itoa(r.updates),
			r.entry.UpdatedAt.Format("15:04:05"),
			Truncate(CompactJSON(r.entry.Raw), valueWidth, true),
		}
		if topic == current {
			cursor = i
		}
	}
	m.table.SetRows(rows)
	m.table.SetCursor(cursor)
	m.updateDetailContent()
}
