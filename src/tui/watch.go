// Package tui provides the terminal watch view for topicbus: a live table of
// the last value seen on each topic, fed by a broker.Cache.
package tui

import (
	"sort"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"topicbus/src/broker"
)

// EntryMsg carries a cache update into the program.
type EntryMsg broker.Entry

// WatchClosedMsg is sent once the cache watch channel is closed.
type WatchClosedMsg struct{}

// row is the model's copy of one topic.
type row struct {
	entry   broker.Entry
	updates int
}

// WatchModel is the Bubble Tea model for the watch view.
type WatchModel struct {
	updates <-chan broker.Entry
	styles  *StyleConfig
	header  Header

	table    table.Model
	detail   viewport.Model
	progress ProgressModel

	rows    map[string]*row
	visible []string // topics currently in the table, in row order

	searchMode  bool
	searchQuery string

	width  int
	height int
	ready  bool
}

// NewWatchModel creates a model that renders updates from a Cache.Watch
// channel. source describes the broker in the header.
func NewWatchModel(source string, updates <-chan broker.Entry) WatchModel {
	styles := DefaultStyles()
	t := table.New(
		table.WithColumns(columnsFor(80)),
		table.WithFocused(true),
		table.WithStyles(styles.TableStyles()),
	)
	return WatchModel{
		updates:  updates,
		styles:   styles,
		header:   NewHeader(source, styles),
		table:    t,
		detail:   viewport.New(0, 0),
		progress: NewProgressModel(),
		rows:     make(map[string]*row),
	}
}

// WaitForEntry reads the next update from ch.
func WaitForEntry(ch <-chan broker.Entry) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return WatchClosedMsg{}
		}
		return EntryMsg(e)
	}
}

// Init starts listening for updates. Required by tea.Model interface.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(WaitForEntry(m.updates), SpinnerTick())
}

// Update handles messages and updates the model state.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizeComponents()
		return m, nil

	case EntryMsg:
		m.apply(broker.Entry(msg))
		return m, WaitForEntry(m.updates)

	case WatchClosedMsg:
		m.header.SetLive(false)
		return m, nil

	case ProgressMsg, SpinnerTickMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		if _, tick := msg.(SpinnerTickMsg); tick && len(m.rows) > 0 {
			// Stop animating once there is data to show.
			cmd = nil
		}
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.updateSearch(msg), nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "/":
			m.searchMode = true
			m.header.SetSearch(m.searchQuery, true)
			return m, nil
		case "tab":
			m.header.CycleFilter()
			m.applyFilter()
			return m, nil
		case "esc":
			if m.searchQuery != "" {
				m.searchQuery = ""
				m.header.SetSearch("", false)
				m.applyFilter()
			}
			return m, nil
		case "J", "ctrl+d":
			m.detail.ScrollDown(1)
			return m, nil
		case "K", "ctrl+u":
			m.detail.ScrollUp(1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	m.updateDetailContent()
	return m, cmd
}

// updateSearch edits the query while search mode is active.
func (m WatchModel) updateSearch(msg tea.KeyMsg) WatchModel {
	switch msg.Type {
	case tea.KeyEnter:
		m.searchMode = false
	case tea.KeyEsc:
		m.searchMode = false
		m.searchQuery = ""
	case tea.KeyBackspace:
		if r := []rune(m.searchQuery); len(r) > 0 {
			m.searchQuery = string(r[:len(r)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.searchQuery += string(msg.Runes)
	}
	m.header.SetSearch(m.searchQuery, m.searchMode)
	m.applyFilter()
	return m
}

// apply records an update and refreshes the table.
func (m *WatchModel) apply(e broker.Entry) {
	r, ok := m.rows[e.Topic]
	if !ok {
		r = &row{}
		m.rows[e.Topic] = r
		m.header.SetTopics(m.Topics())
	}
	r.entry = e
	r.updates++
	m.applyFilter()
}

// Topics returns every topic seen so far, sorted.
func (m WatchModel) Topics() []string {
	out := make([]string, 0, len(m.rows))
	for t := range m.rows {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Selected returns the entry under the cursor.
func (m WatchModel) Selected() (broker.Entry, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.visible) {
		return broker.Entry{}, false
	}
	return m.rows[m.visible[i]].entry, true
}

// Updates reports how many updates topic has received while watching.
func (m WatchModel) Updates(topic string) int {
	if r, ok := m.rows[topic]; ok {
		return r.updates
	}
	return 0
}
