package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ftahirops/xconn/config"
	"github.com/ftahirops/xconn/engine"
	"github.com/ftahirops/xconn/model"
	"github.com/ftahirops/xconn/source"
	"github.com/ftahirops/xconn/util"
)

// Terminator closes connections through the controller.
type Terminator interface {
	CloseAll(ctx context.Context) error
	CloseConnection(ctx context.Context, id string) error
}

// BatchMsg carries one batch from the stream subscription. It is fed inside
// Update so the engine only ever has one writer.
type BatchMsg []model.Snapshot

// StreamStateMsg reports a transport state change.
type StreamStateMsg struct {
	State source.State
	Err   error
}

// ControllerMsg carries the controller's version details.
type ControllerMsg source.VersionInfo

// ConfigMsg carries a reloaded config file.
type ConfigMsg config.Config

type closeResultMsg struct {
	id  string // empty for close-all
	err error
}

const (
	closeTimeout = 5 * time.Second
	statusTTL    = 5 * time.Second
	chromeLines  = 5 // header, throughput, status, table header, help
)

// Model is the bubbletea model.
type Model struct {
	feeder engine.Feeder
	engine *engine.Engine
	term   Terminator
	width  int
	height int

	rows        []engine.Row
	rowsVersion uint64
	selected    int
	selectedID  string
	offset      int
	colCursor   engine.Column

	state      source.State
	stateErr   error
	controller string

	confirmCloseAll bool
	showHelp        bool

	status     string
	statusTime time.Time
	now        func() time.Time
}

// NewModel creates the TUI model. term may be nil when no controller is
// available (replay), in which case close actions are refused.
func NewModel(feeder engine.Feeder, term Terminator) Model {
	return Model{
		feeder: feeder,
		engine: feeder.Base(),
		term:   term,
		state:  source.StateConnecting,
		now:    time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func closeAll(term Terminator) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		return closeResultMsg{err: term.CloseAll(ctx)}
	}
}

func closeOne(term Terminator, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		return closeResultMsg{id: id, err: term.CloseConnection(ctx, id)}
	}
}

func (m *Model) setStatus(format string, args ...interface{}) {
	m.status = fmt.Sprintf(format, args...)
	m.statusTime = m.now()
}

// refresh pulls rows from the engine when its version moved and keeps the
// selection on the same connection id.
func (m *Model) refresh() {
	v := m.engine.Version()
	if v == m.rowsVersion && m.rows != nil {
		return
	}
	m.rows = m.engine.CurrentRows()
	m.rowsVersion = v
	idx := -1
	if m.selectedID != "" {
		for i := range m.rows {
			if m.rows[i].ID == m.selectedID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = m.selected
	}
	m.selectRow(idx)
}

func (m *Model) pageSize() int {
	n := m.height - chromeLines
	if n < 1 {
		n = 1
	}
	return n
}

func (m *Model) selectRow(i int) {
	if i >= len(m.rows) {
		i = len(m.rows) - 1
	}
	if i < 0 {
		i = 0
	}
	m.selected = i
	m.selectedID = ""
	if i < len(m.rows) {
		m.selectedID = m.rows[i].ID
	}
	page := m.pageSize()
	if m.selected < m.offset {
		m.offset = m.selected
	}
	if m.selected >= m.offset+page {
		m.offset = m.selected - page + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.selectRow(m.selected)
	case BatchMsg:
		m.feeder.Feed(msg)
		if m.state != source.StateConnected {
			m.state, m.stateErr = source.StateConnected, nil
		}
		m.refresh()
	case StreamStateMsg:
		m.state = msg.State
		m.stateErr = msg.Err
	case ControllerMsg:
		m.controller = controllerLabel(source.VersionInfo(msg))
	case ConfigMsg:
		cfg := config.Config(msg)
		if cfg.KeepClosed != m.engine.RetainClosed() {
			m.engine.SetRetention(cfg.KeepClosed)
			m.setStatus("config reloaded: keep closed %s", onOff(cfg.KeepClosed))
		}
		m.refresh()
	case closeResultMsg:
		switch {
		case msg.err != nil && msg.id == "":
			m.setStatus("close all failed: %v", msg.err)
		case msg.err != nil:
			m.setStatus("close %s failed: %v", msg.id, msg.err)
		case msg.id == "":
			m.setStatus("all connections closed")
		default:
			m.setStatus("closed %s", msg.id)
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.confirmCloseAll {
		m.confirmCloseAll = false
		switch key {
		case "y", "Y":
			m.setStatus("closing all connections...")
			return m, closeAll(m.term)
		case "ctrl+c":
			return m, tea.Quit
		}
		m.setStatus("close all cancelled")
		return m, nil
	}
	if m.showHelp {
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		m.showHelp = false
		return m, nil
	}

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "?":
		m.showHelp = true
	case "left", "h":
		if m.colCursor > 0 {
			m.colCursor--
		}
	case "right", "l":
		if m.colCursor < engine.ColumnCount-1 {
			m.colCursor++
		}
	case "enter", "s":
		if !m.colCursor.Sortable() {
			m.setStatus("%s column is not sortable", m.colCursor)
			break
		}
		st := m.engine.SetSort(m.colCursor)
		m.setStatus("sort: %s", st)
		m.refresh()
	case "c":
		retain := m.engine.ToggleRetention()
		m.setStatus("keep closed %s", onOff(retain))
		m.refresh()
	case "X":
		if m.term == nil {
			m.setStatus("no controller: close is unavailable")
			break
		}
		m.confirmCloseAll = true
	case "d":
		if m.term == nil {
			m.setStatus("no controller: close is unavailable")
			break
		}
		if m.selected >= len(m.rows) {
			break
		}
		r := m.rows[m.selected]
		if r.Completed {
			m.setStatus("%s is already closed", r.Host)
			break
		}
		m.setStatus("closing %s...", r.Host)
		return m, closeOne(m.term, r.ID)
	case "down", "j":
		m.selectRow(m.selected + 1)
	case "up", "k":
		m.selectRow(m.selected - 1)
	case "pgdown", "ctrl+d":
		m.selectRow(m.selected + m.pageSize())
	case "pgup", "ctrl+u":
		m.selectRow(m.selected - m.pageSize())
	case "g", "home":
		m.selectRow(0)
	case "G", "end":
		m.selectRow(len(m.rows) - 1)
	}
	return m, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")
	sb.WriteString(renderThroughput(m.engine.Throughput(), m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatusLine())
	sb.WriteString("\n")

	cols := visibleColumns(m.width, m.colCursor)
	sb.WriteString(renderTable(m.rows, cols, m.colCursor, m.engine.Sort(), m.selected, m.offset, m.pageSize()))

	content := strings.TrimRight(sb.String(), "\n")
	lines := strings.Split(content, "\n")
	if limit := m.height - 1; limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return strings.Join(lines, "\n") + "\n" + m.renderHelpBar()
}

func (m Model) renderHeader() string {
	totals := m.engine.Totals()
	active, closed := m.engine.Counts()

	badge := m.state.String()
	if m.stateErr != nil && m.state != source.StateConnected {
		badge += ": " + m.stateErr.Error()
	}
	parts := []string{
		titleStyle.Render("xconn"),
		kv("↑", util.FormatTraffic(totals.Upload)),
		kv("↓", util.FormatTraffic(totals.Download)),
		kv("active", fmt.Sprintf("%d", active)),
		kv("closed", fmt.Sprintf("%d", closed)),
		kv("keep closed", onOff(m.engine.RetainClosed())),
		kv("sort", m.engine.Sort().String()),
		stateStyle(m.state == source.StateConnected, m.stateErr != nil).Render("[" + badge + "]"),
	}
	if m.controller != "" {
		parts = append(parts, dimStyle.Render(m.controller))
	}
	return truncateStyled(strings.Join(parts, "  "), m.width)
}

func controllerLabel(v source.VersionInfo) string {
	if v.Version == "" {
		return ""
	}
	switch {
	case v.Premium:
		return v.Version + " premium"
	case v.Meta:
		return v.Version + " meta"
	}
	return v.Version
}

func (m Model) renderStatusLine() string {
	if m.confirmCloseAll {
		return critStyle.Render("Close ALL connections? (y/n)")
	}
	if m.status != "" && m.now().Sub(m.statusTime) < statusTTL {
		return warnStyle.Render(truncate(m.status, m.width))
	}
	if len(m.rows) > 0 && m.selected < len(m.rows) {
		r := m.rows[m.selected]
		line := fmt.Sprintf("%s  %s  %s", r.Host, r.Rule, r.Chains)
		return dimStyle.Render(truncate(line, m.width))
	}
	return ""
}

func (m Model) renderHelpBar() string {
	return helpStyle.Render(truncate("←/→ column  enter sort  c keep-closed  d close  X close all  j/k move  ? help  q quit", m.width))
}

func (m Model) renderHelp() string {
	lines := []string{
		titleStyle.Render("xconn keys"),
		"",
		styledPad(headerStyle.Render("←/→ h/l"), 12) + "move column cursor",
		styledPad(headerStyle.Render("enter s"), 12) + "cycle sort on column (asc, desc, off)",
		styledPad(headerStyle.Render("c"), 12) + "toggle keeping closed connections",
		styledPad(headerStyle.Render("d"), 12) + "close selected connection",
		styledPad(headerStyle.Render("X"), 12) + "close all connections (asks first)",
		styledPad(headerStyle.Render("j/k ↑/↓"), 12) + "move selection",
		styledPad(headerStyle.Render("g/G"), 12) + "top / bottom",
		styledPad(headerStyle.Render("q"), 12) + "quit",
		"",
		helpStyle.Render("press any key to return"),
	}
	return strings.Join(lines, "\n")
}

// truncateStyled cuts a rendered line to width cells.
func truncateStyled(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}
