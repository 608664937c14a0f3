package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ftahirops/xconn/config"
	"github.com/ftahirops/xconn/engine"
	"github.com/ftahirops/xconn/model"
	"github.com/ftahirops/xconn/source"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeTerm struct {
	closedAll bool
	closed    []string
	err       error
}

func (f *fakeTerm) CloseAll(ctx context.Context) error {
	f.closedAll = true
	return f.err
}

func (f *fakeTerm) CloseConnection(ctx context.Context, id string) error {
	f.closed = append(f.closed, id)
	return f.err
}

func conn(id string, start time.Time) model.Connection {
	return model.Connection{
		ID:       id,
		Start:    start,
		Upload:   10,
		Download: 20,
		Chains:   []string{"node", "Proxy"},
		Rule:     "Match",
		Metadata: model.Metadata{Host: id + ".example", DestinationPort: "443", Network: "tcp", Type: "HTTP"},
	}
}

func newTestModel(term Terminator) Model {
	eng := engine.NewEngine(engine.Options{Now: func() time.Time { return t0.Add(time.Minute) }})
	m := NewModel(eng, term)
	m.now = func() time.Time { return t0 }
	next, _ := m.Update(tea.WindowSizeMsg{Width: 200, Height: 20})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func batch(conns ...model.Connection) BatchMsg {
	return BatchMsg{{UploadTotal: 100, DownloadTotal: 200, Connections: conns}}
}

func TestBatchMsgFeedsEngine(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, batch(conn("a", t0), conn("b", t0.Add(time.Second))))

	if len(m.rows) != 2 || m.rows[0].ID != "a" {
		t.Fatalf("rows = %+v", m.rows)
	}
	if m.state != source.StateConnected {
		t.Errorf("state = %v, want connected after first batch", m.state)
	}
	view := m.View()
	for _, want := range []string{"a.example:443", "b.example:443", "active", "Host"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestSelectionFollowsConnectionID(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, batch(conn("a", t0), conn("b", t0.Add(time.Second))))
	m, _ = update(t, m, key("j"))
	if m.selectedID != "b" {
		t.Fatalf("selected = %q", m.selectedID)
	}
	// an older connection appears and shifts b down
	m, _ = update(t, m, batch(conn("z", t0.Add(-time.Hour)), conn("a", t0), conn("b", t0.Add(time.Second))))
	if m.rows[m.selected].ID != "b" {
		t.Errorf("selection moved to %q", m.rows[m.selected].ID)
	}
}

func TestSortKeyCyclesColumn(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, batch(conn("a", t0), conn("b", t0.Add(time.Second))))

	m, _ = update(t, m, key("enter"))
	if st := m.engine.Sort(); st != (engine.SortState{Column: engine.ColumnHost, Dir: engine.SortAsc}) {
		t.Fatalf("sort = %+v", st)
	}
	m, _ = update(t, m, key("s"))
	if m.rows[0].ID != "b" {
		t.Errorf("host desc first row = %q", m.rows[0].ID)
	}

	for i := 0; i < int(engine.ColumnSpeed); i++ {
		m, _ = update(t, m, key("right"))
	}
	before := m.engine.Sort()
	m, _ = update(t, m, key("enter"))
	if m.engine.Sort() != before {
		t.Error("speed column should not change the sort")
	}
	if !strings.Contains(m.status, "not sortable") {
		t.Errorf("status = %q", m.status)
	}
}

func TestToggleKeepClosed(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, batch(conn("a", t0), conn("b", t0)))
	m, _ = update(t, m, key("c"))
	if !m.engine.RetainClosed() {
		t.Fatal("retention should be on")
	}
	m, _ = update(t, m, batch(conn("a", t0)))
	if len(m.rows) != 2 || !m.rows[1].Completed {
		t.Fatalf("rows = %+v, want b retained as completed", m.rows)
	}
	m, _ = update(t, m, key("c"))
	if len(m.rows) != 1 {
		t.Errorf("rows after toggle off = %d, want 1", len(m.rows))
	}
}

func TestCloseAllConfirm(t *testing.T) {
	term := &fakeTerm{}
	m := newTestModel(term)
	m, _ = update(t, m, key("X"))
	if !m.confirmCloseAll {
		t.Fatal("expected confirmation prompt")
	}
	m, cmd := update(t, m, key("n"))
	if cmd != nil || m.confirmCloseAll {
		t.Fatal("n should cancel")
	}

	m, _ = update(t, m, key("X"))
	m, cmd = update(t, m, key("y"))
	if cmd == nil {
		t.Fatal("y should issue the close command")
	}
	msg := cmd()
	if !term.closedAll {
		t.Error("CloseAll not called")
	}
	m, _ = update(t, m, msg)
	if m.status != "all connections closed" {
		t.Errorf("status = %q", m.status)
	}
}

func TestCloseFailureSurfaced(t *testing.T) {
	term := &fakeTerm{err: errors.New("401 Unauthorized")}
	m := newTestModel(term)
	m, _ = update(t, m, batch(conn("a", t0)))
	m, cmd := update(t, m, key("d"))
	if cmd == nil {
		t.Fatal("d should issue a close command")
	}
	m, _ = update(t, m, cmd())
	if len(term.closed) != 1 || term.closed[0] != "a" {
		t.Errorf("closed = %v", term.closed)
	}
	if !strings.Contains(m.status, "401") {
		t.Errorf("status = %q, want the failure", m.status)
	}
}

func TestCloseWithoutController(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, batch(conn("a", t0)))
	for _, k := range []string{"X", "d"} {
		var cmd tea.Cmd
		m, cmd = update(t, m, key(k))
		if cmd != nil || m.confirmCloseAll {
			t.Errorf("%s without controller should do nothing", k)
		}
	}
}

func TestConfigMsgAppliesKeepClosed(t *testing.T) {
	m := newTestModel(nil)
	cfg := config.Default()
	cfg.KeepClosed = true
	m, _ = update(t, m, ConfigMsg(cfg))
	if !m.engine.RetainClosed() {
		t.Error("config reload should enable retention")
	}
}

func TestStreamStateShownInHeader(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, StreamStateMsg{State: source.StateReconnecting, Err: errors.New("eof")})
	if h := m.renderHeader(); !strings.Contains(h, "reconnecting: eof") {
		t.Errorf("header = %q", h)
	}
}

func TestVisibleColumnsKeepsCursor(t *testing.T) {
	cols := visibleColumns(60, engine.ColumnProcess)
	if cols[len(cols)-1] != engine.ColumnProcess {
		t.Errorf("cols = %v, want cursor column last", cols)
	}
	all := visibleColumns(1000, engine.ColumnHost)
	if len(all) != int(engine.ColumnCount) {
		t.Errorf("wide terminal shows %d columns", len(all))
	}
}

func TestControllerVersionInHeader(t *testing.T) {
	m := newTestModel(nil)
	m, _ = update(t, m, ControllerMsg(source.VersionInfo{Version: "v1.19.0", Meta: true}))
	if !strings.Contains(m.View(), "v1.19.0 meta") {
		t.Errorf("header missing controller version:\n%s", m.renderHeader())
	}
}
