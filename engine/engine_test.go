package engine

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ftahirops/xconn/model"
)

func newTestEngine(retain bool) *Engine {
	return NewEngine(Options{
		RetainClosed: retain,
		Now:          func() time.Time { return t0.Add(5 * time.Minute) },
	})
}

func TestEngineDefaultOrderActiveBeforeCompleted(t *testing.T) {
	e := newTestEngine(true)
	late := conn("late", 1, 1)
	late.Start = t0.Add(time.Minute)
	early := conn("early", 1, 1)
	early.Start = t0.Add(-time.Minute)
	gone := conn("gone", 1, 1)
	gone.Start = t0.Add(-time.Hour)

	e.Feed([]model.Snapshot{snap(late, early, gone)})
	e.Feed([]model.Snapshot{snap(late, early)})

	rows := e.CurrentRows()
	if got, want := ids(rows), []string{"early", "late", "gone"}; !equalIDs(got, want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	if !rows[2].Completed {
		t.Error("gone should be completed")
	}
}

func TestEngineVersionAndRowCache(t *testing.T) {
	e := newTestEngine(false)
	v0 := e.Version()
	e.Feed([]model.Snapshot{snap(conn("a", 1, 2))})
	if e.Version() != v0+1 {
		t.Fatalf("version after feed = %d", e.Version())
	}
	r1 := e.CurrentRows()
	r2 := e.CurrentRows()
	if len(r1) != 1 || len(r2) != 1 {
		t.Fatalf("rows = %d/%d", len(r1), len(r2))
	}
	r1[0].Host = "changed by caller"
	if e.CurrentRows()[0].Host == "changed by caller" {
		t.Error("callers must not be able to mutate cached rows")
	}

	e.SetSort(ColumnSpeed)
	if e.Version() != v0+1 {
		t.Error("no-op sort request should not bump the version")
	}
	if st := e.SetSort(ColumnHost); st != (SortState{ColumnHost, SortAsc}) {
		t.Errorf("sort = %+v", st)
	}
	if e.Version() != v0+2 {
		t.Errorf("version after sort = %d", e.Version())
	}
	e.ToggleRetention()
	if e.Version() != v0+3 {
		t.Errorf("version after toggle = %d", e.Version())
	}
	e.Feed(nil)
	if e.Version() != v0+3 {
		t.Error("empty batch should not bump the version")
	}
}

func TestEngineToggleRetentionPurges(t *testing.T) {
	e := newTestEngine(true)
	e.Feed([]model.Snapshot{snap(conn("a", 1, 1), conn("b", 1, 1))})
	e.Feed([]model.Snapshot{snap(conn("a", 1, 1))})
	if _, closed := e.Counts(); closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	if e.ToggleRetention() {
		t.Fatal("retention should now be off")
	}
	if len(e.CurrentRows()) != 1 {
		t.Errorf("completed rows survived the toggle")
	}
	e.SetRetention(true)
	if !e.RetainClosed() {
		t.Error("SetRetention(true) did not apply")
	}
}

func TestEngineTotals(t *testing.T) {
	e := newTestEngine(false)
	e.Feed([]model.Snapshot{{UploadTotal: 10, DownloadTotal: 20}, {UploadTotal: 11, DownloadTotal: 25}})
	if got := e.Totals(); got != (model.Totals{Upload: 11, Download: 25}) {
		t.Errorf("totals = %+v", got)
	}
	st, last := e.Stats()
	if st.Snapshots != 2 || !last.Equal(t0.Add(5*time.Minute)) {
		t.Errorf("stats = %+v at %v", st, last)
	}
}

func TestProjectOne(t *testing.T) {
	c := model.Connection{
		ID:          "x",
		Start:       t0,
		Upload:      1024,
		Download:    3 << 20,
		Speed:       model.Speed{Upload: 100},
		Chains:      []string{"hk-01", "Auto", "Proxy"},
		Rule:        "GeoSite",
		RulePayload: "google",
		Metadata: model.Metadata{
			Network: "tcp", Type: "Socks5",
			SourceIP: "192.168.1.2", SourcePort: "51234",
			DestinationIP: "142.250.1.1", DestinationPort: "443",
			ProcessPath: "/usr/bin/curl",
		},
	}
	r := ProjectOne(&c, t0.Add(3*time.Minute))
	checks := []struct{ name, got, want string }{
		{"host", r.Host, "142.250.1.1:443"},
		{"type", r.Type, "Socks5(tcp)"},
		{"chains", r.Chains, "Proxy / Auto / hk-01"},
		{"rule", r.Rule, "GeoSite(google)"},
		{"upload", r.Upload, "1.00 KB"},
		{"download", r.Download, "3.00 MB"},
		{"speed", r.Speed, "↑ 100 B/s"},
		{"source", r.Source, "192.168.1.2:51234"},
		{"destination", r.Destination, "142.250.1.1:443"},
		{"process", r.Process, "curl"},
		{"time", r.Time, "3 minutes ago"},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Errorf("%s = %q, want %q", ck.name, ck.got, ck.want)
		}
	}
	if c.Chains[0] != "hk-01" {
		t.Error("ProjectOne mutated the connection chains")
	}

	c.Metadata.Host = "www.google.com"
	c.RulePayload = ""
	r = ProjectOne(&c, t0)
	if r.Host != "www.google.com:443" || r.Rule != "GeoSite" {
		t.Errorf("host/rule = %q/%q", r.Host, r.Rule)
	}
	if r.Cell(ColumnHost) != r.Host || r.Cell(ColumnProcess) != "curl" {
		t.Error("Cell does not match fields")
	}
}

func TestRecorderWritesFramesThatReplay(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(false)
	rec := NewRecorder(e, &buf)
	rec.now = func() time.Time { return t0 }

	rec.Feed([]model.Snapshot{snap(conn("a", 1, 1))})
	rec.Feed(nil)
	rec.Feed([]model.Snapshot{snap(conn("a", 5, 9)), snap(conn("a", 6, 9))})
	if rec.Base() != e {
		t.Fatal("Base should return the wrapped engine")
	}
	if c, _ := e.Connection("a"); c.Upload != 6 {
		t.Fatalf("engine not fed through recorder: %+v", c)
	}

	// a bad frame in the middle is skipped
	lines := strings.SplitAfter(buf.String(), "\n")
	bad, _ := json.Marshal(map[string]any{"time": "not a time"})
	stream := lines[0] + string(bad) + "\n" + strings.Join(lines[1:], "")

	frames, err := ReadFrames(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if len(frames[1].Snapshots) != 2 || !frames[0].Time.Equal(t0) {
		t.Errorf("frames = %+v", frames)
	}

	replay := newTestEngine(false)
	for _, f := range frames {
		replay.Feed(f.Snapshots)
	}
	if c, _ := replay.Connection("a"); c.Speed != (model.Speed{Upload: 1}) {
		t.Errorf("replayed speed = %+v", c.Speed)
	}
}
