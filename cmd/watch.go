package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ftahirops/xconn/config"
	"github.com/ftahirops/xconn/engine"
	"github.com/ftahirops/xconn/model"
	"github.com/ftahirops/xconn/source"
	"github.com/ftahirops/xconn/util"
)

// ── ANSI codes ──────────────────────────────────────────────────────────────

const (
	R = "\033[0m" // reset
	B = "\033[1m" // bold
	D = "\033[2m" // dim

	FCyn  = "\033[36m"
	FBWht = "\033[97m"
	BBlu  = "\033[44m"

	clearScreen = "\033[2J\033[H"
)

type watchOptions struct {
	Count int  // batches to print, 0 = until canceled
	Clear bool // clear the screen between tables
}

// subscribe forwards batches to a channel until ctx is done. The handler
// never blocks past ctx, so the source can always be closed.
func subscribe(ctx context.Context, src source.Source) (<-chan []model.Snapshot, func()) {
	ch := make(chan []model.Snapshot)
	unsub := src.Subscribe(func(batch []model.Snapshot) {
		select {
		case ch <- batch:
		case <-ctx.Done():
		}
	})
	return ch, unsub
}

// runWatch feeds every batch and prints the resulting table. Config reloads
// arrive on configs and are applied between batches.
func runWatch(ctx context.Context, feeder engine.Feeder, src source.Source,
	configs <-chan config.Config, out io.Writer, opts watchOptions) error {
	eng := feeder.Base()
	batches, unsub := subscribe(ctx, src)
	defer unsub()

	n := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n%sStopped.%s\n", D, R)
			return nil
		case c := <-configs:
			eng.SetRetention(c.KeepClosed)
		case batch := <-batches:
			feeder.Feed(batch)
			n++
			if opts.Clear {
				fmt.Fprint(out, clearScreen)
			}
			fmt.Fprintln(out, watchTitle(eng, n, opts.Count))
			fmt.Fprintln(out, renderPlainTable(eng.CurrentRows()))
			if opts.Count > 0 && n >= opts.Count {
				return nil
			}
		}
	}
}

func watchTitle(eng *engine.Engine, n, count int) string {
	totals := eng.Totals()
	active, closed := eng.Counts()
	iter := fmt.Sprintf("#%d", n)
	if count > 0 {
		iter = fmt.Sprintf("#%d/%d", n, count)
	}
	return fmt.Sprintf(" %s%s xconn v%s %s  %s  ↑ %s  ↓ %s  %sactive %d  closed %d  sort %s%s  %s",
		B, BBlu+FBWht, Version, R,
		B+time.Now().Format("15:04:05")+R,
		util.FormatTraffic(totals.Upload), util.FormatTraffic(totals.Download),
		FCyn, active, closed, eng.Sort(), R,
		D+iter+R)
}

// renderPlainTable renders rows as a borderless table for non-TUI output.
func renderPlainTable(rows []engine.Row) string {
	headers := make([]string, engine.ColumnCount)
	for c := engine.Column(0); c < engine.ColumnCount; c++ {
		headers[c] = strings.ToUpper(c.String())
	}
	data := make([][]string, len(rows))
	for i := range rows {
		cells := make([]string, engine.ColumnCount)
		for c := engine.Column(0); c < engine.ColumnCount; c++ {
			cells[c] = rows[i].Cell(c)
		}
		if rows[i].Completed {
			cells[engine.ColumnTime] += " (closed)"
		}
		data[i] = cells
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		Rows(data...)
	return t.String()
}

// jsonReport is the -json output.
type jsonReport struct {
	Time   time.Time    `json:"time"`
	Totals model.Totals `json:"totals"`
	Active int          `json:"active"`
	Closed int          `json:"closed"`
	Sort   string       `json:"sort"`
	Rows   []engine.Row `json:"rows"`
}

// runJSON feeds the first batch and prints the table as JSON.
func runJSON(ctx context.Context, feeder engine.Feeder, src source.Source, out io.Writer) error {
	batches, unsub := subscribe(ctx, src)
	defer unsub()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case batch := <-batches:
		feeder.Feed(batch)
	}
	return writeReport(feeder.Base(), out)
}

// snapshotter fetches one snapshot on demand.
type snapshotter interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// runJSONOnce feeds a single fetched snapshot and prints the report
// without opening the stream.
func runJSONOnce(ctx context.Context, feeder engine.Feeder, c snapshotter, out io.Writer) error {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("cannot fetch connections: %w", err)
	}
	feeder.Feed([]model.Snapshot{snap})
	return writeReport(feeder.Base(), out)
}

func writeReport(eng *engine.Engine, out io.Writer) error {
	active, closed := eng.Counts()
	report := jsonReport{
		Time:   time.Now(),
		Totals: eng.Totals(),
		Active: active,
		Closed: closed,
		Sort:   eng.Sort().String(),
		Rows:   eng.CurrentRows(),
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
