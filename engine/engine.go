package engine

import (
	"log"
	"sync"
	"time"

	"github.com/ftahirops/xconn/model"
	"golang.org/x/text/language"
)

// Feeder accepts snapshot batches from a stream subscription.
type Feeder interface {
	Feed(batch []model.Snapshot) FeedStats
	Base() *Engine
}

// Options configures a new Engine.
type Options struct {
	RetainClosed bool
	Sort         SortState
	Locale       language.Tag
	Now          func() time.Time // defaults to time.Now
	HistorySize  int              // throughput samples kept, default 120
}

// Engine owns the connection store and exposes the mutation surface
// (Feed, ToggleRetention, SetSort) and read surface (CurrentRows, Totals).
// Mutations are expected from a single writer; reads may come from anywhere.
type Engine struct {
	mu      sync.RWMutex
	store   *Store
	agg     *Aggregator
	history *History
	sorter  *Sorter
	sort    SortState
	now     func() time.Time

	version  uint64
	stats    FeedStats // cumulative
	lastFeed time.Time

	rows        []Row
	rowsVersion uint64
	rowsValid   bool
}

// NewEngine creates an engine with an empty store.
func NewEngine(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	locale := opts.Locale
	if locale == language.Und {
		locale = language.English
	}
	size := opts.HistorySize
	if size <= 0 {
		size = 120
	}
	agg := &Aggregator{}
	return &Engine{
		store:   NewStore(agg, opts.RetainClosed),
		agg:     agg,
		history: NewHistory(size),
		sorter:  NewSorter(locale),
		sort:    opts.Sort,
		now:     now,
	}
}

// Base returns itself for the default feeder.
func (e *Engine) Base() *Engine {
	return e
}

// Feed reconciles a batch of snapshots. Batches must not be fed concurrently;
// the lock only protects readers from observing a half-applied batch.
func (e *Engine) Feed(batch []model.Snapshot) FeedStats {
	if len(batch) == 0 {
		return FeedStats{}
	}
	e.mu.Lock()
	st := e.store.Feed(batch)
	for i := range batch {
		e.history.Push(model.Totals{Upload: batch[i].UploadTotal, Download: batch[i].DownloadTotal})
	}
	e.stats.Add(st)
	e.lastFeed = e.now()
	e.version++
	e.mu.Unlock()

	if st.Dropped > 0 || st.Regressions > 0 || st.Ignored > 0 {
		log.Printf("xconn: feed: %d dropped records, %d counter regressions, %d completed ids reappeared",
			st.Dropped, st.Regressions, st.Ignored)
	}
	return st
}

// ToggleRetention flips the keep-closed policy and returns the new value.
func (e *Engine) ToggleRetention() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	retain, purged := e.store.ToggleRetention()
	e.stats.Purged += purged
	e.version++
	return retain
}

// SetRetention sets the keep-closed policy, toggling only when it differs.
func (e *Engine) SetRetention(retain bool) {
	e.mu.RLock()
	same := e.store.RetainClosed() == retain
	e.mu.RUnlock()
	if !same {
		e.ToggleRetention()
	}
}

// SetSort advances the user sort for col and returns the resulting state.
func (e *Engine) SetSort(col Column) SortState {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.sort.Next(col)
	if next != e.sort {
		e.sort = next
		e.version++
	}
	return e.sort
}

// SetSortState replaces the user sort outright (used for configured defaults).
func (e *Engine) SetSortState(st SortState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st != e.sort {
		e.sort = st
		e.version++
	}
}

// CurrentRows returns the ordered, formatted rows for the current state.
// Rows are cached until the next mutation.
func (e *Engine) CurrentRows() []Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rowsValid || e.rowsVersion != e.version {
		rows := Project(e.store.Connections(), e.now())
		e.sorter.Order(rows, e.sort)
		e.rows = rows
		e.rowsVersion = e.version
		e.rowsValid = true
	}
	out := make([]Row, len(e.rows))
	copy(out, e.rows)
	return out
}

// Totals returns the latest global totals.
func (e *Engine) Totals() model.Totals {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.agg.Totals()
}

// Throughput returns global throughput samples, oldest first.
func (e *Engine) Throughput() []Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Samples()
}

// Counts returns the number of active and completed connections.
func (e *Engine) Counts() (active, closed int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Counts()
}

// Connection returns a copy of the tracked connection with the given id.
func (e *Engine) Connection(id string) (model.Connection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Get(id)
}

// RetainClosed reports whether completed connections are kept.
func (e *Engine) RetainClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.RetainClosed()
}

// Sort returns the current user sort.
func (e *Engine) Sort() SortState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sort
}

// Version increments on every mutation.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Stats returns cumulative feed statistics and the time of the last feed.
func (e *Engine) Stats() (FeedStats, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats, e.lastFeed
}
