package engine

import (
	"sort"
	"strings"

	"github.com/ftahirops/xconn/util"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Column identifies a table column.
type Column int

const (
	ColumnHost Column = iota
	ColumnType
	ColumnChains
	ColumnRule
	ColumnTime
	ColumnUpload
	ColumnDownload
	ColumnSpeed
	ColumnSource
	ColumnDestination
	ColumnProcess
	ColumnCount
)

var columnNames = []string{"host", "type", "chains", "rule", "time", "upload", "download", "speed", "source", "destination", "process"}

// speed is a composite of two rates and process is often empty; neither sorts.
var sortableColumns = map[Column]bool{
	ColumnHost:        true,
	ColumnType:        true,
	ColumnChains:      true,
	ColumnRule:        true,
	ColumnTime:        true,
	ColumnUpload:      true,
	ColumnDownload:    true,
	ColumnSource:      true,
	ColumnDestination: true,
}

func (c Column) String() string {
	if c < 0 || int(c) >= len(columnNames) {
		return "unknown"
	}
	return columnNames[c]
}

// Sortable reports whether sort requests on c have any effect.
func (c Column) Sortable() bool {
	return sortableColumns[c]
}

// ParseColumn looks up a column by name (case-insensitive).
func ParseColumn(name string) (Column, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range columnNames {
		if n == name {
			return Column(i), true
		}
	}
	return 0, false
}

// Direction is the state of the user sort.
type Direction int

const (
	SortNone Direction = iota
	SortAsc
	SortDesc
)

func (d Direction) String() string {
	switch d {
	case SortAsc:
		return "asc"
	case SortDesc:
		return "desc"
	}
	return "none"
}

// ParseDirection accepts "asc", "desc" or anything else as none.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	}
	return SortNone
}

// SortState is the single active user sort. The zero value means no user sort.
type SortState struct {
	Column Column
	Dir    Direction
}

// Active reports whether a user sort overrides the base order.
func (s SortState) Active() bool {
	return s.Dir != SortNone && s.Column.Sortable()
}

// Next returns the state after the user selects col: none -> asc -> desc -> none
// on the same column, asc on a different one. Unsortable columns are a no-op.
func (s SortState) Next(col Column) SortState {
	if !col.Sortable() {
		return s
	}
	if s.Dir == SortNone || s.Column != col {
		return SortState{Column: col, Dir: SortAsc}
	}
	switch s.Dir {
	case SortAsc:
		return SortState{Column: col, Dir: SortDesc}
	default:
		return SortState{Column: col, Dir: SortNone}
	}
}

func (s SortState) String() string {
	if !s.Active() {
		return "default"
	}
	return s.Column.String() + " " + s.Dir.String()
}

// Sorter orders rows: base order first, then the optional user sort.
// It holds a collator and is not safe for concurrent use.
type Sorter struct {
	coll *collate.Collator
}

// NewSorter creates a sorter comparing text columns in the given locale.
func NewSorter(tag language.Tag) *Sorter {
	return &Sorter{coll: collate.New(tag)}
}

// Order sorts rows in place.
func (s *Sorter) Order(rows []Row, st SortState) {
	sort.Slice(rows, func(i, j int) bool {
		return baseLess(&rows[i], &rows[j])
	})
	if !st.Active() {
		return
	}
	cmp := s.comparator(st.Column)
	desc := st.Dir == SortDesc
	// Stable so equal keys keep the base order.
	sort.SliceStable(rows, func(i, j int) bool {
		c := cmp(&rows[i], &rows[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// baseLess puts active rows before completed ones, then oldest start first, then id.
func baseLess(a, b *Row) bool {
	if a.Completed != b.Completed {
		return !a.Completed
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}

func (s *Sorter) comparator(col Column) func(a, b *Row) int {
	switch col {
	case ColumnUpload:
		return func(a, b *Row) int {
			return compareBytes(a.Upload, a.UploadBytes, b.Upload, b.UploadBytes)
		}
	case ColumnDownload:
		return func(a, b *Row) int {
			return compareBytes(a.Download, a.DownloadBytes, b.Download, b.DownloadBytes)
		}
	}
	return func(a, b *Row) int {
		return s.coll.CompareString(displayValue(a, col), displayValue(b, col))
	}
}

// compareBytes compares decoded display values, falling back to the raw
// counter when a value does not decode and for ties within rounding.
func compareBytes(aText string, aRaw int64, bText string, bRaw int64) int {
	av, aErr := util.ParseTraffic(aText)
	if aErr != nil {
		av = float64(aRaw)
	}
	bv, bErr := util.ParseTraffic(bText)
	if bErr != nil {
		bv = float64(bRaw)
	}
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	case aRaw < bRaw:
		return -1
	case aRaw > bRaw:
		return 1
	}
	return 0
}

func displayValue(r *Row, col Column) string {
	switch col {
	case ColumnHost:
		return r.Host
	case ColumnType:
		return r.Type
	case ColumnChains:
		return r.Chains
	case ColumnRule:
		return r.Rule
	case ColumnTime:
		return r.Time
	case ColumnUpload:
		return r.Upload
	case ColumnDownload:
		return r.Download
	case ColumnSpeed:
		return r.Speed
	case ColumnSource:
		return r.Source
	case ColumnDestination:
		return r.Destination
	case ColumnProcess:
		return r.Process
	}
	return ""
}

// Cell returns the display value of a row for col.
func (r *Row) Cell(col Column) string {
	return displayValue(r, col)
}
