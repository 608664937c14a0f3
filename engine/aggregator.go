package engine

import "github.com/ftahirops/xconn/model"

// Aggregator holds the controller's global cumulative counters.
// Each snapshot overwrites them; no history is kept.
type Aggregator struct {
	totals model.Totals
}

// Update overwrites the totals from a snapshot.
func (a *Aggregator) Update(s *model.Snapshot) {
	a.totals = model.Totals{Upload: s.UploadTotal, Download: s.DownloadTotal}
}

// Totals returns the most recent totals.
func (a *Aggregator) Totals() model.Totals {
	return a.totals
}
