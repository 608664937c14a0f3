package engine

import (
	"github.com/ftahirops/xconn/model"
	"github.com/ftahirops/xconn/util"
)

// FeedStats summarizes what one Feed call changed.
type FeedStats struct {
	Snapshots   int
	Added       int
	Updated     int
	Closed      int
	Purged      int
	Dropped     int // malformed or invalid records skipped
	Regressions int // counters that went backwards, clamped to zero speed
	Ignored     int // completed ids that showed up again
}

// Add accumulates o into s.
func (s *FeedStats) Add(o FeedStats) {
	s.Snapshots += o.Snapshots
	s.Added += o.Added
	s.Updated += o.Updated
	s.Closed += o.Closed
	s.Purged += o.Purged
	s.Dropped += o.Dropped
	s.Regressions += o.Regressions
	s.Ignored += o.Ignored
}

// Store reconciles snapshots into the authoritative keyed connection set.
// It is not safe for concurrent use; Engine serializes access.
type Store struct {
	conns        map[string]*model.Connection
	retainClosed bool
	agg          *Aggregator
}

// NewStore creates an empty store feeding totals into agg.
func NewStore(agg *Aggregator, retainClosed bool) *Store {
	if agg == nil {
		agg = &Aggregator{}
	}
	return &Store{
		conns:        make(map[string]*model.Connection),
		retainClosed: retainClosed,
		agg:          agg,
	}
}

// Feed applies a batch of snapshots strictly in order.
func (s *Store) Feed(batch []model.Snapshot) FeedStats {
	var st FeedStats
	for i := range batch {
		s.apply(&batch[i], &st)
	}
	return st
}

func (s *Store) apply(snap *model.Snapshot, st *FeedStats) {
	st.Snapshots++
	s.agg.Update(snap)
	st.Dropped += snap.Malformed

	present := make(map[string]struct{}, len(snap.Connections)+len(snap.MalformedIDs))
	// An unusable record for a known id still proves the flow is alive.
	for _, id := range snap.MalformedIDs {
		present[id] = struct{}{}
	}
	applied := make(map[string]struct{}, len(snap.Connections))
	for i := range snap.Connections {
		in := &snap.Connections[i]
		if !in.Valid() {
			if in.ID != "" {
				present[in.ID] = struct{}{}
			}
			st.Dropped++
			continue
		}
		if _, dup := applied[in.ID]; dup {
			st.Dropped++
			continue
		}
		applied[in.ID] = struct{}{}
		present[in.ID] = struct{}{}

		cur, ok := s.conns[in.ID]
		switch {
		case !ok:
			c := in.Clone()
			c.Speed = model.Speed{}
			c.Completed = false
			s.conns[c.ID] = &c
			st.Added++
		case cur.Completed:
			st.Ignored++
		default:
			if util.Regressed(cur.Upload, in.Upload) || util.Regressed(cur.Download, in.Download) {
				st.Regressions++
			}
			speed := model.Speed{
				Upload:   util.Delta(cur.Upload, in.Upload),
				Download: util.Delta(cur.Download, in.Download),
			}
			start := cur.Start
			*cur = in.Clone()
			cur.Start = start
			cur.Speed = speed
			cur.Completed = false
			st.Updated++
		}
	}

	for id, c := range s.conns {
		if c.Completed {
			continue
		}
		if _, ok := present[id]; !ok {
			c.Completed = true
			c.Speed = model.Speed{}
			st.Closed++
		}
	}

	if !s.retainClosed {
		st.Purged += s.purgeCompleted()
	}
}

// ToggleRetention flips the keep-closed policy and returns the new value.
// Turning retention off purges completed entries immediately.
func (s *Store) ToggleRetention() (retain bool, purged int) {
	s.retainClosed = !s.retainClosed
	if !s.retainClosed {
		purged = s.purgeCompleted()
	}
	return s.retainClosed, purged
}

// RetainClosed reports the current keep-closed policy.
func (s *Store) RetainClosed() bool {
	return s.retainClosed
}

func (s *Store) purgeCompleted() int {
	n := 0
	for id, c := range s.conns {
		if c.Completed {
			delete(s.conns, id)
			n++
		}
	}
	return n
}

// Get returns a copy of the connection with the given id.
func (s *Store) Get(id string) (model.Connection, bool) {
	c, ok := s.conns[id]
	if !ok {
		return model.Connection{}, false
	}
	return c.Clone(), true
}

// Connections returns copies of every tracked connection in no particular order.
func (s *Store) Connections() []model.Connection {
	out := make([]model.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.Clone())
	}
	return out
}

// Counts returns the number of active and completed connections.
func (s *Store) Counts() (active, closed int) {
	for _, c := range s.conns {
		if c.Completed {
			closed++
		} else {
			active++
		}
	}
	return active, closed
}

// Len returns the number of tracked connections.
func (s *Store) Len() int {
	return len(s.conns)
}
