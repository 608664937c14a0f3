package engine

import (
	"github.com/ftahirops/xconn/model"
	"github.com/ftahirops/xconn/util"
)

// Sample is the global throughput between two consecutive snapshots.
type Sample struct {
	Upload   int64 `json:"upload"`
	Download int64 `json:"download"`
}

// History is a ring buffer of global throughput samples derived from the
// controller's cumulative totals. It is not safe for concurrent use; the
// engine guards it.
type History struct {
	buf    []Sample
	head   int
	size   int
	cap    int
	prev   model.Totals
	primed bool
}

// NewHistory creates a ring buffer with the given capacity.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		buf: make([]Sample, capacity),
		cap: capacity,
	}
}

// Push records the delta from the previous totals. The first call only
// primes the baseline. A controller restart resets totals, which clamps
// that sample to zero.
func (h *History) Push(t model.Totals) {
	if !h.primed {
		h.prev, h.primed = t, true
		return
	}
	h.buf[h.head] = Sample{
		Upload:   util.Delta(h.prev.Upload, t.Upload),
		Download: util.Delta(h.prev.Download, t.Download),
	}
	h.prev = t
	h.head = (h.head + 1) % h.cap
	if h.size < h.cap {
		h.size++
	}
}

// Len returns the number of samples stored.
func (h *History) Len() int {
	return h.size
}

// Latest returns the most recent sample.
func (h *History) Latest() (Sample, bool) {
	if h.size == 0 {
		return Sample{}, false
	}
	return h.buf[(h.head-1+h.cap)%h.cap], true
}

// Samples returns stored samples oldest first.
func (h *History) Samples() []Sample {
	out := make([]Sample, h.size)
	start := (h.head - h.size + h.cap) % h.cap
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(start+i)%h.cap]
	}
	return out
}
