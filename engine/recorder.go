package engine

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ftahirops/xconn/model"
)

// Frame is one recorded batch, written as a JSON line.
type Frame struct {
	Time      time.Time        `json:"time"`
	Snapshots []model.Snapshot `json:"snapshots"`
}

// Recorder wraps an engine and records every fed batch to a writer.
type Recorder struct {
	inner  *Engine
	writer *json.Encoder
	now    func() time.Time
	mu     sync.Mutex
	failed bool
}

// NewRecorder creates a recorder that writes JSON lines to w.
func NewRecorder(eng *Engine, w io.Writer) *Recorder {
	return &Recorder{
		inner:  eng,
		writer: json.NewEncoder(w),
		now:    time.Now,
	}
}

// Base returns the underlying engine.
func (r *Recorder) Base() *Engine {
	return r.inner
}

// Feed records the batch and then feeds it to the engine.
// A write failure is logged once and does not block the feed.
func (r *Recorder) Feed(batch []model.Snapshot) FeedStats {
	if len(batch) > 0 {
		r.mu.Lock()
		if err := r.writer.Encode(Frame{Time: r.now(), Snapshots: batch}); err != nil && !r.failed {
			r.failed = true
			log.Printf("xconn: warning: recording stopped: %v", err)
		}
		r.mu.Unlock()
	}
	return r.inner.Feed(batch)
}

// ReadFrames decodes recorded frames, skipping lines that do not decode.
func ReadFrames(rd io.Reader) ([]Frame, error) {
	dec := json.NewDecoder(rd)
	var frames []Frame
	skipped := 0
	for {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			if err == io.EOF {
				break
			}
			var syn *json.SyntaxError
			if errors.As(err, &syn) {
				// the decoder cannot resync after a syntax error
				return frames, err
			}
			skipped++
			continue
		}
		frames = append(frames, f)
	}
	if skipped > 0 {
		log.Printf("xconn: replay: skipped %d undecodable frames", skipped)
	}
	return frames, nil
}
