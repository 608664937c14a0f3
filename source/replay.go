package source

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ftahirops/xconn/engine"
)

// Replay pushes recorded frames at a fixed interval. Playback starts on the
// first Subscribe so no frame is published to an empty audience.
type Replay struct {
	*hub
	frames   []engine.Frame
	interval time.Duration
	loop     bool
	onState  StateFunc

	start   sync.Once
	stop    chan struct{}
	runWG   sync.WaitGroup
	closing sync.Once
}

// OpenReplay reads a recording written by engine.Recorder.
func OpenReplay(path string, interval time.Duration, loop bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	frames, err := engine.ReadFrames(f)
	if err != nil && len(frames) == 0 {
		return nil, fmt.Errorf("read recording %s: %w", path, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("read recording %s: no frames", path)
	}
	return NewReplay(frames, interval, loop), nil
}

// NewReplay creates a replay source over frames.
func NewReplay(frames []engine.Frame, interval time.Duration, loop bool) *Replay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Replay{
		hub:      newHub(maxBatch),
		frames:   frames,
		interval: interval,
		loop:     loop,
		stop:     make(chan struct{}),
	}
}

// ReplayFactory returns a Factory that opens path on demand.
func ReplayFactory(path string, interval time.Duration, loop bool, onState StateFunc) Factory {
	return func(ctx context.Context) (Source, error) {
		r, err := OpenReplay(path, interval, loop)
		if err != nil {
			return nil, err
		}
		r.onState = onState
		return r, nil
	}
}

// Subscribe registers h and starts playback on first use.
func (r *Replay) Subscribe(h Handler) func() {
	unsub := r.hub.Subscribe(h)
	r.start.Do(func() {
		r.runWG.Add(1)
		go r.run()
	})
	return unsub
}

// Len returns the number of recorded frames.
func (r *Replay) Len() int {
	return len(r.frames)
}

func (r *Replay) run() {
	defer r.runWG.Done()
	if r.onState != nil {
		r.onState(StateConnected, nil)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for i := range r.frames {
			if !r.hub.publish(r.frames[i].Snapshots...) {
				return
			}
			select {
			case <-r.stop:
				return
			case <-ticker.C:
			}
		}
		if !r.loop {
			return
		}
	}
}

// Close stops playback and delivery.
func (r *Replay) Close() error {
	r.closing.Do(func() {
		close(r.stop)
		r.hub.close()
		r.runWG.Wait()
		if r.onState != nil {
			r.onState(StateClosed, nil)
		}
	})
	return nil
}
