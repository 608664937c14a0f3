// Package source delivers snapshot batches from a controller's telemetry
// stream (or a recording) to subscribers.
package source

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ftahirops/xconn/model"
)

// ErrClosed is returned when a source has already been closed.
var ErrClosed = errors.New("source closed")

// Handler receives one batch of snapshots in stream order.
type Handler func(batch []model.Snapshot)

// Source is a push source of snapshot batches.
type Source interface {
	// Subscribe registers h and returns a function that removes it.
	// The returned function may be called any number of times.
	Subscribe(h Handler) (unsubscribe func())
	// Close releases the underlying transport. It must not be called from a Handler.
	Close() error
}

// Factory opens a source. An error means the stream could not be acquired.
type Factory func(ctx context.Context) (Source, error)

// State describes the transport condition of a source.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// StateFunc is notified of transport state changes.
type StateFunc func(State, error)

const maxBatch = 64

// hub fans batches out to subscribers from a single dispatcher goroutine,
// so a handler never runs concurrently with itself or with another batch.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]Handler

	queue     chan model.Snapshot
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newHub(buffer int) *hub {
	h := &hub{
		subs:  make(map[int]Handler),
		queue: make(chan model.Snapshot, buffer),
		done:  make(chan struct{}),
	}
	h.wg.Add(1)
	go h.dispatch()
	return h
}

func (h *hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// publish queues snapshots in order. It returns false once the hub is closed.
func (h *hub) publish(snaps ...model.Snapshot) bool {
	for _, s := range snaps {
		if h.closed() {
			return false
		}
		select {
		case h.queue <- s:
		case <-h.done:
			return false
		}
	}
	return true
}

func (h *hub) dispatch() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case s := <-h.queue:
			batch := []model.Snapshot{s}
		drain:
			for len(batch) < maxBatch {
				select {
				case s := <-h.queue:
					batch = append(batch, s)
				default:
					break drain
				}
			}
			h.deliver(batch)
		}
	}
}

func (h *hub) deliver(batch []model.Snapshot) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = h.subs[id]
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(batch)
	}
}

func (h *hub) close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.wg.Wait()
}

func (h *hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
