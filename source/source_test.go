package source

import (
	"sync"
	"testing"
	"time"

	"github.com/ftahirops/xconn/model"
)

// collector records delivered batches for assertions.
type collector struct {
	mu      sync.Mutex
	batches [][]model.Snapshot
	ch      chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 1024)}
}

func (c *collector) handle(batch []model.Snapshot) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

// totals returns the UploadTotal of every delivered snapshot in order.
func (c *collector) totals() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for _, b := range c.batches {
		for _, s := range b {
			out = append(out, s.UploadTotal)
		}
	}
	return out
}

func (c *collector) waitSnapshots(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for len(c.totals()) < n {
		select {
		case <-c.ch:
		case <-deadline:
			t.Fatalf("timed out: got %d snapshots, want %d", len(c.totals()), n)
		}
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	h := newHub(maxBatch)
	defer h.close()
	c := newCollector()
	h.Subscribe(c.handle)

	for i := int64(1); i <= 200; i++ {
		if !h.publish(model.Snapshot{UploadTotal: i}) {
			t.Fatal("publish on open hub returned false")
		}
	}
	c.waitSnapshots(t, 200)

	got := c.totals()
	for i, v := range got {
		if v != int64(i+1) {
			t.Fatalf("snapshot %d = %d, want %d", i, v, i+1)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.batches {
		if len(b) == 0 || len(b) > maxBatch {
			t.Errorf("batch size %d out of range", len(b))
		}
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := newHub(maxBatch)
	defer h.close()
	a, b := newCollector(), newCollector()
	unsubA := h.Subscribe(a.handle)
	h.Subscribe(b.handle)
	if h.subscribers() != 2 {
		t.Fatalf("subscribers = %d", h.subscribers())
	}

	unsubA()
	unsubA()
	if h.subscribers() != 1 {
		t.Fatalf("subscribers after unsubscribe = %d, want 1", h.subscribers())
	}

	h.publish(model.Snapshot{UploadTotal: 7})
	b.waitSnapshots(t, 1)
	if len(a.totals()) != 0 {
		t.Error("unsubscribed handler still received a batch")
	}
}

func TestHubCloseStopsPublish(t *testing.T) {
	h := newHub(1)
	h.close()
	h.close()
	if !h.closed() {
		t.Fatal("hub should report closed")
	}
	if h.publish(model.Snapshot{}) {
		t.Error("publish after close should return false")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %q, want %q", tt.s, got, tt.want)
		}
	}
}
