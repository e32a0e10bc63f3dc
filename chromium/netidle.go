package chromium

import (
	"sync"
	"time"
)

// networkIdle tracks requests in flight for a page. The page counts as idle
// when nothing is in flight and nothing started or finished for a quiet
// window.
type networkIdle struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	last     time.Time
	now      func() time.Time
}

func newNetworkIdle() *networkIdle {
	return newNetworkIdleClock(time.Now)
}

func newNetworkIdleClock(now func() time.Time) *networkIdle {
	return &networkIdle{
		inflight: make(map[string]struct{}),
		last:     now(),
		now:      now,
	}
}

// started records a request. Redirects reuse the request ID, which keeps
// the request counted once.
func (n *networkIdle) started(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.inflight[id] = struct{}{}
	n.last = n.now()
}

// finished records the end of a request, successful or not.
func (n *networkIdle) finished(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.inflight[id]; !ok {
		return
	}
	delete(n.inflight, id)
	n.last = n.now()
}

func (n *networkIdle) idle(quiet time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.inflight) == 0 && n.now().Sub(n.last) >= quiet
}

func (n *networkIdle) inFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.inflight)
}
