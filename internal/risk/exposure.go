package risk

import "sync"

// Tracker accounts for capital currently committed to in-flight executions,
// per asset. The coordinator reserves a route's notional after the
// execution-time risk re-check passes and releases it at the terminal state.
type Tracker struct {
	mu      sync.Mutex
	byAsset map[string]int64
}

// NewTracker returns an empty exposure tracker.
func NewTracker() *Tracker {
	return &Tracker{byAsset: make(map[string]int64)}
}

// Snapshot returns a copy of the current exposure per asset.
func (t *Tracker) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.byAsset))
	for asset, amt := range t.byAsset {
		out[asset] = amt
	}
	return out
}

// Reserve adds the given per-asset notionals to current exposure.
func (t *Tracker) Reserve(notionalByAsset map[string]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for asset, amt := range notionalByAsset {
		t.byAsset[asset] += amt
	}
}

// Release subtracts a previously reserved exposure, clamping at zero.
func (t *Tracker) Release(notionalByAsset map[string]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for asset, amt := range notionalByAsset {
		t.byAsset[asset] -= amt
		if t.byAsset[asset] <= 0 {
			delete(t.byAsset, asset)
		}
	}
}
