package desk

import "sync"

// NearBottomThreshold is how close to the bottom, in scroll units, the reader
// must be for new content to be followed.
const NearBottomThreshold = 150

// FollowTracker decides whether a thread view should auto-scroll when new
// content arrives. Content only steals the view when the reader was already
// near the bottom at the moment it arrived.
type FollowTracker struct {
	mu         sync.Mutex
	nearBottom bool
	pending    bool
	follow     bool
}

// NewFollowTracker starts out following; a freshly opened thread is scrolled
// to the end.
func NewFollowTracker() *FollowTracker {
	return &FollowTracker{nearBottom: true}
}

// Observe records the viewport geometry after a scroll.
func (f *FollowTracker) Observe(scrollHeight, scrollTop, clientHeight float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nearBottom = scrollHeight-scrollTop-clientHeight < NearBottomThreshold
}

// NearBottom reports the last observed position.
func (f *FollowTracker) NearBottom() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nearBottom
}

// ContentArrived latches the follow decision for new content using the
// position observed right now.
func (f *FollowTracker) ContentArrived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = true
	f.follow = f.nearBottom
}

// Take returns and clears the pending decision. It is false when no content
// arrived since the last call.
func (f *FollowTracker) Take() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pending {
		return false
	}
	f.pending = false
	return f.follow
}

// Reset returns to the initial state for a newly opened thread.
func (f *FollowTracker) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nearBottom = true
	f.pending = false
	f.follow = false
}
