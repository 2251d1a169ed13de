package guardtype

import "sync"

// SharedState is the read/write-locked container for one request's
// ChallengeState, shared between the Listener (reader) and the Challenge
// Engine (the sole writer). It mutates only LatestChallenge; Request and
// Bids are immutable for the engine's lifetime. Hold times are kept short —
// no call across the lock boundary performs I/O, matching the ordering
// guarantees.
//
// An equally valid design replaces this lock with a small actor goroutine
// that owns the state and answers validation queries over a channel,
// trading a lock for a message round-trip; see DESIGN.md for why this
// implementation keeps the plain mutex instead.
type SharedState struct {
	mu sync.RWMutex

	request Request
	bids    BidSet
	latest  *Hash
}

// NewSharedState constructs a SharedState for a request with no open
// challenge; the Listener must drop all inbound proofs until the engine
// opens a window.
func NewSharedState(req Request, bids BidSet) *SharedState {
	return &SharedState{request: req, bids: bids}
}

// Snapshot is a read-only view taken under the read lock and safe to use
// after the lock is released.
type Snapshot struct {
	Request Request
	Bids    BidSet
	Latest  *Hash
}

// Read takes a snapshot of the current state under the read lock. The
// returned Snapshot is a point-in-time copy; callers must not hold the lock
// across I/O, so this is the only way to observe the state.
func (s *SharedState) Read() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Request: s.request, Bids: s.bids, Latest: s.latest}
}

// OpenChallenge sets LatestChallenge, opening the Listener's intake for h.
// Only the Challenge Engine calls this.
func (s *SharedState) OpenChallenge(h Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &h
}

// CloseChallenge clears LatestChallenge, so no late proofs enter an
// in-flight collection window. Only the Challenge Engine calls this, and it
// must do so before persisting the window's result.
func (s *SharedState) CloseChallenge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
}

// SetRequest replaces the immutable request snapshot, used once at
// alignment time before the cadence loop starts.
func (s *SharedState) SetRequest(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.request = req
}

// SetBids replaces the bid set the Listener validates proofs against, used
// once at discovery/alignment time alongside SetRequest so the Listener can
// recognize a request's winning bids for the lifetime of its engine run.
func (s *SharedState) SetBids(bids BidSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids = bids
}
