package guardtype

// Response is the per-request aggregate rolled up across all challenge
// cycles: how many collection windows ran, and in how many of them each bid
// was seen at least once.
type Response struct {
	// NumChallenges is the count of completed collection windows for this
	// request, including empty ones. It is monotonically non-decreasing
	// across persisted updates for the same request.
	NumChallenges uint32

	// BidResponses maps a bid's txid to the number of collection windows
	// in which it was seen at least once. A bid that never responded
	// correctly does not appear as a key. Invariant:
	// 0 ≤ BidResponses[b] ≤ NumChallenges.
	BidResponses map[Hash]uint32
}

// NewResponse returns an empty Response ready for its first collection
// window.
func NewResponse() Response {
	return Response{BidResponses: make(map[Hash]uint32)}
}

// Record closes one collection window: it increments NumChallenges and
// credits every bid txid in ids exactly once, regardless of how many times
// that bid was seen during the window (the dedup already happened upstream
// in the Challenge Engine's per-window id set).
func (r *Response) Record(ids map[Hash]struct{}) {
	if r.BidResponses == nil {
		r.BidResponses = make(map[Hash]uint32)
	}
	r.NumChallenges++
	for id := range ids {
		r.BidResponses[id]++
	}
}

// ChallengeResponse is the transient value sent from the Listener to the
// Challenge Engine on the ingress channel for one accepted proof.
type ChallengeResponse struct {
	ChallengeHash Hash
	Bid           Bid
}
