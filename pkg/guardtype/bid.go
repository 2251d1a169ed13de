package guardtype

import "github.com/commerceblock/guardnode-coordinator/pkg/sigkit"

// BidPayment is filled in by the external payments subsystem once a bid's
// share of the fee has been computed and sent; the engine never reads it.
type BidPayment struct {
	Txid   Hash
	Vout   uint32
	Amount uint64
}

// Bid is a guardnode's winning claim to a slot in one Request, identified by
// a transaction and bound to the key it must sign challenge responses with.
// (requestTxid, Txid) is unique — enforced by the Store, not by this type.
type Bid struct {
	Txid    Hash
	Pubkey  sigkit.PublicKey
	Payment *BidPayment
}

// BidSet is a set of Bids uniquely keyed by Txid.
type BidSet map[Hash]Bid

// NewBidSet builds a BidSet from a slice, keeping the last occurrence of any
// duplicate Txid (callers are expected to pass already-deduplicated bids;
// this is a convenience constructor, not a correctness guard).
func NewBidSet(bids []Bid) BidSet {
	set := make(BidSet, len(bids))
	for _, b := range bids {
		set[b.Txid] = b
	}
	return set
}

// Find returns the bid with the given txid, if any.
func (s BidSet) Find(txid Hash) (Bid, bool) {
	b, ok := s[txid]
	return b, ok
}

// Slice returns the bids in no particular order.
func (s BidSet) Slice() []Bid {
	out := make([]Bid, 0, len(s))
	for _, b := range s {
		out = append(out, b)
	}
	return out
}
