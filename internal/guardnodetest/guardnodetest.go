// Package guardnodetest provides fixture builders and fake chain/store
// doubles for testing the coordinator's core packages, in the style of an
// internal testchain fixture package: deterministic fakes instead of
// mocks, so scenario tests read as plain Go.
package guardnodetest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/sigkit"
)

// Hash builds a deterministic guardtype.Hash from a seed string, so tests
// can refer to "the txid for B" without hand-writing 64 hex characters.
func Hash(seed string) guardtype.Hash {
	return sha256.Sum256([]byte(seed))
}

// SigningBid is a Bid together with the private key that can produce valid
// proof signatures for it, built with Hash(seed) as the underlying entropy.
type SigningBid struct {
	Bid guardtype.Bid
	key *secp256k1.PrivateKey
}

// NewSigningBid derives a deterministic keypair from seed and wraps it with
// a Bid whose Txid is Hash(seed).
func NewSigningBid(seed string) SigningBid {
	scalar := Hash(seed)
	key := secp256k1.PrivKeyFromBytes(scalar[:])
	pubBytes := key.PubKey().SerializeCompressed()
	pub, err := sigkit.ParsePublicKey(pubBytes)
	if err != nil {
		panic(err)
	}
	return SigningBid{
		Bid: guardtype.Bid{Txid: Hash(seed), Pubkey: pub},
		key: key,
	}
}

// SignDER signs the given challenge hash with the bid's key, returning the
// DER encoding the Listener expects on the wire.
func (b SigningBid) SignDER(challengeHash guardtype.Hash) []byte {
	sig := ecdsa.Sign(b.key, challengeHash[:])
	return sig.Serialize()
}

// ServiceChain is a fake servicechain.Adapter with directly settable state.
type ServiceChain struct {
	mu      sync.Mutex
	Height  uint32
	Request *guardtype.Request
	Bids    []guardtype.Bid
}

func (s *ServiceChain) GetRequest(_ context.Context, _ guardtype.Hash) (*guardtype.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Request == nil {
		return nil, nil //nolint:nilnil
	}
	cp := *s.Request
	return &cp, nil
}

func (s *ServiceChain) GetRequestBids(_ context.Context, _ guardtype.Hash) ([]guardtype.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Bids) == 0 {
		return nil, guardnode.ErrMissingBids
	}
	out := make([]guardtype.Bid, len(s.Bids))
	copy(out, s.Bids)
	return out, nil
}

func (s *ServiceChain) GetBlockheight(_ context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Height, nil
}

// SetHeight updates the fake service chain's reported tip height.
func (s *ServiceChain) SetHeight(h uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Height = h
}

// ClientChain is a fake clientchain.Adapter with directly settable state.
type ClientChain struct {
	mu sync.Mutex

	Height uint32

	// challengeSeq is incremented by every SendChallenge, which returns
	// Hash("challenge-<seq>") so repeated calls get distinct hashes.
	challengeSeq int

	// Verified, when set, is consulted by VerifyChallenge for the
	// matching hash; AlwaysFalse overrides it to simulate scenario 4.
	Verified    map[guardtype.Hash]bool
	AlwaysFalse bool
}

// NewClientChain returns a ready-to-use fake with an empty verification
// table.
func NewClientChain() *ClientChain {
	return &ClientChain{Verified: make(map[guardtype.Hash]bool)}
}

func (c *ClientChain) GetBlockheight(_ context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Height, nil
}

// SetHeight updates the fake client chain's reported tip height.
func (c *ClientChain) SetHeight(h uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Height = h
}

func (c *ClientChain) SendChallenge(_ context.Context, _ string) (guardtype.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challengeSeq++
	h := Hash(fmt.Sprintf("challenge-%d", c.challengeSeq))
	if c.Verified == nil {
		c.Verified = make(map[guardtype.Hash]bool)
	}
	if !c.AlwaysFalse {
		c.Verified[h] = true
	}
	return h, nil
}

func (c *ClientChain) VerifyChallenge(_ context.Context, h guardtype.Hash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AlwaysFalse {
		return false, nil
	}
	return c.Verified[h], nil
}

// Store is an in-memory fake implementing pkg/store.Store, sufficient for
// exercising the engine's persistence calls without a live MongoDB.
type Store struct {
	mu        sync.Mutex
	requests  map[guardtype.Hash]guardtype.Request
	bids      map[guardtype.Hash][]guardtype.Bid
	responses map[guardtype.Hash]guardtype.Response
}

// NewStore returns an empty fake Store.
func NewStore() *Store {
	return &Store{
		requests:  make(map[guardtype.Hash]guardtype.Request),
		bids:      make(map[guardtype.Hash][]guardtype.Bid),
		responses: make(map[guardtype.Hash]guardtype.Response),
	}
}

func (s *Store) SaveChallengeRequestState(_ context.Context, req guardtype.Request, bids []guardtype.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.Txid]; exists {
		return nil
	}
	s.requests[req.Txid] = req
	s.bids[req.Txid] = append([]guardtype.Bid(nil), bids...)
	return nil
}

func (s *Store) UpdateRequest(_ context.Context, req guardtype.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.Txid]; !exists {
		return nil
	}
	s.requests[req.Txid] = req
	return nil
}

func (s *Store) SaveResponse(_ context.Context, requestTxid guardtype.Hash, resp guardtype.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[requestTxid] = resp
	return nil
}

func (s *Store) GetResponse(_ context.Context, requestTxid guardtype.Hash) (guardtype.Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[requestTxid]
	return resp, ok, nil
}

func (s *Store) GetBids(_ context.Context, requestTxid guardtype.Hash) ([]guardtype.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bids[requestTxid], nil
}

func (s *Store) GetRequest(_ context.Context, requestTxid guardtype.Hash) (guardtype.Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestTxid]
	return req, ok, nil
}

func (s *Store) GetRequests(_ context.Context, complete *bool, limit, skip int64) ([]guardtype.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []guardtype.Request
	for _, r := range s.requests {
		if complete != nil && r.IsPaymentComplete != *complete {
			continue
		}
		all = append(all, r)
	}
	if skip >= int64(len(all)) {
		return nil, nil
	}
	end := skip + limit
	if limit <= 0 || end > int64(len(all)) {
		end = int64(len(all))
	}
	return all[skip:end], nil
}

func (s *Store) GetRequestsCount(_ context.Context, complete *bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if complete == nil {
		return int64(len(s.requests)), nil
	}
	var n int64
	for _, r := range s.requests {
		if r.IsPaymentComplete == *complete {
			n++
		}
	}
	return n, nil
}
