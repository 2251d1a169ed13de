package listener

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/internal/guardnodetest"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
)

func newTestServer(t *testing.T, cfg Config, state *guardtype.SharedState, out chan guardtype.ChallengeResponse) *httptest.Server {
	t.Helper()
	l := New(cfg, zap.NewNop(), state, out)
	return httptest.NewServer(l.server.Handler)
}

func postProof(t *testing.T, srv *httptest.Server, body proofRequest, user, pass string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/challengeproof", bytes.NewReader(raw))
	require.NoError(t, err)
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestHandleProof_ValidSignatureAccepted(t *testing.T) {
	bidder := guardnodetest.NewSigningBid("bidder-a")
	challenge := guardnodetest.Hash("challenge-1")
	state := guardtype.NewSharedState(guardtype.Request{}, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
	state.OpenChallenge(challenge)

	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{}, state, out)
	defer srv.Close()

	resp := postProof(t, srv, proofRequest{
		ChallengeHash: challenge,
		BidTxid:       bidder.Bid.Txid,
		Pubkey:        bidder.Bid.Pubkey.String(),
		SigDER:        hex.EncodeToString(bidder.SignDER(challenge)),
	}, "", "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	select {
	case cr := <-out:
		assert.Equal(t, bidder.Bid.Txid, cr.Bid.Txid)
		assert.Equal(t, challenge, cr.ChallengeHash)
	default:
		t.Fatal("expected a forwarded challenge response")
	}
}

func TestHandleProof_NonCurrentChallengeDroppedSilently(t *testing.T) {
	bidder := guardnodetest.NewSigningBid("bidder-b")
	current := guardnodetest.Hash("current")
	stale := guardnodetest.Hash("stale")
	state := guardtype.NewSharedState(guardtype.Request{}, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
	state.OpenChallenge(current)

	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{}, state, out)
	defer srv.Close()

	resp := postProof(t, srv, proofRequest{
		ChallengeHash: stale,
		BidTxid:       bidder.Bid.Txid,
		Pubkey:        bidder.Bid.Pubkey.String(),
		SigDER:        hex.EncodeToString(bidder.SignDER(stale)),
	}, "", "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, out, 0)
}

func TestHandleProof_UnknownBidRejected(t *testing.T) {
	registered := guardnodetest.NewSigningBid("registered")
	unknown := guardnodetest.NewSigningBid("unknown")
	challenge := guardnodetest.Hash("challenge-2")
	state := guardtype.NewSharedState(guardtype.Request{}, guardtype.NewBidSet([]guardtype.Bid{registered.Bid}))
	state.OpenChallenge(challenge)

	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{}, state, out)
	defer srv.Close()

	resp := postProof(t, srv, proofRequest{
		ChallengeHash: challenge,
		BidTxid:       unknown.Bid.Txid,
		Pubkey:        unknown.Bid.Pubkey.String(),
		SigDER:        hex.EncodeToString(unknown.SignDER(challenge)),
	}, "", "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleProof_InvalidSignatureRejected(t *testing.T) {
	bidder := guardnodetest.NewSigningBid("bidder-c")
	other := guardnodetest.NewSigningBid("bidder-d")
	challenge := guardnodetest.Hash("challenge-3")
	state := guardtype.NewSharedState(guardtype.Request{}, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
	state.OpenChallenge(challenge)

	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{}, state, out)
	defer srv.Close()

	resp := postProof(t, srv, proofRequest{
		ChallengeHash: challenge,
		BidTxid:       bidder.Bid.Txid,
		Pubkey:        bidder.Bid.Pubkey.String(),
		SigDER:        hex.EncodeToString(other.SignDER(challenge)), // wrong key's signature
	}, "", "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleProof_MismatchedPubkeyRejected(t *testing.T) {
	bidder := guardnodetest.NewSigningBid("bidder-g")
	other := guardnodetest.NewSigningBid("bidder-h")
	challenge := guardnodetest.Hash("challenge-6")
	state := guardtype.NewSharedState(guardtype.Request{}, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
	state.OpenChallenge(challenge)

	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{}, state, out)
	defer srv.Close()

	// Correctly signed by bidder-g's key, but claims bidder-h's pubkey:
	// the mismatch must be caught before signature verification even runs.
	resp := postProof(t, srv, proofRequest{
		ChallengeHash: challenge,
		BidTxid:       bidder.Bid.Txid,
		Pubkey:        other.Bid.Pubkey.String(),
		SigDER:        hex.EncodeToString(bidder.SignDER(challenge)),
	}, "", "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Len(t, out, 0)
}

func TestHandleProof_MalformedBodyRejected(t *testing.T) {
	state := guardtype.NewSharedState(guardtype.Request{}, nil)
	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{}, state, out)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/challengeproof", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleProof_BasicAuthEnforced(t *testing.T) {
	bidder := guardnodetest.NewSigningBid("bidder-e")
	challenge := guardnodetest.Hash("challenge-4")
	state := guardtype.NewSharedState(guardtype.Request{}, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
	state.OpenChallenge(challenge)

	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{User: "node", Pass: "secret"}, state, out)
	defer srv.Close()

	body := proofRequest{
		ChallengeHash: challenge,
		BidTxid:       bidder.Bid.Txid,
		Pubkey:        bidder.Bid.Pubkey.String(),
		SigDER:        hex.EncodeToString(bidder.SignDER(challenge)),
	}

	unauthorized := postProof(t, srv, body, "", "")
	defer unauthorized.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, unauthorized.StatusCode)

	authorized := postProof(t, srv, body, "node", "secret")
	defer authorized.Body.Close()
	assert.Equal(t, http.StatusOK, authorized.StatusCode)
}

func TestHandleProof_EchoesRequestID(t *testing.T) {
	bidder := guardnodetest.NewSigningBid("bidder-f")
	challenge := guardnodetest.Hash("challenge-5")
	state := guardtype.NewSharedState(guardtype.Request{}, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
	state.OpenChallenge(challenge)

	out := make(chan guardtype.ChallengeResponse, 1)
	srv := newTestServer(t, Config{}, state, out)
	defer srv.Close()

	raw, err := json.Marshal(proofRequest{
		ChallengeHash: challenge,
		BidTxid:       bidder.Bid.Txid,
		Pubkey:        bidder.Bid.Pubkey.String(),
		SigDER:        hex.EncodeToString(bidder.SignDER(challenge)),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/challengeproof", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "caller-id-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "caller-id-123", resp.Header.Get("X-Request-Id"))
}
