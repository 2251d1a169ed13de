package challenger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/internal/guardnodetest"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
)

func testRequest(txid guardtype.Hash) guardtype.Request {
	return guardtype.Request{
		Txid:             txid,
		StartBlockheight: 2,
		EndBlockheight:   5,
	}
}

// fakeClock lets tests advance a virtual clock instead of sleeping for
// real, so the 100ms verify poll and the refresh delay resolve instantly
// while still exercising the engine's real control flow. Every after()
// fires at once, so a collect window closes about 1ms after it opens:
// tests that deliver responses inside a window put the engine back on
// time.Now/time.After.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	// Advance the virtual clock immediately (so verify/collect windows
	// resolve without a real wait) but pace with a small real sleep so
	// the test driver goroutine gets a chance to observe engine state
	// between iterations instead of racing a tight busy loop.
	time.Sleep(time.Millisecond)
	c.t = c.t.Add(d)
	ch <- c.t
	return ch
}

func newTestEngine(t *testing.T, svc *guardnodetest.ServiceChain, cli *guardnodetest.ClientChain, st *guardnodetest.Store, cfg Config, ingress <-chan guardtype.ChallengeResponse) *Engine {
	t.Helper()
	state := guardtype.NewSharedState(guardtype.Request{}, nil)
	e := New(cfg, svc, cli, st, state, ingress, zap.NewNop())
	clk := &fakeClock{t: time.Unix(0, 0)}
	e.now = clk.now
	e.after = clk.after
	return e
}

// Scenario 1: happy single challenge run starting at height 2 and advanced
// through 3,4,5,6 with one responding bid and challengeFrequency=1 yields
// numChallenges=4 (challenges at 2,3,4,5; 6 is past EndBlockheight).
func TestEngine_HappySingleChallenge(t *testing.T) {
	svc := &guardnodetest.ServiceChain{Height: 2}
	cli := guardnodetest.NewClientChain()
	st := guardnodetest.NewStore()
	ingress := make(chan guardtype.ChallengeResponse, 16)

	cfg := Config{
		ChallengeFrequency: 1,
		ChallengeDuration:  50 * time.Millisecond,
		VerifyDuration:     time.Second,
		RefreshDelay:       10 * time.Millisecond,
		AssetKey:           "asset",
	}
	e := newTestEngine(t, svc, cli, st, cfg, ingress)
	e.now, e.after = time.Now, time.After

	bidder := guardnodetest.NewSigningBid("B")
	req := testRequest(guardnodetest.Hash("req1"))

	heights := []uint32{3, 4, 5, 6}
	done := make(chan struct{})
	var finalReq guardtype.Request
	var runErr error
	go func() {
		finalReq, runErr = e.Run(context.Background(), req, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
		close(done)
	}()

	for _, h := range heights {
		// respond to the open challenge while its window is open, then move
		// the service chain on once the engine has closed that window.
		var challenge guardtype.Hash
		require.Eventually(t, func() bool {
			snap := e.state.Read()
			if snap.Latest == nil {
				return false
			}
			challenge = *snap.Latest
			return true
		}, time.Second, time.Millisecond)
		ingress <- guardtype.ChallengeResponse{ChallengeHash: challenge, Bid: bidder.Bid}
		require.Eventually(t, func() bool { return e.state.Read().Latest == nil }, time.Second, time.Millisecond)
		svc.SetHeight(h)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish")
	}

	require.NoError(t, runErr)
	resp, ok, err := st.GetResponse(context.Background(), req.Txid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(4), resp.NumChallenges)
	assert.Equal(t, uint32(4), resp.BidResponses[bidder.Bid.Txid])
	assert.True(t, finalReq.EndBlockheightClientchain >= 0)
}

// Scenario 2: a large challengeFrequency means the window closes without
// ever emitting a challenge; no Response is persisted.
func TestEngine_LargeFrequencySkip(t *testing.T) {
	svc := &guardnodetest.ServiceChain{Height: 2}
	cli := guardnodetest.NewClientChain()
	st := guardnodetest.NewStore()
	ingress := make(chan guardtype.ChallengeResponse)

	cfg := Config{
		ChallengeFrequency: 50,
		ChallengeDuration:  50 * time.Millisecond,
		VerifyDuration:     time.Second,
		RefreshDelay:       time.Millisecond,
		AssetKey:           "asset",
	}
	e := newTestEngine(t, svc, cli, st, cfg, ingress)
	req := testRequest(guardnodetest.Hash("req2"))

	done := make(chan struct{})
	var finalReq guardtype.Request
	var runErr error
	go func() {
		finalReq, runErr = e.Run(context.Background(), req, guardtype.BidSet{})
		close(done)
	}()

	// Heights 3,4,5 all arrive while heightSvc-prevChallengeHeight stays
	// well under challengeFrequency=50, so the cadence gate must keep
	// sleeping every tick and never open a challenge.
	for _, h := range []uint32{3, 4, 5} {
		svc.SetHeight(h)
		time.Sleep(5 * time.Millisecond)
		assert.Nil(t, e.state.Read().Latest)
	}
	svc.SetHeight(6) // past EndBlockheight=5: window closes on the next tick.

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish")
	}

	require.NoError(t, runErr)
	assert.Equal(t, uint32(0), cli.Height) // clientchain height used verbatim

	_, ok, err := st.GetResponse(context.Background(), req.Txid)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint32(0), finalReq.EndBlockheightClientchain)
}

// Scenario 3: two in-window proofs for the current challenge and one for a
// stale challenge collapse to a single credited bid.
func TestEngine_StaleChallengeIgnored(t *testing.T) {
	svc := &guardnodetest.ServiceChain{Height: 2}
	cli := guardnodetest.NewClientChain()
	st := guardnodetest.NewStore()
	ingress := make(chan guardtype.ChallengeResponse, 8)

	cfg := Config{
		ChallengeFrequency: 1,
		ChallengeDuration:  30 * time.Millisecond,
		VerifyDuration:     time.Second,
		RefreshDelay:       time.Millisecond,
		AssetKey:           "asset",
	}
	e := newTestEngine(t, svc, cli, st, cfg, ingress)
	e.now, e.after = time.Now, time.After

	bidder := guardnodetest.NewSigningBid("B")
	staleHash := guardnodetest.Hash("old-challenge")
	req := testRequest(guardnodetest.Hash("req3"))

	done := make(chan struct{})
	go func() {
		_, _ = e.Run(context.Background(), req, guardtype.NewBidSet([]guardtype.Bid{bidder.Bid}))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	snap := e.state.Read()
	require.NotNil(t, snap.Latest)
	ingress <- guardtype.ChallengeResponse{ChallengeHash: *snap.Latest, Bid: bidder.Bid}
	ingress <- guardtype.ChallengeResponse{ChallengeHash: *snap.Latest, Bid: bidder.Bid}
	ingress <- guardtype.ChallengeResponse{ChallengeHash: staleHash, Bid: bidder.Bid}

	svc.SetHeight(6) // close the window on the next tick after this one.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish")
	}

	resp, ok, err := st.GetResponse(context.Background(), req.Txid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), resp.BidResponses[bidder.Bid.Txid])
}

// Scenario 4: a challenge that never verifies is a fatal error and no
// Response is persisted.
func TestEngine_VerifyFails(t *testing.T) {
	svc := &guardnodetest.ServiceChain{Height: 2}
	cli := guardnodetest.NewClientChain()
	cli.AlwaysFalse = true
	st := guardnodetest.NewStore()
	ingress := make(chan guardtype.ChallengeResponse)

	cfg := Config{
		ChallengeFrequency: 1,
		ChallengeDuration:  time.Second,
		VerifyDuration:     10 * time.Millisecond,
		RefreshDelay:       time.Millisecond,
		AssetKey:           "asset",
	}
	e := newTestEngine(t, svc, cli, st, cfg, ingress)
	req := testRequest(guardnodetest.Hash("req4"))

	_, err := e.Run(context.Background(), req, guardtype.BidSet{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, guardnode.ErrUnverifiedChallenge))

	_, ok, err := st.GetResponse(context.Background(), req.Txid)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Scenario 6: closing the ingress channel mid-collect is immediately
// fatal and persists nothing for the in-flight window.
func TestEngine_ReceiverDisconnect(t *testing.T) {
	svc := &guardnodetest.ServiceChain{Height: 2}
	cli := guardnodetest.NewClientChain()
	st := guardnodetest.NewStore()
	ingress := make(chan guardtype.ChallengeResponse)

	cfg := Config{
		ChallengeFrequency: 1,
		ChallengeDuration:  time.Second,
		VerifyDuration:     time.Second,
		RefreshDelay:       time.Millisecond,
		AssetKey:           "asset",
	}
	e := newTestEngine(t, svc, cli, st, cfg, ingress)
	e.now, e.after = time.Now, time.After
	req := testRequest(guardnodetest.Hash("req6"))

	done := make(chan struct {
		req guardtype.Request
		err error
	})
	go func() {
		r, err := e.Run(context.Background(), req, guardtype.BidSet{})
		done <- struct {
			req guardtype.Request
			err error
		}{r, err}
	}()

	time.Sleep(10 * time.Millisecond)
	close(ingress)

	select {
	case res := <-done:
		require.Error(t, res.err)
		assert.True(t, errors.Is(res.err, guardnode.ErrReceiverDisconnected))
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish")
	}

	_, ok, err := st.GetResponse(context.Background(), req.Txid)
	require.NoError(t, err)
	assert.False(t, ok)
}
