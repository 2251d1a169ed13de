package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/internal/guardnodetest"
	"github.com/commerceblock/guardnode-coordinator/pkg/challenger"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
)

func TestRun_ReturnsNilWhenContextAlreadyCancelled(t *testing.T) {
	svc := &guardnodetest.ServiceChain{}
	cli := guardnodetest.NewClientChain()
	st := guardnodetest.NewStore()
	state := guardtype.NewSharedState(guardtype.Request{}, nil)
	ingress := make(chan guardtype.ChallengeResponse)
	done := make(chan guardtype.Hash, 1)

	c := New(Config{}, svc, cli, st, state, ingress, done, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx))
}

func TestRun_MissingBidsIsFatal(t *testing.T) {
	reqTxid := guardnodetest.Hash("req-missing-bids")
	svc := &guardnodetest.ServiceChain{
		Height:  5,
		Request: &guardtype.Request{Txid: reqTxid, StartBlockheight: 2, EndBlockheight: 10},
		Bids:    nil,
	}
	cli := guardnodetest.NewClientChain()
	st := guardnodetest.NewStore()
	state := guardtype.NewSharedState(guardtype.Request{}, nil)
	ingress := make(chan guardtype.ChallengeResponse)
	done := make(chan guardtype.Hash, 1)

	cfg := Config{
		ServiceBlockTimeSec: 1,
		ClientBlockTimeSec:  1,
		Engine: challenger.Config{
			ChallengeFrequency: 1,
			ChallengeDuration:  time.Second,
			VerifyDuration:     time.Second,
			RefreshDelay:       time.Millisecond,
			AssetKey:           "asset",
		},
	}
	c := New(cfg, svc, cli, st, state, ingress, done, zap.NewNop())

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, guardnode.ErrMissingBids))
}

func TestRun_FullCycleForwardsCompletedTxidOnDone(t *testing.T) {
	reqTxid := guardnodetest.Hash("req-full-cycle")
	bidder := guardnodetest.NewSigningBid("cycle-bidder")

	svc := &guardnodetest.ServiceChain{
		Height:  2,
		Request: &guardtype.Request{Txid: reqTxid, StartBlockheight: 2, EndBlockheight: 5},
		Bids:    []guardtype.Bid{bidder.Bid},
	}
	cli := guardnodetest.NewClientChain()
	st := guardnodetest.NewStore()
	state := guardtype.NewSharedState(guardtype.Request{}, nil)
	ingress := make(chan guardtype.ChallengeResponse, 16)
	done := make(chan guardtype.Hash, 1)

	cfg := Config{
		ServiceBlockTimeSec: 1,
		ClientBlockTimeSec:  1,
		BlockTime:           50 * time.Millisecond,
		Engine: challenger.Config{
			ChallengeFrequency: 1,
			ChallengeDuration:  30 * time.Millisecond,
			VerifyDuration:     time.Second,
			RefreshDelay:       time.Millisecond,
			AssetKey:           "asset",
		},
	}
	c := New(cfg, svc, cli, st, state, ingress, done, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	heights := []uint32{3, 4, 5, 6}
	for _, h := range heights {
		svc.SetHeight(h)
		time.Sleep(5 * time.Millisecond)
		snap := state.Read()
		if snap.Latest != nil {
			select {
			case ingress <- guardtype.ChallengeResponse{ChallengeHash: *snap.Latest, Bid: bidder.Bid}:
			default:
			}
		}
		time.Sleep(15 * time.Millisecond)
	}

	select {
	case txid := <-done:
		assert.Equal(t, reqTxid, txid)
	case <-time.After(3 * time.Second):
		t.Fatal("coordinator never forwarded a completed request")
	}

	cancel()
	select {
	case err := <-runErrCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after cancellation")
	}
}
