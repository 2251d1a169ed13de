package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/internal/guardnodetest"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
)

func TestFeeShare_ProportionalToResponses(t *testing.T) {
	assert.Equal(t, uint64(0), feeShare(10, 100, 5, 0))
	assert.Equal(t, uint64(1000), feeShare(10, 100, 10, 10)) // full participation
	assert.Equal(t, uint64(500), feeShare(10, 100, 5, 10))   // half participation
}

func TestRun_DrainsUntilChannelClosed(t *testing.T) {
	st := guardnodetest.NewStore()
	txid := guardnodetest.Hash("req-paid")
	require.NoError(t, st.SaveChallengeRequestState(context.Background(), guardtype.Request{Txid: txid}, nil))
	require.NoError(t, st.SaveResponse(context.Background(), txid, guardtype.NewResponse()))

	f := NewLoggingFeeder(st, zap.NewNop())
	in := make(chan guardtype.Hash, 1)
	in <- txid
	close(in)

	err := f.Run(context.Background(), in)
	assert.NoError(t, err)
	assert.False(t, f.Unrecoverable())
}

func TestRun_ReturnsNilOnContextCancel(t *testing.T) {
	st := guardnodetest.NewStore()
	f := NewLoggingFeeder(st, zap.NewNop())
	in := make(chan guardtype.Hash)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, in) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestHandle_MissingRequestIsAnError(t *testing.T) {
	st := guardnodetest.NewStore()
	f := NewLoggingFeeder(st, zap.NewNop())
	err := f.handle(context.Background(), guardnodetest.Hash("unknown"))
	assert.Error(t, err)
}
