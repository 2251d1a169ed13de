// Package coordinator implements the Orchestrator loop: discover a
// request, align and run the Challenge Engine to completion, forward
// completed requests to the payments feeder, and return on a fatal error
// (cli/server then tears down the rest of the service set).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/pkg/challenger"
	"github.com/commerceblock/guardnode-coordinator/pkg/clientchain"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/servicechain"
	"github.com/commerceblock/guardnode-coordinator/pkg/store"
)

// Config carries the discovery/alignment parameters that sit above a
// single engine cycle.
type Config struct {
	GenesisHash         guardtype.Hash
	BlockTime           time.Duration
	ServiceBlockTimeSec float64
	ClientBlockTimeSec  float64
	Engine              challenger.Config
}

// Coordinator drives the infinite discover-align-run loop.
type Coordinator struct {
	cfg     Config
	service servicechain.Adapter
	client  clientchain.Adapter
	st      store.Store
	state   *guardtype.SharedState
	ingress <-chan guardtype.ChallengeResponse
	done    chan<- guardtype.Hash
	log     *zap.Logger
}

// New builds a Coordinator. done is the single-producer channel forwarding
// completed request txids to the payments feeder.
func New(cfg Config, service servicechain.Adapter, client clientchain.Adapter, st store.Store, state *guardtype.SharedState, ingress <-chan guardtype.ChallengeResponse, done chan<- guardtype.Hash, log *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		service: service,
		client:  client,
		st:      st,
		state:   state,
		ingress: ingress,
		done:    done,
		log:     log,
	}
}

// Run executes the orchestrator loop until ctx is cancelled or a fatal
// error occurs. A cancelled context is not itself an error.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		req, bids, err := c.discover(ctx)
		if err != nil {
			if errors.Is(err, errNoRequestYet) {
				if !sleepCtx(ctx, c.cfg.BlockTime) {
					return nil
				}
				continue
			}
			return err
		}

		req, bids, err = c.align(ctx, req, bids)
		if err != nil {
			return err
		}

		bidSet := guardtype.NewBidSet(bids)
		c.state.SetBids(bidSet)

		engine := challenger.New(c.cfg.Engine, c.service, c.client, c.st, c.state, c.ingress, c.log)
		finalReq, err := engine.Run(ctx, req, bidSet)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error("challenge engine exited with fatal error",
				zap.String("requestTxid", req.Txid.String()), zap.Error(err))
			return err
		}

		if err := c.st.UpdateRequest(ctx, finalReq); err != nil {
			return fmt.Errorf("%w: update request on completion: %v", guardnode.ErrStore, err)
		}

		select {
		case c.done <- finalReq.Txid:
		case <-ctx.Done():
			return nil
		}

		if !sleepCtx(ctx, c.cfg.BlockTime) {
			return nil
		}
	}
}

var errNoRequestYet = errors.New("coordinator: no request ready yet")

// discover fetches the active request for the
// configured genesis hash, waiting for one to exist and for the service
// chain to have reached its start height.
func (c *Coordinator) discover(ctx context.Context) (guardtype.Request, []guardtype.Bid, error) {
	req, err := c.service.GetRequest(ctx, c.cfg.GenesisHash)
	if err != nil {
		return guardtype.Request{}, nil, err
	}
	if req == nil {
		return guardtype.Request{}, nil, errNoRequestYet
	}

	heightSvc, err := c.service.GetBlockheight(ctx)
	if err != nil {
		return guardtype.Request{}, nil, err
	}
	if heightSvc < req.StartBlockheight {
		return guardtype.Request{}, nil, errNoRequestYet
	}

	bids, err := c.service.GetRequestBids(ctx, req.Txid)
	if err != nil {
		return guardtype.Request{}, nil, err
	}
	return *req, bids, nil
}

// align adopts any stored version of this request and its stored bids
// (crash recovery, nothing is written), or seeds the client-chain window
// fresh and persists the request with its bids.
func (c *Coordinator) align(ctx context.Context, fresh guardtype.Request, bids []guardtype.Bid) (guardtype.Request, []guardtype.Bid, error) {
	stored, ok, err := c.st.GetRequest(ctx, fresh.Txid)
	if err != nil {
		return guardtype.Request{}, nil, fmt.Errorf("%w: load stored request: %v", guardnode.ErrStore, err)
	}

	heightSvc, err := c.service.GetBlockheight(ctx)
	if err != nil {
		return guardtype.Request{}, nil, err
	}
	heightCli, err := c.client.GetBlockheight(ctx)
	if err != nil {
		return guardtype.Request{}, nil, err
	}

	in := challenger.AlignInputs{
		ServiceBlockTimeSec: c.cfg.ServiceBlockTimeSec,
		ClientBlockTimeSec:  c.cfg.ClientBlockTimeSec,
		HeightSvc:           heightSvc,
		HeightCli:           heightCli,
	}

	if ok {
		aligned := challenger.Align(&stored, guardtype.Request{}, in)
		storedBids, err := c.st.GetBids(ctx, aligned.Txid)
		if err != nil {
			return guardtype.Request{}, nil, fmt.Errorf("%w: load stored bids: %v", guardnode.ErrStore, err)
		}
		return aligned, storedBids, nil
	}

	aligned := challenger.Align(nil, fresh, in)
	if len(bids) == 0 {
		return guardtype.Request{}, nil, guardnode.ErrMissingBids
	}
	if err := c.st.SaveChallengeRequestState(ctx, aligned, bids); err != nil {
		return guardtype.Request{}, nil, fmt.Errorf("%w: save discovery state: %v", guardnode.ErrStore, err)
	}
	return aligned, bids, nil
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
