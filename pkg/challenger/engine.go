// Package challenger implements the Challenge Engine, the core state
// machine of the coordinator: alignment, cadence, emit/verify, collect,
// and persist.
package challenger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/pkg/clientchain"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/metrics"
	"github.com/commerceblock/guardnode-coordinator/pkg/servicechain"
	"github.com/commerceblock/guardnode-coordinator/pkg/store"
)

// verifyPollInterval is the fixed inner-loop sleep of the verify step.
const verifyPollInterval = 100 * time.Millisecond

// Config carries the cadence/timeout parameters plus the asset
// key used to construct challenge transactions.
type Config struct {
	ChallengeFrequency uint32
	ChallengeDuration  time.Duration
	VerifyDuration     time.Duration
	RefreshDelay       time.Duration
	AssetKey           string
}

// Engine drives one request from READY through DONE or a fatal error.
type Engine struct {
	cfg     Config
	service servicechain.Adapter
	client  clientchain.Adapter
	st      store.Store
	state   *guardtype.SharedState
	ingress <-chan guardtype.ChallengeResponse
	log     *zap.Logger

	// now and after are overridden in tests to avoid real sleeps.
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New builds an Engine. state and ingress must be the same instances the
// Listener reads from / writes to.
func New(cfg Config, service servicechain.Adapter, client clientchain.Adapter, st store.Store, state *guardtype.SharedState, ingress <-chan guardtype.ChallengeResponse, log *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		service: service,
		client:  client,
		st:      st,
		state:   state,
		ingress: ingress,
		log:     log,
		now:     time.Now,
		after:   time.After,
	}
}

// Run executes the cadence loop for req until the
// service-chain window closes (DONE) or a fatal error occurs. On DONE it
// returns req with EndBlockheightClientchain set to the client chain's
// current height, the authoritative record of the window's client-side
// close. On error it returns the request as last known and a wrapped
// sentinel error from pkg/guardnode.
func (e *Engine) Run(ctx context.Context, req guardtype.Request, bids guardtype.BidSet) (guardtype.Request, error) {
	e.state.SetRequest(req)
	metrics.ActiveRequest.Set(1)
	defer metrics.ActiveRequest.Set(0)

	var prevChallengeHeight uint32
	for {
		if err := ctx.Err(); err != nil {
			return req, err
		}

		heightSvc, err := e.service.GetBlockheight(ctx)
		if err != nil {
			return req, err
		}

		if heightSvc > req.EndBlockheight {
			heightCli, err := e.client.GetBlockheight(ctx)
			if err != nil {
				return req, err
			}
			req.EndBlockheightClientchain = heightCli
			return req, nil
		}

		if heightSvc-prevChallengeHeight < e.cfg.ChallengeFrequency {
			select {
			case <-ctx.Done():
				return req, ctx.Err()
			case <-e.after(e.cfg.RefreshDelay):
			}
			continue
		}

		h, err := e.client.SendChallenge(ctx, e.cfg.AssetKey)
		if err != nil {
			return req, err
		}
		e.log.Debug("challenge emitted", zap.String("requestTxid", req.Txid.String()), zap.String("challengeHash", h.String()))
		e.state.OpenChallenge(h)

		verified, err := e.verify(ctx, h)
		if err != nil {
			e.state.CloseChallenge()
			return req, err
		}
		if !verified {
			e.state.CloseChallenge()
			return req, fmt.Errorf("%w: challenge %s", guardnode.ErrUnverifiedChallenge, h)
		}
		metrics.ChallengesEmitted.Inc()

		ids, err := e.collect(ctx, h)
		e.state.CloseChallenge() // close before persistence so no late proof enters the in-flight window.
		if err != nil {
			return req, err
		}

		if err := e.persist(ctx, req.Txid, ids); err != nil {
			return req, err
		}

		prevChallengeHeight = heightSvc
	}
}

// verify polls ClientChain.VerifyChallenge every 100ms until it reports
// true or verifyDuration elapses.
func (e *Engine) verify(ctx context.Context, h guardtype.Hash) (bool, error) {
	deadline := e.now().Add(e.cfg.VerifyDuration)
	for {
		ok, err := e.client.VerifyChallenge(ctx, h)
		if err != nil {
			return false, fmt.Errorf("%w: %v", guardnode.ErrClientchainRPC, err)
		}
		if ok {
			return true, nil
		}
		if !e.now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-e.after(verifyPollInterval):
		}
	}
}

// collect reads the ingress channel for challengeDuration, crediting the
// dedup'd set of bid txids that answered the current challenge h.
func (e *Engine) collect(ctx context.Context, h guardtype.Hash) (map[guardtype.Hash]struct{}, error) {
	ids := make(map[guardtype.Hash]struct{})
	deadline := e.now().Add(e.cfg.ChallengeDuration)

	for {
		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return ids, nil
		}

		select {
		case <-ctx.Done():
			return ids, ctx.Err()
		case cr, ok := <-e.ingress:
			if !ok {
				return nil, guardnode.ErrReceiverDisconnected
			}
			if cr.ChallengeHash.Equals(h) {
				ids[cr.Bid.Txid] = struct{}{}
			}
		case <-e.after(remaining):
			return ids, nil
		}
	}
}

// persist closes out one collection window: increment numChallenges,
// credit each responding bid once, and upsert the aggregate.
func (e *Engine) persist(ctx context.Context, requestTxid guardtype.Hash, ids map[guardtype.Hash]struct{}) error {
	resp, ok, err := e.st.GetResponse(ctx, requestTxid)
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("%w: load response: %v", guardnode.ErrStore, err)
	}
	if !ok {
		resp = guardtype.NewResponse()
	}
	resp.Record(ids)

	if err := e.st.SaveResponse(ctx, requestTxid, resp); err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("%w: save response: %v", guardnode.ErrStore, err)
	}
	return nil
}
