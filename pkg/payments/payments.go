// Package payments declares the payments feeder contract and ships
// one reference implementation, LoggingFeeder, that logs the fee-split
// summary an external payout system would act on without ever
// constructing or broadcasting a transaction itself.
package payments

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/store"
)

// Feeder consumes completed request ids from a single-producer channel.
type Feeder interface {
	// Run drains in until it closes or ctx is cancelled, returning any
	// unrecoverable error the external payout routine reported.
	Run(ctx context.Context, in <-chan guardtype.Hash) error
	// Unrecoverable reports whether a prior Run hit an unrecoverable
	// error. pkg/coordinator does not consult it; the process shuts down
	// on the error Run returns.
	Unrecoverable() bool
}

// LoggingFeeder is the reference Feeder: for each completed request it
// loads the Request, its Bids, and its Response aggregate from the Store
// and logs a structured summary of the fee split. It never flags itself
// unrecoverable — there is no real payout routine behind it to fail.
type LoggingFeeder struct {
	st  store.Store
	log *zap.Logger
}

// NewLoggingFeeder builds a LoggingFeeder reading from st.
func NewLoggingFeeder(st store.Store, log *zap.Logger) *LoggingFeeder {
	return &LoggingFeeder{st: st, log: log}
}

// Run implements Feeder.
func (f *LoggingFeeder) Run(ctx context.Context, in <-chan guardtype.Hash) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case txid, ok := <-in:
			if !ok {
				return nil
			}
			if err := f.handle(ctx, txid); err != nil {
				f.log.Error("payments feeder failed to summarize request",
					zap.String("requestTxid", txid.String()), zap.Error(err))
			}
		}
	}
}

// Unrecoverable implements Feeder; LoggingFeeder never fails terminally.
func (f *LoggingFeeder) Unrecoverable() bool { return false }

func (f *LoggingFeeder) handle(ctx context.Context, txid guardtype.Hash) error {
	req, ok, err := f.st.GetRequest(ctx, txid)
	if err != nil {
		return fmt.Errorf("%w: load request: %v", guardnode.ErrStore, err)
	}
	if !ok {
		return fmt.Errorf("%w: request %s not found", guardnode.ErrStore, txid)
	}

	bids, err := f.st.GetBids(ctx, txid)
	if err != nil {
		return fmt.Errorf("%w: load bids: %v", guardnode.ErrStore, err)
	}

	resp, ok, err := f.st.GetResponse(ctx, txid)
	if err != nil {
		return fmt.Errorf("%w: load response: %v", guardnode.ErrStore, err)
	}
	if !ok {
		resp = guardtype.NewResponse()
	}

	for _, bid := range bids {
		share := feeShare(req.FeePercentage, req.NumTickets, resp.BidResponses[bid.Txid], resp.NumChallenges)
		f.log.Info("bid fee share computed",
			zap.String("requestTxid", txid.String()),
			zap.String("bidTxid", bid.Txid.String()),
			zap.Uint32("responsesSeen", resp.BidResponses[bid.Txid]),
			zap.Uint32("numChallenges", resp.NumChallenges),
			zap.Uint64("share", share),
		)
	}
	return nil
}

// feeShare is an illustrative, intentionally simple split: a bid earns a
// share of feePercentage proportional to the fraction of challenge windows
// it answered. The real split algorithm is out of scope;
// this exists only so LoggingFeeder has something concrete to report.
func feeShare(feePercentage, numTickets, responses, numChallenges uint32) uint64 {
	if numChallenges == 0 {
		return 0
	}
	return uint64(feePercentage) * uint64(numTickets) * uint64(responses) / uint64(numChallenges)
}
