// Package store declares the persistence contract: crash-recovery
// insert-if-absent writes for challenge request state, upsert-replace writes
// for response aggregates, and paginated reads for the API and operators.
package store

import (
	"context"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
)

// Store is implemented by pkg/store/mongostore; fakes for tests live in
// internal/guardnodetest.
type Store interface {
	// SaveChallengeRequestState persists req and its bids the first time
	// this request is seen. Calling it again for the same Txid is a
	// no-op, not an error — this is what makes coordinator restarts safe
	// across a process restart.
	SaveChallengeRequestState(ctx context.Context, req guardtype.Request, bids []guardtype.Bid) error

	// UpdateRequest replaces the whole persisted request with the same
	// Txid; it is a no-op if none exists. The Orchestrator calls it when a
	// request completes, to record the final client-chain window.
	UpdateRequest(ctx context.Context, req guardtype.Request) error

	// SaveResponse replaces the persisted Response aggregate for
	// requestTxid wholesale. See DESIGN.md for the conditional-upsert
	// strengthening layered on top of this for Open Question (b).
	SaveResponse(ctx context.Context, requestTxid guardtype.Hash, resp guardtype.Response) error

	// GetResponse returns the persisted Response for requestTxid, or a
	// zero Response with ok=false if none has been saved yet.
	GetResponse(ctx context.Context, requestTxid guardtype.Hash) (resp guardtype.Response, ok bool, err error)

	// GetBids returns the bids persisted for requestTxid.
	GetBids(ctx context.Context, requestTxid guardtype.Hash) ([]guardtype.Bid, error)

	// GetRequest returns the persisted request by Txid, or ok=false if
	// none exists.
	GetRequest(ctx context.Context, requestTxid guardtype.Hash) (req guardtype.Request, ok bool, err error)

	// GetRequests returns a page of persisted requests, optionally
	// filtered by payment-completion status, ordered by insertion order.
	GetRequests(ctx context.Context, complete *bool, limit, skip int64) ([]guardtype.Request, error)

	// GetRequestsCount returns the total number of persisted requests
	// matching the same optional filter as GetRequests, for pagination.
	GetRequestsCount(ctx context.Context, complete *bool) (int64, error)
}
