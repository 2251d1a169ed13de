// Package clientchain adapts the coordinator's challenge emission and
// verification calls to the client chain's JSON-RPC daemon, grounded in the
// original implementation's clientchain.rs.
package clientchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/rpcutil"
)

// Adapter is the ClientChain contract: report height, emit a
// challenge transaction, and confirm a challenge has been mined (mempool
// inclusion alone is explicitly insufficient).
type Adapter interface {
	GetBlockheight(ctx context.Context) (uint32, error)
	// SendChallenge broadcasts a new challenge and returns its txid.
	SendChallenge(ctx context.Context, assetKey string) (guardtype.Hash, error)
	// VerifyChallenge reports whether h has at least one confirmation on
	// the client chain. A not-yet-mined (including mempool-only) hash
	// reports (false, nil), not an error.
	VerifyChallenge(ctx context.Context, h guardtype.Hash) (bool, error)
}

// Client is the RPC-backed Adapter implementation.
type Client struct {
	rpc *rpcutil.Client
}

// New builds a Client against the given client-chain RPC endpoint.
func New(endpoint, user, pass string) *Client {
	return &Client{rpc: rpcutil.New(endpoint, rpcutil.Options{User: user, Pass: pass})}
}

// GetBlockheight implements Adapter.
func (c *Client) GetBlockheight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.rpc.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, fmt.Errorf("%w: getblockcount: %v", guardnode.ErrClientchainRPC, err)
	}
	return height, nil
}

type sendChallengeResult struct {
	Txid string `json:"txid"`
}

// SendChallenge implements Adapter. It issues a zero-value asset transfer
// of assetKey, the chain-agnostic "challenge" primitive the original used
// an Elements asset re-issuance for.
func (c *Client) SendChallenge(ctx context.Context, assetKey string) (guardtype.Hash, error) {
	var res sendChallengeResult
	if err := c.rpc.Call(ctx, "sendchallenge", []any{assetKey}, &res); err != nil {
		return guardtype.Hash{}, fmt.Errorf("%w: sendchallenge: %v", guardnode.ErrClientchainRPC, err)
	}
	h, err := guardtype.ParseHash(res.Txid)
	if err != nil {
		return guardtype.Hash{}, fmt.Errorf("%w: challenge txid: %v", guardnode.ErrClientchainRPC, err)
	}
	return h, nil
}

type rawTransactionResult struct {
	Confirmations uint32 `json:"confirmations"`
}

// VerifyChallenge implements Adapter.
func (c *Client) VerifyChallenge(ctx context.Context, h guardtype.Hash) (bool, error) {
	var res rawTransactionResult
	err := c.rpc.Call(ctx, "getrawtransaction", []any{h.String(), true}, &res)
	if errors.Is(err, rpcutil.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: getrawtransaction: %v", guardnode.ErrClientchainRPC, err)
	}
	return res.Confirmations > 0, nil
}
