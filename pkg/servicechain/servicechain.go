// Package servicechain adapts the coordinator's Request/Bid discovery calls
// to the service chain's JSON-RPC daemon, grounded in the original
// implementation's ocean.rs and service.rs.
package servicechain

import (
	"context"
	"errors"
	"fmt"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/rpcutil"
	"github.com/commerceblock/guardnode-coordinator/pkg/sigkit"
)

// Adapter is the ServiceChain contract: discover the active request
// for a genesis hash and its winning bids, and report the service chain's
// current height for alignment.
type Adapter interface {
	// GetRequest returns the active request pinned to genesisHash, or
	// (nil, nil) if none exists yet.
	GetRequest(ctx context.Context, genesisHash guardtype.Hash) (*guardtype.Request, error)
	// GetRequestBids returns the winning bids for a request. An empty
	// result is guardnode.ErrMissingBids, not a silent empty slice,
	// because a request with no bids cannot run a challenge cycle.
	GetRequestBids(ctx context.Context, requestTxid guardtype.Hash) ([]guardtype.Bid, error)
	// GetBlockheight returns the service chain's current tip height.
	GetBlockheight(ctx context.Context) (uint32, error)
}

// Client is the RPC-backed Adapter implementation.
type Client struct {
	rpc *rpcutil.Client
}

// New builds a Client against the given service-chain RPC endpoint.
func New(endpoint, user, pass string) *Client {
	return &Client{rpc: rpcutil.New(endpoint, rpcutil.Options{User: user, Pass: pass})}
}

type requestResult struct {
	Txid                        string `json:"txid"`
	GenesisBlockhash            string `json:"genesisBlockhash"`
	StartBlockheight            uint32 `json:"startBlockheight"`
	EndBlockheight              uint32 `json:"endBlockheight"`
	StartBlockheightClientchain uint32 `json:"startBlockheightClientchain"`
	EndBlockheightClientchain   uint32 `json:"endBlockheightClientchain"`
	FeePercentage               uint32 `json:"feePercentage"`
	NumTickets                  uint32 `json:"numTickets"`
}

// GetRequest implements Adapter.
func (c *Client) GetRequest(ctx context.Context, genesisHash guardtype.Hash) (*guardtype.Request, error) {
	var res requestResult
	err := c.rpc.Call(ctx, "getrequest", []any{genesisHash.String()}, &res)
	if errors.Is(err, rpcutil.ErrNotFound) {
		return nil, nil //nolint:nilnil // absence is a valid, non-error outcome.
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getrequest: %v", guardnode.ErrServiceRPC, err)
	}

	txid, err := guardtype.ParseHash(res.Txid)
	if err != nil {
		return nil, fmt.Errorf("%w: request txid: %v", guardnode.ErrServiceRPC, err)
	}
	genesis, err := guardtype.ParseHash(res.GenesisBlockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis blockhash: %v", guardnode.ErrServiceRPC, err)
	}

	return &guardtype.Request{
		Txid:                        txid,
		GenesisBlockhash:            genesis,
		StartBlockheight:            res.StartBlockheight,
		EndBlockheight:              res.EndBlockheight,
		StartBlockheightClientchain: res.StartBlockheightClientchain,
		EndBlockheightClientchain:   res.EndBlockheightClientchain,
		FeePercentage:               res.FeePercentage,
		NumTickets:                  res.NumTickets,
	}, nil
}

type bidResult struct {
	Txid   string `json:"txid"`
	Pubkey string `json:"pubkey"`
}

// GetRequestBids implements Adapter.
func (c *Client) GetRequestBids(ctx context.Context, requestTxid guardtype.Hash) ([]guardtype.Bid, error) {
	var res []bidResult
	err := c.rpc.Call(ctx, "getrequestbids", []any{requestTxid.String()}, &res)
	if err != nil && !errors.Is(err, rpcutil.ErrNotFound) {
		return nil, fmt.Errorf("%w: getrequestbids: %v", guardnode.ErrServiceRPC, err)
	}
	if len(res) == 0 {
		return nil, guardnode.ErrMissingBids
	}

	bids := make([]guardtype.Bid, 0, len(res))
	for _, b := range res {
		txid, err := guardtype.ParseHash(b.Txid)
		if err != nil {
			return nil, fmt.Errorf("%w: bid txid: %v", guardnode.ErrServiceRPC, err)
		}
		pubkey, err := sigkit.ParsePublicKeyHex(b.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("%w: bid pubkey: %v", guardnode.ErrServiceRPC, err)
		}
		bids = append(bids, guardtype.Bid{Txid: txid, Pubkey: pubkey})
	}
	return bids, nil
}

// GetBlockheight implements Adapter.
func (c *Client) GetBlockheight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.rpc.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, fmt.Errorf("%w: getblockcount: %v", guardnode.ErrServiceRPC, err)
	}
	return height, nil
}
