// Package mongostore implements pkg/store.Store against MongoDB, grounded
// Three collections back the
// contract: requests, bids and responses, each carrying a unique index so
// the insert-if-absent semantics are enforced by the database
// rather than by application-level locking.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/sigkit"
)

const (
	requestsCollection  = "requests"
	bidsCollection      = "bids"
	responsesCollection = "responses"
)

// Store is the MongoDB-backed store.Store implementation.
type Store struct {
	requests  *mongo.Collection
	bids      *mongo.Collection
	responses *mongo.Collection
}

// Connect dials uri, selects dbName, and ensures the collections' unique
// indexes exist before returning. Mirrors the original's storage.rs
// connection + index-creation step run once at startup.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", guardnode.ErrStore, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: mongo ping: %v", guardnode.ErrStore, err)
	}

	db := client.Database(dbName)
	s := &Store{
		requests:  db.Collection(requestsCollection),
		bids:      db.Collection(bidsCollection),
		responses: db.Collection(responsesCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.requests.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "txid", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("%w: requests index: %v", guardnode.ErrStore, err)
	}
	if _, err := s.bids.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "requestTxid", Value: 1}, {Key: "txid", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("%w: bids index: %v", guardnode.ErrStore, err)
	}
	if _, err := s.responses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "requestTxid", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("%w: responses index: %v", guardnode.ErrStore, err)
	}
	return nil
}

type requestDoc struct {
	Txid                        string `bson:"txid"`
	GenesisBlockhash            string `bson:"genesisBlockhash"`
	StartBlockheight            uint32 `bson:"startBlockheight"`
	EndBlockheight              uint32 `bson:"endBlockheight"`
	StartBlockheightClientchain uint32 `bson:"startBlockheightClientchain"`
	EndBlockheightClientchain   uint32 `bson:"endBlockheightClientchain"`
	FeePercentage               uint32 `bson:"feePercentage"`
	NumTickets                  uint32 `bson:"numTickets"`
	IsPaymentComplete           bool   `bson:"isPaymentComplete"`
	PaymentTxid                 string `bson:"paymentTxid,omitempty"`
}

func toRequestDoc(r guardtype.Request) requestDoc {
	d := requestDoc{
		Txid:                        r.Txid.String(),
		GenesisBlockhash:            r.GenesisBlockhash.String(),
		StartBlockheight:            r.StartBlockheight,
		EndBlockheight:              r.EndBlockheight,
		StartBlockheightClientchain: r.StartBlockheightClientchain,
		EndBlockheightClientchain:   r.EndBlockheightClientchain,
		FeePercentage:               r.FeePercentage,
		NumTickets:                  r.NumTickets,
		IsPaymentComplete:           r.IsPaymentComplete,
	}
	if r.PaymentTxid != nil {
		d.PaymentTxid = r.PaymentTxid.String()
	}
	return d
}

func (d requestDoc) toRequest() (guardtype.Request, error) {
	txid, err := guardtype.ParseHash(d.Txid)
	if err != nil {
		return guardtype.Request{}, err
	}
	genesis, err := guardtype.ParseHash(d.GenesisBlockhash)
	if err != nil {
		return guardtype.Request{}, err
	}
	r := guardtype.Request{
		Txid:                        txid,
		GenesisBlockhash:            genesis,
		StartBlockheight:            d.StartBlockheight,
		EndBlockheight:              d.EndBlockheight,
		StartBlockheightClientchain: d.StartBlockheightClientchain,
		EndBlockheightClientchain:   d.EndBlockheightClientchain,
		FeePercentage:               d.FeePercentage,
		NumTickets:                  d.NumTickets,
		IsPaymentComplete:           d.IsPaymentComplete,
	}
	if d.PaymentTxid != "" {
		h, err := guardtype.ParseHash(d.PaymentTxid)
		if err != nil {
			return guardtype.Request{}, err
		}
		r.PaymentTxid = &h
	}
	return r, nil
}

type bidDoc struct {
	RequestTxid string `bson:"requestTxid"`
	Txid        string `bson:"txid"`
	Pubkey      string `bson:"pubkey"`
	PaymentTxid string `bson:"paymentTxid,omitempty"`
	PaymentVout uint32 `bson:"paymentVout,omitempty"`
	Amount      uint64 `bson:"amount,omitempty"`
}

func toBidDoc(requestTxid guardtype.Hash, b guardtype.Bid) bidDoc {
	d := bidDoc{
		RequestTxid: requestTxid.String(),
		Txid:        b.Txid.String(),
		Pubkey:      b.Pubkey.String(),
	}
	if b.Payment != nil {
		d.PaymentTxid = b.Payment.Txid.String()
		d.PaymentVout = b.Payment.Vout
		d.Amount = b.Payment.Amount
	}
	return d
}

func (d bidDoc) toBid() (guardtype.Bid, error) {
	txid, err := guardtype.ParseHash(d.Txid)
	if err != nil {
		return guardtype.Bid{}, err
	}
	pubkey, err := sigkit.ParsePublicKeyHex(d.Pubkey)
	if err != nil {
		return guardtype.Bid{}, err
	}
	b := guardtype.Bid{Txid: txid, Pubkey: pubkey}
	if d.PaymentTxid != "" {
		ptxid, err := guardtype.ParseHash(d.PaymentTxid)
		if err != nil {
			return guardtype.Bid{}, err
		}
		b.Payment = &guardtype.BidPayment{Txid: ptxid, Vout: d.PaymentVout, Amount: d.Amount}
	}
	return b, nil
}

type responseDoc struct {
	RequestTxid   string            `bson:"requestTxid"`
	NumChallenges uint32            `bson:"numChallenges"`
	BidResponses  map[string]uint32 `bson:"bidResponses"`
}

func toResponseDoc(requestTxid guardtype.Hash, r guardtype.Response) responseDoc {
	d := responseDoc{
		RequestTxid:   requestTxid.String(),
		NumChallenges: r.NumChallenges,
		BidResponses:  make(map[string]uint32, len(r.BidResponses)),
	}
	for h, n := range r.BidResponses {
		d.BidResponses[h.String()] = n
	}
	return d
}

func (d responseDoc) toResponse() (guardtype.Response, error) {
	r := guardtype.Response{BidResponses: make(map[guardtype.Hash]uint32, len(d.BidResponses))}
	r.NumChallenges = d.NumChallenges
	for hs, n := range d.BidResponses {
		h, err := guardtype.ParseHash(hs)
		if err != nil {
			return guardtype.Response{}, err
		}
		r.BidResponses[h] = n
	}
	return r, nil
}

// SaveChallengeRequestState implements store.Store. A duplicate-key error on
// either collection means this request was already persisted by a prior
// run and is treated as success, matching the original's idempotent
// "insert if not already present" recovery semantics.
func (s *Store) SaveChallengeRequestState(ctx context.Context, req guardtype.Request, bids []guardtype.Bid) error {
	_, err := s.requests.InsertOne(ctx, toRequestDoc(req))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: insert request: %v", guardnode.ErrStore, err)
	}

	for _, b := range bids {
		_, err := s.bids.InsertOne(ctx, toBidDoc(req.Txid, b))
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: insert bid: %v", guardnode.ErrStore, err)
		}
	}
	return nil
}

// UpdateRequest implements store.Store.
func (s *Store) UpdateRequest(ctx context.Context, req guardtype.Request) error {
	_, err := s.requests.ReplaceOne(ctx, bson.M{"txid": req.Txid.String()}, toRequestDoc(req))
	if err != nil {
		return fmt.Errorf("%w: update request: %v", guardnode.ErrStore, err)
	}
	return nil
}

// SaveResponse implements store.Store.
func (s *Store) SaveResponse(ctx context.Context, requestTxid guardtype.Hash, resp guardtype.Response) error {
	_, err := s.responses.ReplaceOne(
		ctx,
		bson.M{"requestTxid": requestTxid.String()},
		toResponseDoc(requestTxid, resp),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: save response: %v", guardnode.ErrStore, err)
	}
	return nil
}

// SaveResponseIfCount implements the strengthened conditional-upsert path
// from Open Question (b): the replace only applies if the persisted
// document's numChallenges still matches expectedCount, detecting a
// concurrent writer racing on the same request. Returns ok=false without
// error when the precondition did not hold.
func (s *Store) SaveResponseIfCount(ctx context.Context, requestTxid guardtype.Hash, expectedCount uint32, resp guardtype.Response) (bool, error) {
	filter := bson.M{"requestTxid": requestTxid.String()}
	if expectedCount == 0 {
		// No document should exist yet; plain insert enforces that via
		// the unique index instead of a filtered replace.
		_, err := s.responses.InsertOne(ctx, toResponseDoc(requestTxid, resp))
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: conditional insert response: %v", guardnode.ErrStore, err)
		}
		return true, nil
	}

	filter["numChallenges"] = expectedCount
	result, err := s.responses.ReplaceOne(ctx, filter, toResponseDoc(requestTxid, resp))
	if err != nil {
		return false, fmt.Errorf("%w: conditional save response: %v", guardnode.ErrStore, err)
	}
	return result.MatchedCount == 1, nil
}

// GetResponse implements store.Store.
func (s *Store) GetResponse(ctx context.Context, requestTxid guardtype.Hash) (guardtype.Response, bool, error) {
	var doc responseDoc
	err := s.responses.FindOne(ctx, bson.M{"requestTxid": requestTxid.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return guardtype.Response{}, false, nil
	}
	if err != nil {
		return guardtype.Response{}, false, fmt.Errorf("%w: get response: %v", guardnode.ErrStore, err)
	}
	resp, err := doc.toResponse()
	if err != nil {
		return guardtype.Response{}, false, fmt.Errorf("%w: decode response: %v", guardnode.ErrStore, err)
	}
	return resp, true, nil
}

// GetBids implements store.Store.
func (s *Store) GetBids(ctx context.Context, requestTxid guardtype.Hash) ([]guardtype.Bid, error) {
	cur, err := s.bids.Find(ctx, bson.M{"requestTxid": requestTxid.String()})
	if err != nil {
		return nil, fmt.Errorf("%w: find bids: %v", guardnode.ErrStore, err)
	}
	defer cur.Close(ctx)

	var bids []guardtype.Bid
	for cur.Next(ctx) {
		var doc bidDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode bid: %v", guardnode.ErrStore, err)
		}
		b, err := doc.toBid()
		if err != nil {
			return nil, fmt.Errorf("%w: decode bid: %v", guardnode.ErrStore, err)
		}
		bids = append(bids, b)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate bids: %v", guardnode.ErrStore, err)
	}
	return bids, nil
}

// GetRequest implements store.Store.
func (s *Store) GetRequest(ctx context.Context, requestTxid guardtype.Hash) (guardtype.Request, bool, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, bson.M{"txid": requestTxid.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return guardtype.Request{}, false, nil
	}
	if err != nil {
		return guardtype.Request{}, false, fmt.Errorf("%w: get request: %v", guardnode.ErrStore, err)
	}
	req, err := doc.toRequest()
	if err != nil {
		return guardtype.Request{}, false, fmt.Errorf("%w: decode request: %v", guardnode.ErrStore, err)
	}
	return req, true, nil
}

// GetRequests implements store.Store.
func (s *Store) GetRequests(ctx context.Context, complete *bool, limit, skip int64) ([]guardtype.Request, error) {
	filter := bson.M{}
	if complete != nil {
		filter["isPaymentComplete"] = *complete
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(skip).SetLimit(limit)
	cur, err := s.requests.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find requests: %v", guardnode.ErrStore, err)
	}
	defer cur.Close(ctx)

	var requests []guardtype.Request
	for cur.Next(ctx) {
		var doc requestDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode request: %v", guardnode.ErrStore, err)
		}
		req, err := doc.toRequest()
		if err != nil {
			return nil, fmt.Errorf("%w: decode request: %v", guardnode.ErrStore, err)
		}
		requests = append(requests, req)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate requests: %v", guardnode.ErrStore, err)
	}
	return requests, nil
}

// GetRequestsCount implements store.Store.
func (s *Store) GetRequestsCount(ctx context.Context, complete *bool) (int64, error) {
	filter := bson.M{}
	if complete != nil {
		filter["isPaymentComplete"] = *complete
	}
	count, err := s.requests.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%w: count requests: %v", guardnode.ErrStore, err)
	}
	return count, nil
}
