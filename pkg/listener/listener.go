// Package listener runs the HTTP ingress that receives challenge proofs
// from guardnodes and forwards validated ones to the Challenge Engine,
// built on gorilla/mux like its sibling HTTP service, the read-only API.
package listener

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/httputil"
	"github.com/commerceblock/guardnode-coordinator/pkg/metrics"
	"github.com/commerceblock/guardnode-coordinator/pkg/sigkit"
)

// maxBodyBytes caps the challenge-proof request body so a misbehaving
// guardnode client cannot force an unbounded read.
const maxBodyBytes = 4 << 10

// Config controls the Listener's bind address and optional Basic Auth.
type Config struct {
	Address string
	User    string
	Pass    string
}

// proofRequest is the wire shape of a challenge-proof submission: the
// responding bid's txid, the pubkey it claims to answer with, the
// challenge hash being answered, and a DER-encoded ECDSA signature over
// the challenge hash by that pubkey.
type proofRequest struct {
	BidTxid       guardtype.Hash `json:"txid"`
	Pubkey        string         `json:"pubkey"`
	ChallengeHash guardtype.Hash `json:"hash"`
	SigDER        string         `json:"sig"`
}

// Listener serves POST /challengeproof against a single SharedState,
// forwarding accepted proofs on out.
type Listener struct {
	cfg    Config
	log    *zap.Logger
	state  *guardtype.SharedState
	out    chan<- guardtype.ChallengeResponse
	server *http.Server
}

// New builds a Listener. out must be the same channel the Challenge Engine
// reads from; state must be the same SharedState the Engine writes to.
func New(cfg Config, log *zap.Logger, state *guardtype.SharedState, out chan<- guardtype.ChallengeResponse) *Listener {
	l := &Listener{cfg: cfg, log: log, state: state, out: out}

	router := mux.NewRouter()
	handler := http.Handler(http.HandlerFunc(l.handleProof))
	if cfg.User != "" || cfg.Pass != "" {
		handler = basicAuth(cfg.User, cfg.Pass, handler)
	}
	router.Handle("/challengeproof", httputil.WithRequestID(handler)).Methods(http.MethodPost)

	l.server = &http.Server{
		Addr:    cfg.Address,
		Handler: router,
	}
	return l
}

// Run starts serving and blocks until the server stops or fails. A clean
// Shutdown call returns http.ErrServerClosed, which Run swallows.
func (l *Listener) Run() error {
	l.log.Info("listener starting", zap.String("address", l.cfg.Address))
	err := l.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits up to 1s for
// in-flight requests to finish.
func (l *Listener) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

func (l *Listener) handleProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	reqID := httputil.RequestIDFromContext(r.Context())

	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.log.Debug("dropped malformed challenge proof", zap.String("requestId", reqID), zap.Error(err))
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	snap := l.state.Read()
	if snap.Latest == nil || !snap.Latest.Equals(req.ChallengeHash) {
		// No open window, or this proof answers a stale/unknown
		// challenge; the Listener drops it silently rather than
		// erroring, since a slow guardnode racing window closure is
		// expected traffic, not a client bug.
		l.log.Debug("dropped proof for non-current challenge",
			zap.String("requestId", reqID), zap.String("challengeHash", req.ChallengeHash.String()))
		metrics.ResponsesDropped.Inc()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	bid, ok := snap.Bids.Find(req.BidTxid)
	if !ok {
		l.log.Debug("dropped proof from unknown bid", zap.String("requestId", reqID), zap.String("bidTxid", req.BidTxid.String()))
		metrics.ResponsesDropped.Inc()
		http.Error(w, "unknown bid", http.StatusForbidden)
		return
	}

	pubkey, err := sigkit.ParsePublicKeyHex(req.Pubkey)
	if err != nil || !pubkey.Equals(bid.Pubkey) {
		l.log.Debug("dropped proof with mismatched pubkey", zap.String("requestId", reqID), zap.String("bidTxid", req.BidTxid.String()))
		metrics.ResponsesDropped.Inc()
		http.Error(w, "pubkey mismatch", http.StatusForbidden)
		return
	}

	sigDER, err := hex.DecodeString(req.SigDER)
	if err != nil || !bid.Pubkey.VerifyDER(sigDER, req.ChallengeHash[:]) {
		l.log.Debug("dropped proof with invalid signature", zap.String("requestId", reqID), zap.String("bidTxid", req.BidTxid.String()))
		metrics.ResponsesDropped.Inc()
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	select {
	case l.out <- guardtype.ChallengeResponse{ChallengeHash: req.ChallengeHash, Bid: bid}:
		metrics.ResponsesAccepted.Inc()
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	}
}

func basicAuth(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="guardnode-coordinator"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
