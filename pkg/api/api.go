// Package api serves the read-only query surface:
// GET /api/responses/{txid}, returning an aggregate's
// out-of-core get_challenge_responses method.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/httputil"
	"github.com/commerceblock/guardnode-coordinator/pkg/metrics"
	"github.com/commerceblock/guardnode-coordinator/pkg/store"
)

// Config controls the API's bind address, optional Basic Auth, and whether
// the Prometheus /metrics endpoint is mounted alongside the query routes.
type Config struct {
	Address        string
	User           string
	Pass           string
	MetricsEnabled bool
}

// API serves read-only response queries against a Store.
type API struct {
	cfg    Config
	log    *zap.Logger
	st     store.Store
	server *http.Server
}

// New builds an API server.
func New(cfg Config, log *zap.Logger, st store.Store) *API {
	a := &API{cfg: cfg, log: log, st: st}

	router := mux.NewRouter()
	handler := http.Handler(http.HandlerFunc(a.handleResponses))
	if cfg.User != "" || cfg.Pass != "" {
		handler = basicAuth(cfg.User, cfg.Pass, handler)
	}
	router.Handle("/api/responses/{txid}", httputil.WithRequestID(handler)).Methods(http.MethodGet)
	if cfg.MetricsEnabled {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	a.server = &http.Server{Addr: cfg.Address, Handler: router}
	return a
}

// Run starts serving and blocks until the server stops or fails.
func (a *API) Run() error {
	a.log.Info("read-only api starting", zap.String("address", a.cfg.Address))
	err := a.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits up to 1s for
// in-flight requests to finish.
func (a *API) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

type responseBody struct {
	NumChallenges uint32            `json:"numChallenges"`
	BidResponses  map[string]uint32 `json:"bidResponses"`
}

func (a *API) handleResponses(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["txid"]
	txid, err := guardtype.ParseHash(raw)
	if err != nil {
		http.Error(w, "invalid txid", http.StatusBadRequest)
		return
	}

	resp, ok, err := a.st.GetResponse(r.Context(), txid)
	if err != nil {
		a.log.Error("failed to load response",
			zap.String("requestId", httputil.RequestIDFromContext(r.Context())),
			zap.String("txid", raw), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body := responseBody{NumChallenges: resp.NumChallenges, BidResponses: make(map[string]uint32, len(resp.BidResponses))}
	for h, n := range resp.BidResponses {
		body.BidResponses[h.String()] = n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
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
