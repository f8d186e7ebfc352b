// Package httpapi exposes identity, trust, ledger, and policy operations
// over HTTP with github.com/go-chi/chi/v5, for local inspection, smoke
// testing, and the bundled cmd/governd process.
package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"trustcore/identity"
	"trustcore/ledger"
	"trustcore/observability/metrics"
	"trustcore/trust"
)

// Config captures the components a Server exposes over HTTP.
type Config struct {
	Identity *identity.Store
	Trust    *trust.Engine
	Ledger   *ledger.Engine
}

// Server wires the governance core's components behind a chi router.
type Server struct {
	identity *identity.Store
	trust    *trust.Engine
	ledger   *ledger.Engine

	router http.Handler
}

// New constructs a Server and builds its router.
func New(cfg Config) *Server {
	s := &Server{identity: cfg.Identity, trust: cfg.Trust, ledger: cfg.Ledger}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/identity", func(ir chi.Router) {
		ir.Post("/lct", s.createLCT)
		ir.Get("/lct/{id}", s.getLCT)
		ir.Post("/lct/{id}/verify", s.verifyLCT)
		ir.Post("/lct/{id}/bind", s.bindLCT)
		ir.Post("/lct/{id}/revoke", s.revokeLCT)
		ir.Post("/lct/{id}/delegate", s.delegateLCT)
		ir.Post("/lct/{id}/witness", s.witnessLCT)
		ir.Get("/lct/{id}/chain", s.chainLCT)
		ir.Get("/lct", s.queryLCT)
	})

	r.Route("/v1/trust", func(tr chi.Router) {
		tr.Get("/record", s.getTrustRecord)
		tr.Post("/update", s.updateTrust)
		tr.Get("/history", s.trustHistory)
		tr.Get("/compare", s.compareTrust)
		tr.Post("/aggregate", s.aggregateTrust)
		tr.Post("/decay", s.decayTrust)
	})

	r.Route("/v1/ledger", func(lr chi.Router) {
		lr.Post("/sessions", s.openSession)
		lr.Post("/sessions/{id}/append", s.appendRecord)
		lr.Post("/sessions/{id}/close", s.closeSession)
		lr.Get("/sessions/{id}/verify", s.verifySessionChain)
		lr.Get("/sessions/{id}/stats", s.sessionStats)
		lr.Get("/records", s.queryRecords)
		lr.Post("/heartbeat", s.heartbeat)
		lr.Post("/policies", s.registerPolicy)
		lr.Get("/policies/{id}", s.getPolicy)
		lr.Post("/policies/{id}/witness", s.witnessPolicy)
		lr.Get("/rate-limit", s.rateLimitCheck)
		lr.Post("/rate-limit", s.rateLimitRecord)
		lr.Post("/references", s.recordReference)
	})

	return r
}

func hexBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
