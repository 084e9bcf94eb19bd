// Package server exposes the escrow engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pactum/escrow"
	escrowmw "pactum/services/escrowd/middleware"
)

const maxBodyBytes = 1 << 20

// Engine is the subset of escrow.Engine served over HTTP.
type Engine interface {
	Create(ctx context.Context, req escrow.CreateRequest) (*escrow.Account, error)
	Get(ctx context.Context, id string) (*escrow.Account, error)
	Balance(ctx context.Context, id string) (escrow.Balance, error)
	Deposit(ctx context.Context, id string, req escrow.DepositRequest) (*escrow.DepositInstruction, error)
	ConfirmDeposit(ctx context.Context, id string, amount decimal.Decimal, reference string) (*escrow.Account, error)
	SyncSettlement(ctx context.Context, id, reference string) (*escrow.Account, error)
	Release(ctx context.Context, id string, req escrow.ReleaseRequest) (*escrow.ReleaseResult, error)
	ReleasePartial(ctx context.Context, id string, req escrow.PartialReleaseRequest) (*escrow.ReleaseResult, error)
	Refund(ctx context.Context, id, reason string) (*escrow.RefundResult, error)
	Freeze(ctx context.Context, id, disputeID string) (*escrow.Account, error)
	CalculateFee(amount decimal.Decimal) decimal.Decimal
	Config() escrow.Config
}

// EventSource returns the persisted audit trail of an account.
type EventSource interface {
	Events(ctx context.Context, accountID string) ([]escrow.Event, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    Engine
	DB        *gorm.DB
	Events    EventSource
	Logger    *slog.Logger
	RateLimit escrowmw.RateLimit
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine  Engine
	db      *gorm.DB
	events  EventSource
	logger  *slog.Logger
	limiter *escrowmw.RateLimiter

	router http.Handler
}

// New constructs the router. DB, when set, backs idempotency keys and the
// health check.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  cfg.Engine,
		db:      cfg.DB,
		events:  cfg.Events,
		logger:  logger,
		limiter: escrowmw.NewRateLimiter(cfg.RateLimit, logger),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RateLimiter exposes the limiter so the caller can run its janitor.
func (s *Server) RateLimiter() *escrowmw.RateLimiter {
	return s.limiter
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(escrowmw.Observe(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware("/api/v1"))
		if s.db != nil {
			r.Use(escrowmw.WithIdempotency(s.db, s.logger))
		}
		r.Get("/fees", s.handleFee)
		r.Route("/escrows", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Get("/balance", s.handleBalance)
				r.Get("/events", s.handleEvents)
				r.Post("/deposits", s.handleDeposit)
				r.Post("/deposits/confirm", s.handleConfirmDeposit)
				r.Post("/deposits/sync", s.handleSyncSettlement)
				r.Post("/release", s.handleRelease)
				r.Post("/release/partial", s.handleReleasePartial)
				r.Post("/refund", s.handleRefund)
				r.Post("/freeze", s.handleFreeze)
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			s.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err)
		msg = http.StatusText(status)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", escrow.ErrInvalidRequest, err)
	}
	return nil
}
