// ABOUTME: HTTP API for the router: register, login, validate and cell listing
// ABOUTME: Maps service errors onto status codes with JSON error bodies

package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/cellular/internal/auth"
	"github.com/2389/cellular/internal/directory"
	"github.com/2389/cellular/internal/metrics"
	"github.com/2389/cellular/internal/middleware"
	"github.com/2389/cellular/internal/registry"
	"github.com/2389/cellular/internal/store"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 16

// CredentialsRequest is the body of POST /register and POST /login
type CredentialsRequest struct {
	Username   string `json:"username"`
	Credential string `json:"credential"`
}

// RegisterResponse is the body of a successful POST /register
type RegisterResponse struct {
	Username   string `json:"username"`
	Credential string `json:"credential,omitempty"`
}

// LoginResponse is the body of a successful POST /login
type LoginResponse struct {
	Token       string `json:"token"`
	CellAddress string `json:"cell_address"`
	CellID      string `json:"cell_id"`
}

// ValidateResponse is the body of a successful GET /validate
type ValidateResponse struct {
	Username string `json:"username"`
	CellID   string `json:"cell_id"`
}

// HandlerOptions configures the router HTTP handler
type HandlerOptions struct {
	RequestTimeout time.Duration
	RateLimiter    *middleware.RateLimiter // nil disables rate limiting
	Collector      *metrics.Collector      // nil disables request metrics
	Gatherer       prometheus.Gatherer     // nil disables /metrics
	MetricsPath    string
	Logger         *slog.Logger
}

type api struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds the router's HTTP handler
func NewHandler(svc *Service, opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{svc: svc, logger: logger.With("component", "router-api")}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.Logging(logger), middleware.Recovery(logger))
	if opts.Collector != nil {
		r.Use(opts.Collector.Middleware)
	}

	r.Get("/health", a.handleHealth)
	r.Get("/health/ready", a.handleReady)
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, metrics.Handler(opts.Gatherer))
	}

	r.Group(func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chimw.Timeout(opts.RequestTimeout))
		}

		r.Group(func(r chi.Router) {
			if opts.RateLimiter != nil {
				r.Use(opts.RateLimiter.Middleware)
			}
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
		})

		r.Get("/cells", a.handleCells)

		r.Group(func(r chi.Router) {
			r.Use(auth.BearerMiddleware(svc.Validate, logger), middleware.RecordIdentity)
			r.Get("/validate", a.handleValidate)
			r.Post("/validate", a.handleValidate)
		})
	})

	return r
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (*CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if req.Username == "" {
		sendJSONError(w, http.StatusBadRequest, "username is required")
		return nil, false
	}
	return &req, true
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	result, err := a.svc.Register(r.Context(), req.Username, req.Credential)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, RegisterResponse{Username: result.Username, Credential: result.Credential})
	case errors.Is(err, store.ErrAlreadyExists):
		sendJSONError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, ErrInvalidRequest):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoCellsAvailable):
		sendJSONError(w, http.StatusServiceUnavailable, "no cells available")
	default:
		a.internalError(w, r, "register", err)
	}
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	result, err := a.svc.Login(r.Context(), req.Username, req.Credential)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, LoginResponse{Token: result.Token, CellAddress: result.CellAddress, CellID: result.CellID})
	case errors.Is(err, directory.ErrAuthFailed):
		sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, registry.ErrAddressUnresolved):
		a.logger.Warn("cell address unresolved", "username", req.Username, "error", err)
		sendJSONError(w, http.StatusServiceUnavailable, "cell unavailable")
	default:
		a.internalError(w, r, "login", err)
	}
}

func (a *api) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	sendJSON(w, http.StatusOK, ValidateResponse{Username: id.Username, CellID: id.CellID})
}

func (a *api) handleCells(w http.ResponseWriter, r *http.Request) {
	ids, err := a.svc.Cells(r.Context())
	if err != nil {
		a.internalError(w, r, "cells", err)
		return
	}
	sendJSON(w, http.StatusOK, ids)
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether the registry answers
func (a *api) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Ready(r.Context()); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *api) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	a.logger.Error("request failed", "op", op, "request_id", chimw.GetReqID(r.Context()), "error", err)
	sendJSONError(w, http.StatusInternalServerError, "internal error")
}
