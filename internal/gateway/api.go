// ABOUTME: HTTP API for the cell gateway: put, get, delete and validate
// ABOUTME: All item routes sit behind bearer token verification for this cell

package gateway

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
	"github.com/2389/cellular/internal/metrics"
	"github.com/2389/cellular/internal/middleware"
	"github.com/2389/cellular/internal/store"
)

// maxBodyBytes bounds request bodies, values included
const maxBodyBytes = 1 << 20

// ItemRequest is the body of /put, /get and /delete
type ItemRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// ValueResponse is the body of a successful /get
type ValueResponse struct {
	Value string `json:"value"`
}

// ValidateResponse is the body of a successful /validate
type ValidateResponse struct {
	Username string `json:"username"`
	CellID   string `json:"cell_id"`
}

// HandlerOptions configures the gateway HTTP handler
type HandlerOptions struct {
	RequestTimeout time.Duration
	Collector      *metrics.Collector
	Gatherer       prometheus.Gatherer
	MetricsPath    string
	Logger         *slog.Logger
}

type api struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds the gateway's HTTP handler
func NewHandler(svc *Service, opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{svc: svc, logger: logger.With("component", "gateway-api")}

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
		r.Use(auth.BearerMiddleware(svc.VerifyRequest, logger), middleware.RecordIdentity)

		r.Post("/put", a.handlePut)
		r.Post("/get", a.handleGet)
		r.Post("/delete", a.handleDelete)
		r.Get("/validate", a.handleValidate)
		r.Post("/validate", a.handleValidate)
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

func decodeItem(w http.ResponseWriter, r *http.Request) (*ItemRequest, bool) {
	var req ItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if req.Key == "" {
		sendJSONError(w, http.StatusBadRequest, "key is required")
		return nil, false
	}
	return &req, true
}

func (a *api) handlePut(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	id := auth.MustFromContext(r.Context())

	if err := a.svc.Put(r.Context(), id.Username, req.Key, req.Value); err != nil {
		a.internalError(w, r, "put", err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	id := auth.MustFromContext(r.Context())

	value, err := a.svc.Get(r.Context(), id.Username, req.Key)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, ValueResponse{Value: value})
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "not found")
	default:
		a.internalError(w, r, "get", err)
	}
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	id := auth.MustFromContext(r.Context())

	if err := a.svc.Delete(r.Context(), id.Username, req.Key); err != nil {
		a.internalError(w, r, "delete", err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	sendJSON(w, http.StatusOK, ValidateResponse{Username: id.Username, CellID: id.CellID})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

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
