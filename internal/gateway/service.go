// ABOUTME: Cell gateway service: verifies capability tokens and serves per-user items
// ABOUTME: Every operation is keyed by the verified username and goes straight to the store

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/cellular/internal/auth"
	"github.com/2389/cellular/internal/metrics"
	"github.com/2389/cellular/internal/store"
)

// ErrUnauthorized wraps every token rejection
var ErrUnauthorized = errors.New("unauthorized")

// ErrEmptyKey is returned for operations without a key
var ErrEmptyKey = errors.New("key is required")

// Service implements the cell gateway operations
type Service struct {
	cellID   string
	verifier auth.TokenVerifier
	items    store.ItemStore
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewService creates a gateway for cellID
func NewService(cellID string, verifier auth.TokenVerifier, items store.ItemStore, recorder metrics.Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cellID:   cellID,
		verifier: verifier,
		items:    items,
		metrics:  recorder,
		logger:   logger.With("component", "gateway", "cell_id", cellID),
	}
}

// CellID returns the cell this gateway serves
func (s *Service) CellID() string {
	return s.cellID
}

// VerifyRequest checks the token against this cell and returns its claims
func (s *Service) VerifyRequest(ctx context.Context, token string) (claims *auth.Claims, err error) {
	defer func() { s.metrics.RecordTokenVerification(metrics.Outcome(err)) }()

	claims, err = s.verifier.Verify(token, s.cellID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims, nil
}

// Put stores value under (username, key)
func (s *Service) Put(ctx context.Context, username, key, value string) (err error) {
	defer func() { s.metrics.RecordItemOp("put", metrics.Outcome(err)) }()

	if key == "" {
		return ErrEmptyKey
	}
	return s.items.PutItem(ctx, username, key, value)
}

// Get returns the value under (username, key), or store.ErrNotFound
func (s *Service) Get(ctx context.Context, username, key string) (value string, err error) {
	defer func() {
		outcome := metrics.Outcome(err)
		if errors.Is(err, store.ErrNotFound) {
			outcome = "not_found"
		}
		s.metrics.RecordItemOp("get", outcome)
	}()

	if key == "" {
		return "", ErrEmptyKey
	}
	return s.items.GetItem(ctx, username, key)
}

// Delete removes (username, key). Deleting a missing item succeeds.
func (s *Service) Delete(ctx context.Context, username, key string) (err error) {
	defer func() { s.metrics.RecordItemOp("delete", metrics.Outcome(err)) }()

	if key == "" {
		return ErrEmptyKey
	}
	return s.items.DeleteItem(ctx, username, key)
}

// Ready reports whether the item store answers
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.items.GetItem(ctx, "", "")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}
