// ABOUTME: Router service: registers users onto cells, logs them in and vouches for their tokens
// ABOUTME: Cell assignment is a uniform random pick among active prod cells, made exactly once

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/2389/cellular/internal/auth"
	"github.com/2389/cellular/internal/directory"
	"github.com/2389/cellular/internal/metrics"
	"github.com/2389/cellular/internal/registry"
	"github.com/2389/cellular/internal/store"
)

// Router errors
var (
	ErrNoCellsAvailable = errors.New("no cells available")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidToken     = errors.New("invalid token")
)

// RegisterResult is returned by Register. Credential is only set when the
// router generated it.
type RegisterResult struct {
	Username   string
	CellID     string
	Credential string
}

// LoginResult is returned by Login
type LoginResult struct {
	Token       string
	CellID      string
	CellAddress string
}

// Service implements the router operations
type Service struct {
	dir      *directory.Directory
	reg      *registry.Registry
	signer   auth.TokenIssuer
	verifier auth.TokenVerifier
	stage    store.Stage
	pick     func(n int) int
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithPicker replaces the random cell choice; pick returns an index in [0, n)
func WithPicker(pick func(n int) int) Option {
	return func(s *Service) { s.pick = pick }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithStage changes which stage new users are assigned to
func WithStage(stage store.Stage) Option {
	return func(s *Service) { s.stage = stage }
}

// NewService creates a router Service
func NewService(dir *directory.Directory, reg *registry.Registry, signer auth.TokenIssuer, verifier auth.TokenVerifier, opts ...Option) *Service {
	s := &Service{
		dir:      dir,
		reg:      reg,
		signer:   signer,
		verifier: verifier,
		stage:    store.StageProd,
		pick:     rand.IntN,
		metrics:  metrics.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "router")
	return s
}

// Register assigns a new user to a random active cell. An empty credential
// is replaced by a generated one, returned once in the result.
func (s *Service) Register(ctx context.Context, username, credential string) (result *RegisterResult, err error) {
	defer func() { s.metrics.RecordRegistration(metrics.Outcome(err)) }()

	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}

	cells, err := s.reg.ListActive(ctx, s.stage)
	if err != nil {
		return nil, fmt.Errorf("listing cells: %w", err)
	}
	if len(cells) == 0 {
		return nil, ErrNoCellsAvailable
	}
	cell := cells[s.pick(len(cells))]

	result = &RegisterResult{Username: username, CellID: cell.ID}
	if credential == "" {
		credential, err = directory.GenerateCredential()
		if err != nil {
			return nil, err
		}
		result.Credential = credential
	}

	if _, err := s.dir.Create(ctx, username, credential, cell.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// Login authenticates the user and issues a token for their cell. Unknown
// users and wrong credentials both yield directory.ErrAuthFailed.
func (s *Service) Login(ctx context.Context, username, credential string) (result *LoginResult, err error) {
	defer func() { s.metrics.RecordLogin(metrics.Outcome(err)) }()

	user, err := s.dir.Authenticate(ctx, username, credential)
	if err != nil {
		return nil, err
	}

	addr, err := s.reg.ResolveAddress(ctx, user.CellID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("cell %s: %w", user.CellID, registry.ErrAddressUnresolved)
		}
		return nil, err
	}

	token, err := s.signer.Issue(user.Username, user.CellID)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Debug("login", "username", user.Username, "cell_id", user.CellID)
	return &LoginResult{Token: token, CellID: user.CellID, CellAddress: addr}, nil
}

// Validate checks a token against the router's own records: the signature
// must be valid and the embedded cell must be the user's assigned cell.
func (s *Service) Validate(ctx context.Context, token string) (claims *auth.Claims, err error) {
	defer func() { s.metrics.RecordTokenVerification(metrics.Outcome(err)) }()

	claims, err = s.verifier.VerifyAny(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	user, err := s.dir.Get(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: looking up user: %w", auth.ErrVerificationUnavailable, err)
	}
	if user.CellID != claims.CellID {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, auth.ErrCellMismatch)
	}
	return claims, nil
}

// Cells returns the ids of every active cell, whatever its stage
func (s *Service) Cells(ctx context.Context) ([]string, error) {
	cells, err := s.reg.ListActive(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing cells: %w", err)
	}
	ids := make([]string, 0, len(cells))
	for _, c := range cells {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Ready reports whether the registry can be read
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.reg.ListActive(ctx, s.stage)
	return err
}
