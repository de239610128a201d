// ABOUTME: User directory mapping usernames to credential hashes and assigned cells
// ABOUTME: Registration is insert-if-absent; authentication does equal work for every failure

package directory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/cellular/internal/store"
)

// ErrAuthFailed is returned by Authenticate for an unknown user and for a
// wrong credential alike
var ErrAuthFailed = errors.New("authentication failed")

// GeneratedCredentialBytes is the entropy of a server-generated credential
const GeneratedCredentialBytes = 24

// Directory is the user directory over a UserStore
type Directory struct {
	users  store.UserStore
	cost   int
	logger *slog.Logger
	now    func() time.Time

	// dummyHash is compared against when the user does not exist
	dummyHash []byte
}

// Option configures a Directory
type Option func(*Directory)

// WithBcryptCost overrides bcrypt.DefaultCost; tests use bcrypt.MinCost
func WithBcryptCost(cost int) Option {
	return func(d *Directory) { d.cost = cost }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) { d.logger = logger }
}

// New creates a Directory
func New(users store.UserStore, opts ...Option) (*Directory, error) {
	d := &Directory{
		users:  users,
		cost:   bcrypt.DefaultCost,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "directory")

	dummy, err := bcrypt.GenerateFromPassword(prehash("cellular-directory-dummy"), d.cost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}
	d.dummyHash = dummy
	return d, nil
}

// Get returns the user record, or store.ErrNotFound
func (d *Directory) Get(ctx context.Context, username string) (*store.User, error) {
	return d.users.GetUser(ctx, username)
}

// Create registers a user bound to cellID. The credential is stored only as
// a bcrypt hash. An existing username yields store.ErrAlreadyExists and the
// stored record is left untouched.
func (d *Directory) Create(ctx context.Context, username, credential, cellID string) (*store.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if credential == "" {
		return nil, fmt.Errorf("credential is required")
	}
	if cellID == "" {
		return nil, fmt.Errorf("cell id is required")
	}

	hash, err := bcrypt.GenerateFromPassword(prehash(credential), d.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing credential: %w", err)
	}

	user := &store.User{
		Username:       username,
		CredentialHash: string(hash),
		CellID:         cellID,
		CreatedAt:      d.now().UTC(),
	}
	if err := d.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	d.logger.Info("user registered", "username", username, "cell_id", cellID)
	return user, nil
}

// Delete removes a user, or returns store.ErrNotFound
func (d *Directory) Delete(ctx context.Context, username string) error {
	if err := d.users.DeleteUser(ctx, username); err != nil {
		return err
	}
	d.logger.Info("user deleted", "username", username)
	return nil
}

// List returns every user
func (d *Directory) List(ctx context.Context) ([]*store.User, error) {
	return d.users.ListUsers(ctx)
}

// Authenticate checks a credential. Absent users are compared against a
// dummy hash so both failure paths cost one bcrypt comparison.
func (d *Directory) Authenticate(ctx context.Context, username, credential string) (*store.User, error) {
	user, err := d.users.GetUser(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(d.dummyHash, prehash(credential))
		return nil, ErrAuthFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.CredentialHash), prehash(credential)); err != nil {
		return nil, ErrAuthFailed
	}
	return user, nil
}

// prehash condenses a credential of any length to 44 bytes, under bcrypt's
// 72-byte input limit
func prehash(credential string) []byte {
	sum := sha256.Sum256([]byte(credential))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// GenerateCredential returns a random URL-safe credential
func GenerateCredential() (string, error) {
	b := make([]byte, GeneratedCredentialBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
