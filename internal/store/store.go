// ABOUTME: Store interfaces and data types for users, cells and per-cell items
// ABOUTME: Every mutation is a conditional write so replicas can race safely

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an insert-if-absent finds the key taken
var ErrAlreadyExists = errors.New("already exists")

// ErrStatusConflict is returned when a cell is not in any of the expected statuses
var ErrStatusConflict = errors.New("cell status conflict")

// Stage is the deployment class of a cell
type Stage string

const (
	StageSandbox Stage = "sandbox"
	StageProd    Stage = "prod"
)

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	return s == StageSandbox || s == StageProd
}

// CellStatus is the lifecycle status of a cell
type CellStatus string

const (
	CellStatusProvisioning CellStatus = "provisioning"
	CellStatusActive       CellStatus = "active"
	CellStatusUpdating     CellStatus = "updating"
	CellStatusDeleting     CellStatus = "deleting"
	CellStatusDeleted      CellStatus = "deleted"
)

// User binds a username to its credential hash and assigned cell.
// The cell assignment never changes after creation.
type User struct {
	Username       string
	CredentialHash string
	CellID         string
	CreatedAt      time.Time
}

// Cell is a registry entry for one deployed cell
type Cell struct {
	ID        string
	Stage     Stage
	Status    CellStatus
	Address   string // memoised network address, empty until resolved
	StackRef  string // provisioner handle, empty until provisioning starts
	ImageRef  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CellFilter narrows ListCells. Zero values match everything.
type CellFilter struct {
	Stage    Stage
	Statuses []CellStatus
}

// Matches reports whether c passes the filter
func (f CellFilter) Matches(c *Cell) bool {
	if f.Stage != "" && c.Stage != f.Stage {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

// Transition is a compare-and-set status change on a cell.
// Empty StackRef/ImageRef leave the stored value unchanged.
type Transition struct {
	From     []CellStatus
	To       CellStatus
	StackRef string
	ImageRef string
}

// allows reports whether a cell in status s may take this transition
func (t Transition) allows(s CellStatus) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}

// UserStore persists the user directory
type UserStore interface {
	// CreateUser inserts the user if the username is free, else ErrAlreadyExists.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]*User, error)
}

// CellStore persists the cell registry
type CellStore interface {
	// CreateCell inserts the cell if the id is free, else ErrAlreadyExists.
	CreateCell(ctx context.Context, cell *Cell) error
	GetCell(ctx context.Context, id string) (*Cell, error)
	ListCells(ctx context.Context, filter CellFilter) ([]*Cell, error)
	// PutCell writes the cell unconditionally.
	PutCell(ctx context.Context, cell *Cell) error
	// TransitionCell applies t atomically, returning the updated cell.
	// ErrNotFound if absent, ErrStatusConflict if the status is not in t.From.
	TransitionCell(ctx context.Context, id string, t Transition) (*Cell, error)
	SetCellAddress(ctx context.Context, id, address string) error
	// DeleteCell removes the cell and returns what was removed.
	DeleteCell(ctx context.Context, id string) (*Cell, error)
}

// ItemStore persists per-user key/value items inside one cell
type ItemStore interface {
	PutItem(ctx context.Context, username, key, value string) error
	GetItem(ctx context.Context, username, key string) (string, error)
	// DeleteItem succeeds whether or not the item exists.
	DeleteItem(ctx context.Context, username, key string) error
}

// Store is the full persistence surface. Every backend implements all of it;
// the router uses the user and cell halves, a cell gateway the item half.
type Store interface {
	UserStore
	CellStore
	ItemStore
	Close() error
}
