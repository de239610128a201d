// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the conditional-write semantics

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	users map[string]*User
	cells map[string]*Cell
	items map[string]string // keyed by "username\x00key"

	// Hooks let tests observe or fail specific calls
	OnDeleteCell func(id string)
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users: make(map[string]*User),
		cells: make(map[string]*Cell),
		items: make(map[string]string),
	}
}

// Close is a no-op
func (m *MockStore) Close() error {
	return nil
}

// CreateUser stores a new user if the username is free.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return ErrAlreadyExists
	}
	u := *user
	m.users[u.Username] = &u
	return nil
}

// GetUser retrieves a user by username.
func (m *MockStore) GetUser(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// DeleteUser removes a user.
func (m *MockStore) DeleteUser(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; !ok {
		return ErrNotFound
	}
	delete(m.users, username)
	return nil
}

// ListUsers returns copies of all users ordered by username.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// CreateCell stores a new cell if the id is free.
func (m *MockStore) CreateCell(ctx context.Context, cell *Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cells[cell.ID]; ok {
		return ErrAlreadyExists
	}
	c := *cell
	m.cells[c.ID] = &c
	return nil
}

// GetCell retrieves a cell by id.
func (m *MockStore) GetCell(ctx context.Context, id string) (*Cell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cells[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListCells returns copies of matching cells ordered by id.
func (m *MockStore) ListCells(ctx context.Context, filter CellFilter) ([]*Cell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cells []*Cell
	for _, c := range m.cells {
		if filter.Matches(c) {
			cp := *c
			cells = append(cells, &cp)
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
	return cells, nil
}

// PutCell writes a cell unconditionally.
func (m *MockStore) PutCell(ctx context.Context, cell *Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cell
	m.cells[c.ID] = &c
	return nil
}

// TransitionCell applies a compare-and-set status change.
func (m *MockStore) TransitionCell(ctx context.Context, id string, t Transition) (*Cell, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition to %s has no source statuses", t.To)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cells[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !t.allows(c.Status) {
		return nil, ErrStatusConflict
	}

	c.Status = t.To
	if t.StackRef != "" {
		c.StackRef = t.StackRef
	}
	if t.ImageRef != "" {
		c.ImageRef = t.ImageRef
	}
	c.UpdatedAt = time.Now().UTC()

	result := *c
	return &result, nil
}

// SetCellAddress memoises a resolved network address.
func (m *MockStore) SetCellAddress(ctx context.Context, id, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cells[id]
	if !ok {
		return ErrNotFound
	}
	c.Address = address
	return nil
}

// DeleteCell removes a cell and returns it.
func (m *MockStore) DeleteCell(ctx context.Context, id string) (*Cell, error) {
	m.mu.Lock()
	c, ok := m.cells[id]
	if ok {
		delete(m.cells, id)
	}
	hook := m.OnDeleteCell
	m.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if hook != nil {
		hook(id)
	}
	return c, nil
}

func itemMapKey(username, key string) string {
	return username + "\x00" + key
}

// PutItem inserts or overwrites an item.
func (m *MockStore) PutItem(ctx context.Context, username, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[itemMapKey(username, key)] = value
	return nil
}

// GetItem returns an item's value.
func (m *MockStore) GetItem(ctx context.Context, username, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[itemMapKey(username, key)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// DeleteItem removes an item if present.
func (m *MockStore) DeleteItem(ctx context.Context, username, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, itemMapKey(username, key))
	return nil
}
