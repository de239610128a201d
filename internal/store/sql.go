// ABOUTME: database/sql implementation shared by the SQLite and Postgres stores
// ABOUTME: Dialect differences are limited to placeholders, time encoding and unique-violation detection

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// dialect captures what differs between the SQL backends
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// encodeTime converts a timestamp into a driver value for the column type
	encodeTime func(time.Time) any
	// isUniqueViolation reports whether err is a primary key / unique constraint failure
	isUniqueViolation func(error) bool
}

// sqlStore implements Store over database/sql
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// rebind rewrites ? placeholders for dialects that number them
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// dbTime scans timestamps stored either natively or as RFC3339 text
type dbTime struct {
	t time.Time
}

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.t = v.UTC()
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case nil:
		d.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (d *dbTime) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parsing time %q: %w", s, err)
	}
	d.t = t.UTC()
	return nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user, returning ErrAlreadyExists if the username is taken.
func (s *sqlStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.exec(ctx, `
		INSERT INTO users (username, credential_hash, cell_id, created_at)
		VALUES (?, ?, ?, ?)
	`, user.Username, user.CredentialHash, user.CellID, s.dialect.encodeTime(user.CreatedAt))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "username", user.Username, "cell_id", user.CellID)
	return nil
}

// GetUser retrieves a user by username.
// Returns ErrNotFound if the user doesn't exist.
func (s *sqlStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var created dbTime
	err := s.queryRow(ctx, `
		SELECT username, credential_hash, cell_id, created_at
		FROM users
		WHERE username = ?
	`, username).Scan(&u.Username, &u.CredentialHash, &u.CellID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	u.CreatedAt = created.t
	return &u, nil
}

// DeleteUser removes a user. Returns ErrNotFound if the user doesn't exist.
func (s *sqlStore) DeleteUser(ctx context.Context, username string) error {
	res, err := s.exec(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireAffected(res)
}

// ListUsers returns all users ordered by username
func (s *sqlStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, credential_hash, cell_id, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var created dbTime
		if err := rows.Scan(&u.Username, &u.CredentialHash, &u.CellID, &created); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.CreatedAt = created.t
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

const cellColumns = `id, stage, status, address, stack_ref, image_ref, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCell(row rowScanner) (*Cell, error) {
	var c Cell
	var stage, status string
	var created, updated dbTime
	if err := row.Scan(&c.ID, &stage, &status, &c.Address, &c.StackRef, &c.ImageRef, &created, &updated); err != nil {
		return nil, err
	}
	c.Stage = Stage(stage)
	c.Status = CellStatus(status)
	c.CreatedAt = created.t
	c.UpdatedAt = updated.t
	return &c, nil
}

// CreateCell inserts a cell, returning ErrAlreadyExists if the id is taken.
func (s *sqlStore) CreateCell(ctx context.Context, cell *Cell) error {
	_, err := s.exec(ctx, `
		INSERT INTO cells (`+cellColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cell.ID, string(cell.Stage), string(cell.Status), cell.Address, cell.StackRef, cell.ImageRef,
		s.dialect.encodeTime(cell.CreatedAt), s.dialect.encodeTime(cell.UpdatedAt))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting cell: %w", err)
	}

	s.logger.Debug("created cell", "id", cell.ID, "stage", cell.Stage, "status", cell.Status)
	return nil
}

// GetCell retrieves a cell by id.
// Returns ErrNotFound if the cell doesn't exist.
func (s *sqlStore) GetCell(ctx context.Context, id string) (*Cell, error) {
	c, err := scanCell(s.queryRow(ctx, `SELECT `+cellColumns+` FROM cells WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cell: %w", err)
	}
	return c, nil
}

// ListCells returns the cells matching filter ordered by id
func (s *sqlStore) ListCells(ctx context.Context, filter CellFilter) ([]*Cell, error) {
	query := `SELECT ` + cellColumns + ` FROM cells`
	var conds []string
	var args []any

	if filter.Stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying cells: %w", err)
	}
	defer rows.Close()

	var cells []*Cell
	for rows.Next() {
		c, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cell: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cells: %w", err)
	}
	return cells, nil
}

// PutCell inserts or replaces a cell
func (s *sqlStore) PutCell(ctx context.Context, cell *Cell) error {
	_, err := s.exec(ctx, `
		INSERT INTO cells (`+cellColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			stage = excluded.stage,
			status = excluded.status,
			address = excluded.address,
			stack_ref = excluded.stack_ref,
			image_ref = excluded.image_ref,
			updated_at = excluded.updated_at
	`, cell.ID, string(cell.Stage), string(cell.Status), cell.Address, cell.StackRef, cell.ImageRef,
		s.dialect.encodeTime(cell.CreatedAt), s.dialect.encodeTime(cell.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting cell: %w", err)
	}
	return nil
}

// TransitionCell applies a compare-and-set status change
func (s *sqlStore) TransitionCell(ctx context.Context, id string, t Transition) (*Cell, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition to %s has no source statuses", t.To)
	}

	marks := make([]string, len(t.From))
	args := []any{string(t.To), t.StackRef, t.StackRef, t.ImageRef, t.ImageRef, s.dialect.encodeTime(time.Now().UTC()), id}
	for i, f := range t.From {
		marks[i] = "?"
		args = append(args, string(f))
	}

	res, err := s.exec(ctx, `
		UPDATE cells SET
			status = ?,
			stack_ref = CASE WHEN ? = '' THEN stack_ref ELSE ? END,
			image_ref = CASE WHEN ? = '' THEN image_ref ELSE ? END,
			updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(marks, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating cell status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing cell from one in the wrong status
		if _, err := s.GetCell(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStatusConflict
	}

	s.logger.Debug("cell transitioned", "id", id, "to", t.To)
	return s.GetCell(ctx, id)
}

// SetCellAddress memoises a resolved network address
func (s *sqlStore) SetCellAddress(ctx context.Context, id, address string) error {
	res, err := s.exec(ctx, `UPDATE cells SET address = ?, updated_at = ? WHERE id = ?`,
		address, s.dialect.encodeTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating cell address: %w", err)
	}
	return requireAffected(res)
}

// DeleteCell removes a cell atomically and returns the removed row
func (s *sqlStore) DeleteCell(ctx context.Context, id string) (*Cell, error) {
	c, err := scanCell(s.queryRow(ctx, `DELETE FROM cells WHERE id = ? RETURNING `+cellColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deleting cell: %w", err)
	}

	s.logger.Debug("deleted cell", "id", id)
	return c, nil
}

// PutItem inserts or overwrites an item
func (s *sqlStore) PutItem(ctx context.Context, username, key, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO items (username, item_key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username, item_key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, username, key, value, s.dialect.encodeTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upserting item: %w", err)
	}
	return nil
}

// GetItem returns an item's value or ErrNotFound
func (s *sqlStore) GetItem(ctx context.Context, username, key string) (string, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM items WHERE username = ? AND item_key = ?`, username, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying item: %w", err)
	}
	return value, nil
}

// DeleteItem removes an item if present
func (s *sqlStore) DeleteItem(ctx context.Context, username, key string) error {
	if _, err := s.exec(ctx, `DELETE FROM items WHERE username = ? AND item_key = ?`, username, key); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// requireAffected maps a zero-row update or delete to ErrNotFound
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
