package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Memory is the path of a private in-memory store
const Memory = ":memory:"

var errNotFound = errors.New("session: not found")

// Store keeps sessions in SQLite
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path. Use Memory for a store that
// lives only as long as the process.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}
	// An in-memory database exists per connection
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS session (id TEXT PRIMARY KEY NOT NULL, file_name TEXT NOT NULL, charge_id TEXT NOT NULL DEFAULT '', charge_status TEXT NOT NULL DEFAULT '', payments INTEGER NOT NULL DEFAULT 0, state TEXT NOT NULL, created_at INTEGER NOT NULL)"); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db: db,
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insert(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO session (id, file_name, charge_id, charge_status, payments, state, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sess.ID, sess.FileName, sess.ChargeID, sess.ChargeStatus, sess.Payments, string(sess.State), sess.CreatedAt.UnixNano())
	return err
}

func (s *Store) get(ctx context.Context, id string) (*Session, error) {
	var (
		sess    Session
		state   string
		created int64
	)
	switch err := s.db.QueryRowContext(ctx, "SELECT id, file_name, charge_id, charge_status, payments, state, created_at FROM session WHERE id = ?", id).Scan(&sess.ID, &sess.FileName, &sess.ChargeID, &sess.ChargeStatus, &sess.Payments, &state, &created); err {
	case sql.ErrNoRows:
		return nil, errNotFound
	case nil:
		sess.State = State(state)
		sess.CreatedAt = time.Unix(0, created)
		return &sess, nil
	default:
		return nil, err
	}
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}

func (s *Store) setCharge(ctx context.Context, id, chargeID string) error {
	return s.update(ctx, "UPDATE session SET charge_id = ?, charge_status = '', payments = 0 WHERE id = ?", chargeID, id)
}

func (s *Store) setStatus(ctx context.Context, id, status string, payments int) error {
	return s.update(ctx, "UPDATE session SET charge_status = ?, payments = ? WHERE id = ?", status, payments, id)
}

func (s *Store) setState(ctx context.Context, id string, state State) error {
	return s.update(ctx, "UPDATE session SET state = ? WHERE id = ?", string(state), id)
}

// List returns all sessions, newest first
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, file_name, charge_id, charge_status, payments, state, created_at FROM session ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Session
	for rows.Next() {
		var (
			sess    Session
			state   string
			created int64
		)
		if err := rows.Scan(&sess.ID, &sess.FileName, &sess.ChargeID, &sess.ChargeStatus, &sess.Payments, &state, &created); err != nil {
			return nil, err
		}
		sess.State = State(state)
		sess.CreatedAt = time.Unix(0, created)
		list = append(list, &sess)
	}
	return list, rows.Err()
}
