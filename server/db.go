package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Charge statuses
const (
	StatusNew       = "NEW"
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
)

var errNotFound = errors.New("server: not found")

type sessionRow struct {
	ID        string
	FileName  string
	CreatedAt time.Time
}

type chargeRow struct {
	ID        string
	SessionID string
	Status    string
	Checks    int
	Payments  int
}

// DB holds the sessions and charges issued by the server
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates the database at file. ":memory:" gives a database
// that lasts as long as the DB.
func OpenDB(file string) (*DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS session (id TEXT PRIMARY KEY NOT NULL, file_name TEXT NOT NULL, created_at INTEGER NOT NULL)"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS charge (id TEXT PRIMARY KEY NOT NULL, session_id TEXT NOT NULL, status TEXT NOT NULL, checks INTEGER NOT NULL DEFAULT 0, payments INTEGER NOT NULL DEFAULT 0, FOREIGN KEY(session_id) REFERENCES session(id))"); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{
		db: db,
	}, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) addSession(ctx context.Context, s sessionRow) error {
	_, err := db.db.ExecContext(ctx, "INSERT INTO session (id, file_name, created_at) VALUES (?, ?, ?)", s.ID, s.FileName, s.CreatedAt.UnixNano())
	return err
}

func (db *DB) findSession(ctx context.Context, id string) (*sessionRow, error) {
	var (
		s       sessionRow
		created int64
	)
	switch err := db.db.QueryRowContext(ctx, "SELECT id, file_name, created_at FROM session WHERE id = ?", id).Scan(&s.ID, &s.FileName, &created); err {
	case sql.ErrNoRows:
		return nil, errNotFound
	case nil:
		s.CreatedAt = time.Unix(0, created)
		return &s, nil
	default:
		return nil, err
	}
}

func (db *DB) addCharge(ctx context.Context, c chargeRow) error {
	_, err := db.db.ExecContext(ctx, "INSERT INTO charge (id, session_id, status) VALUES (?, ?, ?)", c.ID, c.SessionID, c.Status)
	return err
}

func (db *DB) findCharge(ctx context.Context, id string) (*chargeRow, error) {
	var c chargeRow
	switch err := db.db.QueryRowContext(ctx, "SELECT id, session_id, status, checks, payments FROM charge WHERE id = ?", id).Scan(&c.ID, &c.SessionID, &c.Status, &c.Checks, &c.Payments); err {
	case sql.ErrNoRows:
		return nil, errNotFound
	case nil:
		return &c, nil
	default:
		return nil, err
	}
}

// checkCharge counts a status check, moving a new charge to pending, and
// returns the updated charge
func (db *DB) checkCharge(ctx context.Context, id string) (*chargeRow, error) {
	result, err := db.db.ExecContext(ctx, "UPDATE charge SET checks = checks + 1, status = CASE status WHEN ? THEN ? ELSE status END WHERE id = ?", StatusNew, StatusPending, id)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, errNotFound
	}
	return db.findCharge(ctx, id)
}

// settleCharge records a payment against the charge and completes it
func (db *DB) settleCharge(ctx context.Context, id string) error {
	result, err := db.db.ExecContext(ctx, "UPDATE charge SET status = ?, payments = payments + 1 WHERE id = ? AND status != ?", StatusCompleted, id, StatusCompleted)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either unknown or already settled
		if _, err := db.findCharge(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
