package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirerelay-server/internal/store"
)

// Schema is the call journal layout. It is applied by New and is safe to run
// against an existing database.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
	id          TEXT PRIMARY KEY,
	initiator   TEXT NOT NULL,
	target      TEXT NOT NULL,
	status      TEXT NOT NULL,
	ended_by    TEXT NOT NULL DEFAULT '',
	end_reason  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_calls_created_at ON calls (created_at);
`

// SQLiteStore implements store.CallStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.CallStore = (*SQLiteStore)(nil)

// New opens the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, applySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:"
	// databases alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateCall inserts a new call.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *store.Call) error {
	query := `
		INSERT INTO calls (id, initiator, target, status, ended_by, end_reason, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		call.ID,
		call.Initiator,
		call.Target,
		string(call.Status),
		call.EndedBy,
		call.EndReason,
		call.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// UpdateCall updates an existing call.
func (s *SQLiteStore) UpdateCall(ctx context.Context, call *store.Call) error {
	query := `
		UPDATE calls
		SET status = ?, ended_by = ?, end_reason = ?, updated_at = CURRENT_TIMESTAMP, ended_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(call.Status),
		call.EndedBy,
		call.EndReason,
		call.EndedAt,
		call.ID,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update call %s: %w", call.ID, store.ErrNotFound)
	}
	return nil
}

const callColumns = `id, initiator, target, status, ended_by, end_reason, created_at, updated_at, ended_at`

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*store.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = ?`
	call, err := scanCall(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("call %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query call: %w", err)
	}
	return call, nil
}

// ListCalls returns up to limit calls, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit int) ([]*store.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []*store.Call{}
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*store.Call, error) {
	var call store.Call
	var status string
	var endedAt sql.NullTime

	err := row.Scan(
		&call.ID,
		&call.Initiator,
		&call.Target,
		&status,
		&call.EndedBy,
		&call.EndReason,
		&call.CreatedAt,
		&call.UpdatedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	call.Status = store.CallStatus(status)
	if endedAt.Valid {
		call.EndedAt = &endedAt.Time
	}
	return &call, nil
}
