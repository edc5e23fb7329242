package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc reads connection pragmas from _pragma parameters.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		persona_json TEXT NOT NULL,
		company_json TEXT NOT NULL,
		state TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		status TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveSession creates or replaces a session header.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	persona, err := json.Marshal(rec.Persona)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	company, err := json.Marshal(rec.Company)
	if err != nil {
		return fmt.Errorf("marshal company: %w", err)
	}

	query := `
	INSERT INTO sessions (id, owner_id, persona_json, company_json, state, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		persona_json = excluded.persona_json,
		company_json = excluded.company_json,
		state = excluded.state,
		active = excluded.active,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "save session", rec.ID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.OwnerID, string(persona), string(company),
			rec.State, rec.Active,
			rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// UpdateSessionState records a lifecycle transition.
func (s *SQLiteStore) UpdateSessionState(ctx context.Context, id, state string, active bool, at time.Time) error {
	query := `UPDATE sessions SET state = ?, active = ?, updated_at = ? WHERE id = ?`
	var rows int64
	err := withRetry(ctx, "update session state", id, func() error {
		result, err := s.db.ExecContext(ctx, query, state, active, at.UnixMilli(), id)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("UpdateSessionState affected 0 rows", "session_id", id)
	}
	return nil
}

const sessionColumns = `id, owner_id, persona_json, company_json, state, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var persona, company string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&rec.ID, &rec.OwnerID, &persona, &company,
		&rec.State, &rec.Active, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(persona), &rec.Persona); err != nil {
		return nil, fmt.Errorf("decode persona: %w", err)
	}
	if err := json.Unmarshal([]byte(company), &rec.Company); err != nil {
		return nil, fmt.Errorf("decode company: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}

// GetSession retrieves a session header by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

// ListSessions returns an owner's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string) ([]*domain.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// AppendMessage stores msg at the end of the session's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	query := `
	INSERT INTO messages (id, session_id, kind, content, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	var status any
	if msg.Status != nil {
		status = string(*msg.Status)
	}

	return withRetry(ctx, "append message", sessionID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, sessionID, string(msg.Kind), msg.Content, status, msg.Timestamp.UnixMilli())
		return err
	})
}

// ListMessages returns the session's messages in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content, status, created_at FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var kind string
		var status sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &kind, &msg.Content, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Kind = domain.MessageKind(kind)
		msg.Timestamp = time.UnixMilli(createdAt).UTC()
		if status.Valid {
			st := domain.Status(status.String)
			msg.Status = &st
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// GetTranscript returns a session header with its messages.
func (s *SQLiteStore) GetTranscript(ctx context.Context, id string) (*domain.Transcript, error) {
	rec, err := s.GetSession(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	msgs, err := s.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.Transcript{Session: *rec, Messages: msgs}, nil
}

// DeleteSession removes a session and its messages.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return withRetry(ctx, "delete session", id, func() error {
		return s.deleteSessionOnce(ctx, id)
	})
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CleanupExpiredSessions removes sessions not updated within ttl along with their messages.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var removed int64
	err := withRetry(ctx, "cleanup expired sessions", "", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < ?)`, threshold); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		if removed, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return removed, err
}

// withRetry runs fn, retrying SQLite lock conflicts with exponential backoff.
func withRetry(ctx context.Context, op, sessionID string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := shared.RetryDelay(baseDelay, i)
		slog.Debug("SQLite busy, retrying", "op", op, "session_id", sessionID, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
