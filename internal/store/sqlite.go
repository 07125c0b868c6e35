package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT PRIMARY KEY,
		external_key TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		author_id    TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		UNIQUE (author_id, external_key)
	)`,
	`CREATE INDEX IF NOT EXISTS conversations_author_id_idx ON conversations (author_id)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL UNIQUE REFERENCES conversations (id),
		entries         TEXT NOT NULL DEFAULT '[]',
		version         INTEGER NOT NULL DEFAULT 1,
		updated_at      TEXT NOT NULL
	)`,
}

// SQLite is a single-file Store for local and single-node deployments.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time keeps sqlite out of SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	logger.Info("sqlite store opened", "path", path)
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) CreateConversation(ctx context.Context, conv transcript.Conversation, entries []transcript.Entry) (transcript.Transcript, error) {
	body, err := marshalEntries(entries)
	if err != nil {
		return transcript.Transcript{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, external_key, display_name, author_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID.String(), conv.Key, conv.Name, conv.AuthorID, formatTime(conv.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return transcript.Transcript{}, transcript.ErrAlreadyExists
		}
		return transcript.Transcript{}, &transcript.StoreError{Op: "insert conversation", Err: err}
	}

	now := time.Now().UTC()
	tr := transcript.Transcript{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Entries:        cloneEntries(entries),
		Version:        1,
		UpdatedAt:      now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, conversation_id, entries, version, updated_at)
		VALUES (?, ?, ?, 1, ?)`,
		tr.ID.String(), conv.ID.String(), string(body), formatTime(now),
	)
	if err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "insert transcript", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "commit", Err: err}
	}
	return tr, nil
}

func (s *SQLite) ListConversations(ctx context.Context, authorID string) ([]transcript.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_key, display_name, author_id, created_at
		FROM conversations
		WHERE author_id = ?
		ORDER BY created_at DESC`, authorID)
	if err != nil {
		return nil, &transcript.StoreError{Op: "list conversations", Err: err}
	}
	defer rows.Close()

	var out []transcript.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			// Skip malformed rows instead of failing the whole listing.
			s.logger.Warn("skipping unreadable conversation row", "author", authorID, "error", err)
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &transcript.StoreError{Op: "list conversations", Err: err}
	}
	return out, nil
}

func (s *SQLite) FindConversation(ctx context.Context, authorID, key string) (transcript.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_key, display_name, author_id, created_at
		FROM conversations
		WHERE author_id = ? AND external_key = ?`, authorID, key)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transcript.Conversation{}, transcript.ErrNotFound
	}
	if err != nil {
		return transcript.Conversation{}, &transcript.StoreError{Op: "find conversation", Err: err}
	}
	return c, nil
}

func (s *SQLite) TranscriptFor(ctx context.Context, conversationID uuid.UUID) (transcript.Transcript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, entries, version, updated_at
		FROM transcripts
		WHERE conversation_id = ?`, conversationID.String())

	var (
		tr               transcript.Transcript
		body, updatedRaw string
	)
	err := row.Scan(&tr.ID, &tr.ConversationID, &body, &tr.Version, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return transcript.Transcript{}, transcript.ErrNotFound
	}
	if err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "load transcript", Err: err}
	}
	if tr.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "decode updated_at", Err: err}
	}
	if tr.Entries, err = unmarshalEntries([]byte(body)); err != nil {
		return transcript.Transcript{}, err
	}
	return tr, nil
}

func (s *SQLite) ReplaceEntries(ctx context.Context, transcriptID uuid.UUID, expectedVersion int64, entries []transcript.Entry) (transcript.Transcript, error) {
	body, err := marshalEntries(entries)
	if err != nil {
		return transcript.Transcript{}, err
	}

	now := time.Now().UTC()
	tr := transcript.Transcript{ID: transcriptID, Entries: cloneEntries(entries), UpdatedAt: now}
	err = s.db.QueryRowContext(ctx, `
		UPDATE transcripts
		SET entries = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
		RETURNING conversation_id, version`,
		string(body), formatTime(now), transcriptID.String(), expectedVersion,
	).Scan(&tr.ConversationID, &tr.Version)
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return transcript.Transcript{}, &transcript.StoreError{Op: "replace entries", Err: err}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM transcripts WHERE id = ?`, transcriptID.String()).Scan(&n); err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "check transcript", Err: err}
	}
	if n == 0 {
		return transcript.Transcript{}, transcript.ErrNotFound
	}
	return transcript.Transcript{}, transcript.ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (transcript.Conversation, error) {
	var (
		c          transcript.Conversation
		createdRaw string
	)
	if err := r.Scan(&c.ID, &c.Key, &c.Name, &c.AuthorID, &createdRaw); err != nil {
		return transcript.Conversation{}, err
	}
	created, err := parseTime(createdRaw)
	if err != nil {
		return transcript.Conversation{}, fmt.Errorf("parse created_at: %w", err)
	}
	c.CreatedAt = created
	return c, nil
}

// Fixed-width fractional seconds keep text ordering equal to time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// isUniqueViolation reports a duplicate (author, key). The driver enables
// extended result codes, so the code names the constraint kind.
func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
