package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id           uuid PRIMARY KEY,
		external_key text NOT NULL,
		display_name text NOT NULL DEFAULT '',
		author_id    text NOT NULL,
		created_at   timestamptz NOT NULL DEFAULT now(),
		UNIQUE (author_id, external_key)
	)`,
	`CREATE INDEX IF NOT EXISTS conversations_author_id_idx ON conversations (author_id)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id              uuid PRIMARY KEY,
		conversation_id uuid NOT NULL UNIQUE REFERENCES conversations (id),
		entries         jsonb NOT NULL DEFAULT '[]'::jsonb,
		version         bigint NOT NULL DEFAULT 1,
		updated_at      timestamptz NOT NULL DEFAULT now()
	)`,
}

// Postgres stores each transcript's entries as one jsonb array, guarded by a
// version column for compare-and-swap replaces.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool and pings it. Call Migrate before first use.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the conversations and transcripts tables if they are missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateConversation inserts the conversation and its transcript in one transaction.
func (s *Postgres) CreateConversation(ctx context.Context, conv transcript.Conversation, entries []transcript.Entry) (transcript.Transcript, error) {
	body, err := marshalEntries(entries)
	if err != nil {
		return transcript.Transcript{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, external_key, display_name, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.Key, conv.Name, conv.AuthorID, conv.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return transcript.Transcript{}, transcript.ErrAlreadyExists
		}
		return transcript.Transcript{}, &transcript.StoreError{Op: "insert conversation", Err: err}
	}

	tr := transcript.Transcript{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Entries:        cloneEntries(entries),
		Version:        1,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transcripts (id, conversation_id, entries, version, updated_at)
		VALUES ($1, $2, $3, 1, now())
		RETURNING updated_at`,
		tr.ID, conv.ID, body,
	).Scan(&tr.UpdatedAt)
	if err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "insert transcript", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "commit", Err: err}
	}
	return tr, nil
}

func (s *Postgres) ListConversations(ctx context.Context, authorID string) ([]transcript.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_key, display_name, author_id, created_at
		FROM conversations
		WHERE author_id = $1
		ORDER BY created_at DESC`, authorID)
	if err != nil {
		return nil, &transcript.StoreError{Op: "list conversations", Err: err}
	}
	defer rows.Close()

	var out []transcript.Conversation
	for rows.Next() {
		var c transcript.Conversation
		if err := rows.Scan(&c.ID, &c.Key, &c.Name, &c.AuthorID, &c.CreatedAt); err != nil {
			return nil, &transcript.StoreError{Op: "scan conversation", Err: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &transcript.StoreError{Op: "list conversations", Err: err}
	}
	return out, nil
}

func (s *Postgres) FindConversation(ctx context.Context, authorID, key string) (transcript.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, external_key, display_name, author_id, created_at
		FROM conversations
		WHERE author_id = $1 AND external_key = $2`, authorID, key)

	var c transcript.Conversation
	err := row.Scan(&c.ID, &c.Key, &c.Name, &c.AuthorID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return transcript.Conversation{}, transcript.ErrNotFound
	}
	if err != nil {
		return transcript.Conversation{}, &transcript.StoreError{Op: "find conversation", Err: err}
	}
	return c, nil
}

func (s *Postgres) TranscriptFor(ctx context.Context, conversationID uuid.UUID) (transcript.Transcript, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, entries, version, updated_at
		FROM transcripts
		WHERE conversation_id = $1`, conversationID)

	var (
		tr   transcript.Transcript
		body []byte
	)
	err := row.Scan(&tr.ID, &tr.ConversationID, &body, &tr.Version, &tr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return transcript.Transcript{}, transcript.ErrNotFound
	}
	if err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "load transcript", Err: err}
	}
	if tr.Entries, err = unmarshalEntries(body); err != nil {
		return transcript.Transcript{}, err
	}
	return tr, nil
}

// ReplaceEntries is a compare-and-swap on the version column. A missed
// update is ErrNotFound when the row is gone and ErrConflict otherwise.
func (s *Postgres) ReplaceEntries(ctx context.Context, transcriptID uuid.UUID, expectedVersion int64, entries []transcript.Entry) (transcript.Transcript, error) {
	body, err := marshalEntries(entries)
	if err != nil {
		return transcript.Transcript{}, err
	}

	tr := transcript.Transcript{ID: transcriptID, Entries: cloneEntries(entries)}
	err = s.pool.QueryRow(ctx, `
		UPDATE transcripts
		SET entries = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
		RETURNING conversation_id, version, updated_at`,
		body, transcriptID, expectedVersion,
	).Scan(&tr.ConversationID, &tr.Version, &tr.UpdatedAt)
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return transcript.Transcript{}, &transcript.StoreError{Op: "replace entries", Err: err}
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transcripts WHERE id = $1)`, transcriptID).Scan(&exists); err != nil {
		return transcript.Transcript{}, &transcript.StoreError{Op: "check transcript", Err: err}
	}
	if !exists {
		return transcript.Transcript{}, transcript.ErrNotFound
	}
	return transcript.Transcript{}, transcript.ErrConflict
}

func marshalEntries(entries []transcript.Entry) ([]byte, error) {
	if entries == nil {
		entries = []transcript.Entry{}
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal entries: %w", err)
	}
	return body, nil
}

func unmarshalEntries(body []byte) ([]transcript.Entry, error) {
	entries := []transcript.Entry{}
	if len(body) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &transcript.StoreError{Op: "decode entries", Err: err}
	}
	return entries, nil
}
