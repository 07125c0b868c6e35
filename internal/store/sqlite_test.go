package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "scribe.db"), discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_ListNewestFirst(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, key := range []string{"old", "mid", "new"} {
		_, err := s.CreateConversation(ctx, transcript.Conversation{
			ID:        uuid.New(),
			Key:       key,
			AuthorID:  "alice",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}, nil)
		require.NoError(t, err)
	}

	list, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{list[0].Key, list[1].Key, list[2].Key})
	assert.True(t, list[2].CreatedAt.Equal(base))
}

func TestSQLite_InitialEntriesPersist(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	conv := transcript.Conversation{ID: uuid.New(), Key: "k", AuthorID: "alice", CreatedAt: time.Now()}
	initial := []transcript.Entry{{Text: "first", Role: transcript.RoleAuthor, Timestamp: "2025-01-01T00:00:00.000Z"}}

	_, err := s.CreateConversation(ctx, conv, initial)
	require.NoError(t, err)

	got, err := s.TranscriptFor(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, initial, got.Entries)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Options{Driver: DriverMemory}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = Open(ctx, Options{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, b)
	require.NoError(t, b.Close())

	_, err = Open(ctx, Options{Driver: DriverPostgres}, discardLogger())
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: "mongo"}, discardLogger())
	assert.Error(t, err)
}

func TestSQLite_DuplicateKeyIsTypedConstraint(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	conv := transcript.Conversation{ID: uuid.New(), Key: "dup", AuthorID: "alice", CreatedAt: time.Now()}
	_, err := s.CreateConversation(ctx, conv, nil)
	require.NoError(t, err)

	conv.ID = uuid.New()
	_, err = s.CreateConversation(ctx, conv, nil)
	assert.ErrorIs(t, err, transcript.ErrAlreadyExists)

	// A message that merely mentions the constraint is not treated as one.
	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed: conversations.key")))
	assert.False(t, isUniqueViolation(nil))
}
