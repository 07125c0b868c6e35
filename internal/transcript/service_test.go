package transcript_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []transcript.Update
}

func (n *recordingNotifier) TranscriptUpdated(_ context.Context, u transcript.Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

// racingStore lets a rival writer commit just before each of the first
// races ReplaceEntries calls.
type racingStore struct {
	*store.Memory
	races  int
	writes int
}

func (r *racingStore) ReplaceEntries(ctx context.Context, id uuid.UUID, version int64, entries []transcript.Entry) (transcript.Transcript, error) {
	if r.writes < r.races {
		r.writes++
		rival := []transcript.Entry{{Text: "rival", Role: transcript.RoleAuthor}}
		if _, err := r.Memory.ReplaceEntries(ctx, id, version, rival); err != nil {
			return transcript.Transcript{}, err
		}
	}
	return r.Memory.ReplaceEntries(ctx, id, version, entries)
}

func newService(t *testing.T) (*transcript.Service, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	return transcript.NewService(store.NewMemory(), n, discardLogger(), -1), n
}

func TestService_SequentialDeltasCoalesce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateConversation(ctx, "alice", "c1", "Chat", nil)
	require.NoError(t, err)

	deltas := []string{"Go ", "is ", "", "fun", "."}
	for _, d := range deltas {
		_, err := svc.MergeDelta(ctx, "alice", "c1", d)
		require.NoError(t, err)
	}

	tr, err := svc.GetTranscript(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Len(t, tr.Entries, 1)
	assert.Equal(t, transcript.RoleGenerated, tr.Entries[0].Role)
	assert.Equal(t, strings.Join(deltas, ""), tr.Entries[0].Text)
	assert.Equal(t, int64(1+len(deltas)), tr.Version)
}

func TestService_AppendThenMerge(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateConversation(ctx, "alice", "c1", "Chat", nil)
	require.NoError(t, err)

	_, err = svc.AppendEntry(ctx, "alice", "c1", "x")
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, "alice", "c1", "y")
	require.NoError(t, err)
	_, err = svc.MergeDelta(ctx, "alice", "c1", "d")
	require.NoError(t, err)
	tr, err := svc.MergeDelta(ctx, "alice", "c1", "d2")
	require.NoError(t, err)

	require.Len(t, tr.Entries, 3)
	assert.Equal(t, "x", tr.Entries[0].Text)
	assert.Equal(t, "y", tr.Entries[1].Text)
	assert.Equal(t, transcript.RoleAuthor, tr.Entries[1].Role)
	assert.Equal(t, "dd2", tr.Entries[2].Text)
	assert.Equal(t, transcript.RoleGenerated, tr.Entries[2].Role)
}

func TestService_AppendReturnsUpdatedTranscript(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	created, err := svc.CreateConversation(ctx, "alice", "c1", "Chat", nil)
	require.NoError(t, err)

	tr, err := svc.AppendEntry(ctx, "alice", "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, created.ID, tr.ID)
	require.Len(t, tr.Entries, 1)
	assert.Equal(t, "hello", tr.Entries[0].Text)
	assert.NotEmpty(t, tr.Entries[0].Timestamp)
}

func TestService_ForeignAndMissingLookLikeNotFound(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateConversation(ctx, "alice", "secret", "Chat", nil)
	require.NoError(t, err)

	_, foreign := svc.GetTranscript(ctx, "bob", "secret")
	_, missing := svc.GetTranscript(ctx, "bob", "nope")
	assert.ErrorIs(t, foreign, transcript.ErrNotFound)
	assert.ErrorIs(t, missing, transcript.ErrNotFound)
	assert.Equal(t, missing.Error(), foreign.Error())

	_, err = svc.MergeDelta(ctx, "bob", "secret", "hijack")
	assert.ErrorIs(t, err, transcript.ErrNotFound)
	_, err = svc.AppendEntry(ctx, "bob", "secret", "hijack")
	assert.ErrorIs(t, err, transcript.ErrNotFound)

	tr, err := svc.GetTranscript(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Empty(t, tr.Entries)
}

func TestService_Unauthenticated(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateConversation(ctx, "", "k", "n", nil)
	assert.ErrorIs(t, err, transcript.ErrUnauthenticated)
	_, err = svc.ListConversations(ctx, "")
	assert.ErrorIs(t, err, transcript.ErrUnauthenticated)
	_, err = svc.GetTranscript(ctx, "", "k")
	assert.ErrorIs(t, err, transcript.ErrUnauthenticated)
	_, err = svc.MergeDelta(ctx, "", "k", "d")
	assert.ErrorIs(t, err, transcript.ErrUnauthenticated)
	_, err = svc.AppendEntry(ctx, "", "k", "t")
	assert.ErrorIs(t, err, transcript.ErrUnauthenticated)
}

func TestService_CreateThenListOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateConversation(ctx, "alice", "c1", "First", nil)
	require.NoError(t, err)
	_, err = svc.CreateConversation(ctx, "bob", "c2", "Other", nil)
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].Key)
	assert.Equal(t, "First", list[0].Name)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestService_CreateValidatesInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateConversation(ctx, "alice", "  ", "n", nil)
	assert.ErrorIs(t, err, transcript.ErrInvalidInput)

	_, err = svc.CreateConversation(ctx, "alice", "k", "n", []transcript.Entry{{Text: "x", Role: "system"}})
	assert.ErrorIs(t, err, transcript.ErrInvalidInput)

	_, err = svc.CreateConversation(ctx, "alice", "k", "n", nil)
	require.NoError(t, err)
	_, err = svc.CreateConversation(ctx, "alice", "k", "n", nil)
	assert.ErrorIs(t, err, transcript.ErrAlreadyExists)
}

func TestService_CreateStampsInitialEntries(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tr, err := svc.CreateConversation(ctx, "alice", "k", "n", []transcript.Entry{
		{Text: "kept", Role: transcript.RoleAuthor, Timestamp: "2024-01-01T00:00:00.000Z"},
		{Text: "stamped", Role: transcript.RoleGenerated},
	})
	require.NoError(t, err)
	require.Len(t, tr.Entries, 2)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", tr.Entries[0].Timestamp)
	assert.NotEmpty(t, tr.Entries[1].Timestamp)
}

func TestService_RetriesOnVersionConflict(t *testing.T) {
	rs := &racingStore{Memory: store.NewMemory(), races: 1}
	svc := transcript.NewService(rs, nil, discardLogger(), 3)
	ctx := context.Background()
	_, err := svc.CreateConversation(ctx, "alice", "c", "n", nil)
	require.NoError(t, err)

	tr, err := svc.MergeDelta(ctx, "alice", "c", "hello")
	require.NoError(t, err)

	// The rival's author entry won the race, so the retried merge opened a
	// fresh generated entry after it instead of overwriting it.
	require.Len(t, tr.Entries, 2)
	assert.Equal(t, "rival", tr.Entries[0].Text)
	assert.Equal(t, "hello", tr.Entries[1].Text)
	assert.Equal(t, transcript.RoleGenerated, tr.Entries[1].Role)
	assert.Equal(t, int64(3), tr.Version)
}

func TestService_GivesUpAfterMaxRetries(t *testing.T) {
	rs := &racingStore{Memory: store.NewMemory(), races: 10}
	svc := transcript.NewService(rs, nil, discardLogger(), 2)
	ctx := context.Background()
	_, err := svc.CreateConversation(ctx, "alice", "c", "n", nil)
	require.NoError(t, err)

	_, err = svc.AppendEntry(ctx, "alice", "c", "lost")
	assert.ErrorIs(t, err, transcript.ErrConflict)
	assert.Equal(t, 3, rs.writes)
}

func TestService_NotifiesCommittedMutations(t *testing.T) {
	svc, n := newService(t)
	ctx := context.Background()
	created, err := svc.CreateConversation(ctx, "alice", "c", "n", nil)
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, "alice", "c", "q")
	require.NoError(t, err)
	_, err = svc.MergeDelta(ctx, "alice", "c", "a")
	require.NoError(t, err)
	_, err = svc.MergeDelta(ctx, "bob", "c", "ignored")
	require.Error(t, err)

	require.Len(t, n.updates, 3)
	kinds := []transcript.UpdateKind{n.updates[0].Kind, n.updates[1].Kind, n.updates[2].Kind}
	assert.Equal(t, []transcript.UpdateKind{transcript.UpdateCreated, transcript.UpdateEntry, transcript.UpdateDelta}, kinds)
	assert.Equal(t, created.ID, n.updates[2].TranscriptID)
	assert.Equal(t, int64(3), n.updates[2].Version)
	assert.Equal(t, 2, n.updates[2].Entries)
	assert.Equal(t, "alice", n.updates[2].AuthorID)
}

func TestService_RejectsTextBackendsCannotKeep(t *testing.T) {
	svc, n := newService(t)
	ctx := context.Background()
	_, err := svc.CreateConversation(ctx, "alice", "c1", "Chat", nil)
	require.NoError(t, err)
	_, err = svc.MergeDelta(ctx, "alice", "c1", "ok ")
	require.NoError(t, err)

	bad := []string{"ab\xffcd", "\xe2\x82", "nul\x00byte"}
	for _, text := range bad {
		_, err := svc.MergeDelta(ctx, "alice", "c1", text)
		assert.ErrorIs(t, err, transcript.ErrInvalidInput, "delta %q", text)
		_, err = svc.AppendEntry(ctx, "alice", "c1", text)
		assert.ErrorIs(t, err, transcript.ErrInvalidInput, "entry %q", text)
		_, err = svc.CreateConversation(ctx, "alice", "c-"+uuid.NewString(), "n",
			[]transcript.Entry{{Text: text, Role: transcript.RoleAuthor}})
		assert.ErrorIs(t, err, transcript.ErrInvalidInput, "initial entry %q", text)
	}
	_, err = svc.CreateConversation(ctx, "alice", "k\xff", "n", nil)
	assert.ErrorIs(t, err, transcript.ErrInvalidInput)

	tr, err := svc.GetTranscript(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Len(t, tr.Entries, 1)
	assert.Equal(t, "ok ", tr.Entries[0].Text)
	assert.Equal(t, int64(2), tr.Version)
	assert.Len(t, n.updates, 2, "rejected input must not notify")

	// Whole runes split across fragments are fine; only broken bytes are not.
	_, err = svc.MergeDelta(ctx, "alice", "c1", "日本")
	require.NoError(t, err)
	assert.Equal(t, "ok 日本", mustText(t, svc, "c1"))
}

func TestService_UnauthenticatedBeforeValidation(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.MergeDelta(context.Background(), "", "k", "ab\xff")
	assert.ErrorIs(t, err, transcript.ErrUnauthenticated)
}

func mustText(t *testing.T, svc *transcript.Service, key string) string {
	t.Helper()
	tr, err := svc.GetTranscript(context.Background(), "alice", key)
	require.NoError(t, err)
	require.NotEmpty(t, tr.Entries)
	return tr.Entries[len(tr.Entries)-1].Text
}
