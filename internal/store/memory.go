package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// Memory is a process-local Store. Every read returns a copy, and a replace
// swaps the entries slice under the write lock, so readers never observe a
// partially applied mutation.
type Memory struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]transcript.Conversation
	byOwnerKey    map[ownerKey]uuid.UUID
	transcripts   map[uuid.UUID]*transcript.Transcript // keyed by transcript id
	byConv        map[uuid.UUID]uuid.UUID              // conversation id -> transcript id
}

type ownerKey struct {
	author string
	key    string
}

// NewMemory returns an empty store. Its contents last as long as the process.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[uuid.UUID]transcript.Conversation),
		byOwnerKey:    make(map[ownerKey]uuid.UUID),
		transcripts:   make(map[uuid.UUID]*transcript.Transcript),
		byConv:        make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *Memory) CreateConversation(_ context.Context, conv transcript.Conversation, entries []transcript.Entry) (transcript.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok := ownerKey{author: conv.AuthorID, key: conv.Key}
	if _, exists := m.byOwnerKey[ok]; exists {
		return transcript.Transcript{}, transcript.ErrAlreadyExists
	}

	tr := &transcript.Transcript{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Entries:        cloneEntries(entries),
		Version:        1,
		UpdatedAt:      time.Now().UTC(),
	}
	m.conversations[conv.ID] = conv
	m.byOwnerKey[ok] = conv.ID
	m.transcripts[tr.ID] = tr
	m.byConv[conv.ID] = tr.ID
	return copyTranscript(tr), nil
}

func (m *Memory) ListConversations(_ context.Context, authorID string) ([]transcript.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []transcript.Conversation
	for _, c := range m.conversations {
		if c.AuthorID == authorID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) FindConversation(_ context.Context, authorID, key string) (transcript.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOwnerKey[ownerKey{author: authorID, key: key}]
	if !ok {
		return transcript.Conversation{}, transcript.ErrNotFound
	}
	return m.conversations[id], nil
}

func (m *Memory) TranscriptFor(_ context.Context, conversationID uuid.UUID) (transcript.Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byConv[conversationID]
	if !ok {
		return transcript.Transcript{}, transcript.ErrNotFound
	}
	return copyTranscript(m.transcripts[id]), nil
}

func (m *Memory) ReplaceEntries(_ context.Context, transcriptID uuid.UUID, expectedVersion int64, entries []transcript.Entry) (transcript.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.transcripts[transcriptID]
	if !ok {
		return transcript.Transcript{}, transcript.ErrNotFound
	}
	if tr.Version != expectedVersion {
		return transcript.Transcript{}, transcript.ErrConflict
	}
	tr.Entries = cloneEntries(entries)
	tr.Version++
	tr.UpdatedAt = time.Now().UTC()
	return copyTranscript(tr), nil
}

func copyTranscript(tr *transcript.Transcript) transcript.Transcript {
	out := *tr
	out.Entries = cloneEntries(tr.Entries)
	return out
}

func cloneEntries(entries []transcript.Entry) []transcript.Entry {
	out := make([]transcript.Entry, len(entries))
	copy(out, entries)
	return out
}

// Migrate is a no-op; the maps are ready once NewMemory returns.
func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
