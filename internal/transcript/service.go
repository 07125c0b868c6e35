// Package transcript implements the conversation transcript mutation protocol:
// delta coalescing for generated output, unconditional appends for author
// messages, and versioned whole-document replacement underneath both.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMaxConflictRetries bounds how often a mutation re-reads after losing a version race.
const DefaultMaxConflictRetries = 3

// Store is the persistence contract: a conversation index plus a versioned
// transcript document per conversation. Implementations return ErrNotFound,
// ErrConflict and ErrAlreadyExists as sentinels and wrap everything else in
// *StoreError.
type Store interface {
	CreateConversation(ctx context.Context, conv Conversation, entries []Entry) (Transcript, error)
	ListConversations(ctx context.Context, authorID string) ([]Conversation, error)
	FindConversation(ctx context.Context, authorID, key string) (Conversation, error)
	TranscriptFor(ctx context.Context, conversationID uuid.UUID) (Transcript, error)
	// ReplaceEntries overwrites the whole entries array if the stored version
	// still equals expectedVersion, and returns the transcript at its new version.
	ReplaceEntries(ctx context.Context, transcriptID uuid.UUID, expectedVersion int64, entries []Entry) (Transcript, error)
}

// Notifier receives committed mutations. It must not block for long.
type Notifier interface {
	TranscriptUpdated(ctx context.Context, u Update)
}

// Service runs the transcript operations for an explicit caller. It returns
// typed errors; turning them into neutral values is left to the boundary.
type Service struct {
	store      Store
	notifier   Notifier
	logger     *slog.Logger
	maxRetries int
	now        func() time.Time
}

// NewService wires a Service. notifier may be nil. A negative maxRetries
// selects DefaultMaxConflictRetries.
func NewService(store Store, notifier Notifier, logger *slog.Logger, maxRetries int) *Service {
	if maxRetries < 0 {
		maxRetries = DefaultMaxConflictRetries
	}
	return &Service{
		store:      store,
		notifier:   notifier,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// CreateConversation inserts a conversation owned by caller together with its transcript.
func (s *Service) CreateConversation(ctx context.Context, caller, key, name string, initial []Entry) (Transcript, error) {
	if caller == "" {
		return Transcript{}, ErrUnauthenticated
	}
	if strings.TrimSpace(key) == "" {
		return Transcript{}, fmt.Errorf("empty conversation key: %w", ErrInvalidInput)
	}

	if err := checkText("conversation key", key); err != nil {
		return Transcript{}, err
	}
	if err := checkText("conversation name", name); err != nil {
		return Transcript{}, err
	}

	now := s.now()
	entries := make([]Entry, 0, len(initial))
	for i, e := range initial {
		if !e.Role.Valid() {
			return Transcript{}, fmt.Errorf("entry %d has role %q: %w", i, e.Role, ErrInvalidInput)
		}
		if err := checkText(fmt.Sprintf("entry %d", i), e.Text); err != nil {
			return Transcript{}, err
		}
		if e.Timestamp == "" {
			e.Timestamp = FormatTimestamp(now)
		}
		entries = append(entries, e)
	}

	conv := Conversation{
		ID:        uuid.New(),
		Key:       key,
		Name:      name,
		AuthorID:  caller,
		CreatedAt: now.UTC(),
	}
	tr, err := s.store.CreateConversation(ctx, conv, entries)
	if err != nil {
		return Transcript{}, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Info("conversation created", "key", key, "author", caller, "transcript_id", tr.ID)
	s.notify(ctx, conv, tr, UpdateCreated)
	return tr, nil
}

// ListConversations returns the conversations owned by caller, newest first.
func (s *Service) ListConversations(ctx context.Context, caller string) ([]Conversation, error) {
	if caller == "" {
		return nil, ErrUnauthenticated
	}
	convs, err := s.store.ListConversations(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// GetTranscript returns the transcript for key. A key that does not exist and
// a key owned by someone else both yield ErrNotFound.
func (s *Service) GetTranscript(ctx context.Context, caller, key string) (Transcript, error) {
	conv, err := s.resolve(ctx, caller, key)
	if err != nil {
		return Transcript{}, err
	}
	tr, err := s.store.TranscriptFor(ctx, conv.ID)
	if err != nil {
		return Transcript{}, fmt.Errorf("load transcript: %w", err)
	}
	return tr, nil
}

// Conversation resolves key to the caller's conversation.
func (s *Service) Conversation(ctx context.Context, caller, key string) (Conversation, error) {
	return s.resolve(ctx, caller, key)
}

// MergeDelta folds delta into the open generated entry of key's transcript,
// opening one if the last entry is not generated. An empty delta is valid.
//
// Calls for one generation run must be issued one at a time. Concurrent
// writers are serialized by the version check; a writer that keeps losing
// gives up with ErrConflict after maxRetries re-reads.
func (s *Service) MergeDelta(ctx context.Context, caller, key, delta string) (Transcript, error) {
	if err := s.checkInput(caller, "delta", delta); err != nil {
		return Transcript{}, err
	}
	return s.mutate(ctx, caller, key, UpdateDelta, func(entries []Entry, now time.Time) []Entry {
		return MergeDelta(entries, delta, now)
	})
}

// AppendEntry appends an author entry to key's transcript.
func (s *Service) AppendEntry(ctx context.Context, caller, key, text string) (Transcript, error) {
	if err := s.checkInput(caller, "entry", text); err != nil {
		return Transcript{}, err
	}
	return s.mutate(ctx, caller, key, UpdateEntry, func(entries []Entry, now time.Time) []Entry {
		return AppendAuthored(entries, text, now)
	})
}

// checkInput keeps the unauthenticated answer ahead of input validation.
func (s *Service) checkInput(caller, field, text string) error {
	if caller == "" {
		return ErrUnauthenticated
	}
	return checkText(field, text)
}

// checkText rejects text that a durable backend could not store byte for
// byte: JSON encoding rewrites invalid UTF-8 to U+FFFD and Postgres jsonb
// refuses NUL.
func checkText(field, text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%s is not valid UTF-8: %w", field, ErrInvalidInput)
	}
	if strings.IndexByte(text, 0) >= 0 {
		return fmt.Errorf("%s contains NUL: %w", field, ErrInvalidInput)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, caller, key string) (Conversation, error) {
	if caller == "" {
		return Conversation{}, ErrUnauthenticated
	}
	conv, err := s.store.FindConversation(ctx, caller, key)
	if err != nil {
		return Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) mutate(ctx context.Context, caller, key string, kind UpdateKind, apply func([]Entry, time.Time) []Entry) (Transcript, error) {
	conv, err := s.resolve(ctx, caller, key)
	if err != nil {
		return Transcript{}, err
	}

	for attempt := 0; ; attempt++ {
		current, err := s.store.TranscriptFor(ctx, conv.ID)
		if err != nil {
			return Transcript{}, fmt.Errorf("load transcript: %w", err)
		}

		next := apply(current.Entries, s.now())
		updated, err := s.store.ReplaceEntries(ctx, current.ID, current.Version, next)
		if errors.Is(err, ErrConflict) && attempt < s.maxRetries {
			s.logger.Debug("transcript version moved, retrying",
				"key", key,
				"kind", string(kind),
				"version", current.Version,
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			return Transcript{}, fmt.Errorf("replace entries: %w", err)
		}

		s.notify(ctx, conv, updated, kind)
		return updated, nil
	}
}

func (s *Service) notify(ctx context.Context, conv Conversation, tr Transcript, kind UpdateKind) {
	if s.notifier == nil {
		return
	}
	s.notifier.TranscriptUpdated(ctx, Update{
		TranscriptID:   tr.ID,
		ConversationID: conv.ID,
		Key:            conv.Key,
		AuthorID:       conv.AuthorID,
		Version:        tr.Version,
		Entries:        len(tr.Entries),
		Kind:           kind,
		At:             s.now().UTC(),
	})
}
