package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

type fakePublisher struct {
	subject string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(subject string, data any) error {
	if f.err != nil {
		return f.err
	}
	f.subject = subject
	b, err := json.Marshal(data)
	f.payload = b
	return err
}

func TestSubjectTranscriptUpdated(t *testing.T) {
	id := uuid.MustParse("6f1c2a8e-3b0d-4a57-9a8e-1e2f3a4b5c6d")
	got := SubjectTranscriptUpdated(id)
	want := "swarm.scribe.transcript.6f1c2a8e-3b0d-4a57-9a8e-1e2f3a4b5c6d.updated"
	if got != want {
		t.Errorf("SubjectTranscriptUpdated = %q, want %q", got, want)
	}
}

func TestTranscriptNotifier_PublishesUpdate(t *testing.T) {
	pub := &fakePublisher{}
	n := NewTranscriptNotifier(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	u := transcript.Update{
		TranscriptID:   uuid.New(),
		ConversationID: uuid.New(),
		Key:            "chat-1",
		AuthorID:       "alice",
		Version:        7,
		Entries:        3,
		Kind:           transcript.UpdateDelta,
		At:             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	n.TranscriptUpdated(context.Background(), u)

	if pub.subject != SubjectTranscriptUpdated(u.TranscriptID) {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var parsed transcript.Update
	if err := json.Unmarshal(pub.payload, &parsed); err != nil {
		t.Fatalf("payload is not an update: %v", err)
	}
	if parsed != u {
		t.Errorf("payload mismatch: got %+v, want %+v", parsed, u)
	}
}

func TestTranscriptNotifier_SwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	n := NewTranscriptNotifier(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Must not panic or block.
	n.TranscriptUpdated(context.Background(), transcript.Update{TranscriptID: uuid.New()})
}
