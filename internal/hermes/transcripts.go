package hermes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// SubjectTranscriptUpdated is the subject a transcript's change events go to.
// The id keeps caller-chosen keys out of subject tokens.
func SubjectTranscriptUpdated(transcriptID uuid.UUID) string {
	return fmt.Sprintf("swarm.scribe.transcript.%s.updated", transcriptID)
}

// Publisher is the subset of Client used to emit events.
type Publisher interface {
	Publish(subject string, data any) error
}

// TranscriptNotifier publishes committed transcript mutations to NATS.
type TranscriptNotifier struct {
	pub    Publisher
	logger *slog.Logger
}

func NewTranscriptNotifier(pub Publisher, logger *slog.Logger) *TranscriptNotifier {
	return &TranscriptNotifier{pub: pub, logger: logger}
}

// TranscriptUpdated implements transcript.Notifier. Publish errors are logged
// and never fail the mutation that triggered them.
func (n *TranscriptNotifier) TranscriptUpdated(_ context.Context, u transcript.Update) {
	if err := n.pub.Publish(SubjectTranscriptUpdated(u.TranscriptID), u); err != nil {
		n.logger.Warn("failed to publish transcript update",
			"transcript_id", u.TranscriptID,
			"kind", string(u.Kind),
			"version", u.Version,
			"error", err,
		)
	}
}
