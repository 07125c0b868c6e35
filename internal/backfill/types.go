// Package backfill imports conversations recorded by other tools as JSONL
// session logs into the transcript store.
package backfill

import (
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// Message is a single turn parsed from a session log.
type Message struct {
	Role      transcript.Role
	Text      string
	Timestamp time.Time
}

// Format identifies the log layout a file was parsed with.
type Format int

const (
	// FormatSession logs link each line to its predecessor by parentUuid.
	FormatSession Format = iota
	// FormatGateway logs are timestamped message events.
	FormatGateway
)

func (f Format) String() string {
	if f == FormatSession {
		return "session"
	}
	return "gateway"
}

// contentBlock is the shared shape of structured message content.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func roleOf(s string) (transcript.Role, bool) {
	switch s {
	case "user":
		return transcript.RoleAuthor, true
	case "assistant":
		return transcript.RoleGenerated, true
	default:
		return "", false
	}
}
