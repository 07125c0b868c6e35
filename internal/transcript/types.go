package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced an entry.
type Role string

const (
	RoleAuthor    Role = "user"
	RoleGenerated Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAuthor || r == RoleGenerated
}

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way entries store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Entry is one unit of conversation content. Array position is chronological order.
type Entry struct {
	Text      string `json:"content"`
	Role      Role   `json:"role"`
	Timestamp string `json:"date"`
}

// Conversation is an owner-scoped handle on exactly one Transcript.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Transcript is the versioned entries document of one conversation.
// Version starts at 1 and increments on every successful replace.
type Transcript struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Entries        []Entry   `json:"entries"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UpdateKind names the mutation that produced an Update.
type UpdateKind string

const (
	UpdateCreated UpdateKind = "created"
	UpdateDelta   UpdateKind = "delta"
	UpdateEntry   UpdateKind = "entry"
)

// Update describes a committed mutation, for change-feed consumers.
type Update struct {
	TranscriptID   uuid.UUID  `json:"transcript_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	Key            string     `json:"key"`
	AuthorID       string     `json:"author_id"`
	Version        int64      `json:"version"`
	Entries        int        `json:"entries"`
	Kind           UpdateKind `json:"kind"`
	At             time.Time  `json:"at"`
}
