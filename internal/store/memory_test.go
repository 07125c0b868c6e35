package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

func TestMemory_LifecycleKeepsContents(t *testing.T) {
	ctx := context.Background()
	var b Backend = NewMemory()
	require.NoError(t, b.Migrate(ctx))

	conv := transcript.Conversation{ID: uuid.New(), Key: "k", AuthorID: "alice", CreatedAt: time.Now()}
	_, err := b.CreateConversation(ctx, conv, nil)
	require.NoError(t, err)

	// A second migrate must not reset the maps.
	require.NoError(t, b.Migrate(ctx))
	_, err = b.FindConversation(ctx, "alice", "k")
	assert.NoError(t, err)
	assert.NoError(t, b.Close())
}
