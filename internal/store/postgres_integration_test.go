//go:build integration

package store

import (
	"context"
	"os"
	"testing"
)

func setupTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM transcripts WHERE conversation_id IN (SELECT id FROM conversations WHERE author_id IN ('alice', 'bob'))")
		s.pool.Exec(ctx, "DELETE FROM conversations WHERE author_id IN ('alice', 'bob')")
		s.Close()
	})
	return s
}

func TestIntegration_PostgresConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Backend {
		return setupTestPostgres(t)
	})
}
