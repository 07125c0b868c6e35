package backfill

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

func TestParseSessionFile_BasicConversation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"sessionId":"s1","timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"Hello, deploy the service"}}`,
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","sessionId":"s1","timestamp":"2026-02-11T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"I'll deploy the service now."}]}}`,
		`{"type":"user","uuid":"ccc","parentUuid":"bbb","sessionId":"s1","timestamp":"2026-02-11T10:00:10Z","message":{"role":"user","content":"Great, thanks"}}`,
	})

	msgs, err := ParseSessionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != transcript.RoleAuthor || msgs[0].Text != "Hello, deploy the service" {
		t.Errorf("msg[0] = %q %q", msgs[0].Role, msgs[0].Text)
	}
	if msgs[1].Role != transcript.RoleGenerated || msgs[1].Text != "I'll deploy the service now." {
		t.Errorf("msg[1] = %q %q", msgs[1].Role, msgs[1].Text)
	}
	if msgs[1].Timestamp.IsZero() {
		t.Error("expected parsed timestamp")
	}
}

func TestParseSessionFile_FollowsChainOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	// Lines out of file order; the parent links decide.
	writeLines(t, path, []string{
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","timestamp":"2026-02-11T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"second"}]}}`,
		`{"type":"user","uuid":"aaa","parentUuid":null,"timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"first"}}`,
	})

	msgs, err := ParseSessionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Errorf("unexpected order %+v", msgs)
	}
}

func TestParseSessionFile_SkipsToolTraffic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"List files"}}`,
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","timestamp":"2026-02-11T10:00:01Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","uuid":"ccc","parentUuid":"bbb","timestamp":"2026-02-11T10:00:02Z","message":{"role":"user","content":[{"tool_use_id":"toolu_1","type":"tool_result","content":"file1\nfile2"}]}}`,
		`{"type":"assistant","uuid":"ddd","parentUuid":"ccc","timestamp":"2026-02-11T10:00:03Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"I found file1 and file2."}]}}`,
		`{"type":"progress","uuid":"ppp","parentUuid":"ddd","timestamp":"2026-02-11T10:00:04Z","data":{"type":"hook_progress"}}`,
	})

	msgs, err := ParseSessionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Text != "I found file1 and file2." {
		t.Errorf("msg[1] text = %q", msgs[1].Text)
	}
}

func TestParseSessionFile_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte(""), 0o644)

	msgs, err := ParseSessionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected 0 messages, got %d", len(msgs))
	}
}

func TestParseSessionFile_NotFound(t *testing.T) {
	if _, err := ParseSessionFile("/nonexistent/file.jsonl"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, line := range lines {
		f.WriteString(line + "\n")
	}
}
