package backfill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// Creator stores an imported conversation.
type Creator interface {
	CreateConversation(ctx context.Context, caller, key, name string, initial []transcript.Entry) (transcript.Transcript, error)
}

// Titler names a conversation from its opening message.
type Titler interface {
	Summarize(ctx context.Context, firstMessage string) string
}

const (
	defaultKeyPrefix = "import-"
	maxFallbackTitle = 60
)

// Config holds the import command configuration.
type Config struct {
	SessionDir  string
	GatewayDir  string
	SingleFile  string // import one file only
	Author      string // owner of every imported conversation
	Since       time.Time
	Until       time.Time
	MinMessages int
	SkipNoHuman bool // skip logs with no human author messages
	DryRun      bool
	StatePath   string
	KeyPrefix   string
}

// Summary counts what one run did.
type Summary struct {
	Files      int
	Created    int
	Existing   int
	Duplicates int
	Entries    int
	Errors     int
}

// Runner imports session logs as conversations.
type Runner struct {
	cfg     Config
	creator Creator
	titler  Titler
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates an import runner. titler may be nil, in which case titles
// come from the opening message itself.
func NewRunner(cfg Config, creator Creator, titler Titler, logger *slog.Logger) *Runner {
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Runner{cfg: cfg, creator: creator, titler: titler, logger: logger, now: time.Now}
}

type parsedFile struct {
	path   string
	format Format
	msgs   []Message
}

// Run imports every eligible file not yet recorded in the state file.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if r.cfg.Author == "" {
		return sum, fmt.Errorf("import author: %w", transcript.ErrUnauthenticated)
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return sum, fmt.Errorf("load state: %w", err)
	}

	sessionFiles, gatewayFiles, err := r.discoverFiles()
	if err != nil {
		return sum, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "session_files", len(sessionFiles), "gateway_files", len(gatewayFiles))

	sessions := r.parseAll(state, sessionFiles, FormatSession, &sum)
	gateways := r.parseAll(state, gatewayFiles, FormatGateway, &sum)

	var sessionFPs, gatewayFPs []fingerprint
	for _, p := range sessions {
		sessionFPs = append(sessionFPs, fingerprintOf(p.path, p.format, p.msgs))
	}
	for _, p := range gateways {
		gatewayFPs = append(gatewayFPs, fingerprintOf(p.path, p.format, p.msgs))
	}
	dups := findDuplicates(sessionFPs, gatewayFPs)

	files := append([]parsedFile{}, sessions...)
	for _, gw := range gateways {
		if dups[gw.path] {
			r.logger.Info("skipping duplicate gateway file", "path", gw.path)
			sum.Duplicates++
			continue
		}
		files = append(files, gw)
	}

	for _, pf := range files {
		if err := ctx.Err(); err != nil {
			r.save(state)
			return sum, err
		}
		r.importFile(ctx, state, pf, &sum)
		sum.Files++
	}
	r.save(state)

	r.logger.Info("backfill complete",
		"files", sum.Files,
		"created", sum.Created,
		"existing", sum.Existing,
		"duplicates", sum.Duplicates,
		"entries", sum.Entries,
		"errors", sum.Errors,
		"dry_run", r.cfg.DryRun,
	)
	return sum, nil
}

func (r *Runner) parseAll(state *State, paths []string, format Format, sum *Summary) []parsedFile {
	parse := ParseSessionFile
	if format == FormatGateway {
		parse = ParseGatewayFile
	}

	var out []parsedFile
	for _, path := range paths {
		if state.Imported(path) {
			continue
		}
		msgs, err := parse(path)
		if err != nil {
			r.logger.Warn("failed to parse file", "path", path, "format", format.String(), "error", err)
			state.AddError(fmt.Sprintf("parse %s: %v", path, err))
			sum.Errors++
			continue
		}
		if len(msgs) == 0 || len(msgs) < r.cfg.MinMessages {
			continue
		}
		if r.cfg.SkipNoHuman && !hasHumanMessages(msgs) {
			continue
		}
		if !r.inDateRange(msgs) {
			continue
		}
		out = append(out, parsedFile{path: path, format: format, msgs: msgs})
	}
	return out
}

func (r *Runner) importFile(ctx context.Context, state *State, pf parsedFile, sum *Summary) {
	entries := ToEntries(pf.msgs, r.now())
	key := r.keyFor(pf.path)
	name := r.title(ctx, pf.msgs)

	logger := r.logger.With("path", pf.path, "key", key)
	if r.cfg.DryRun {
		logger.Info("would import conversation", "name", name, "entries", len(entries))
		sum.Created++
		sum.Entries += len(entries)
		return
	}

	_, err := r.creator.CreateConversation(ctx, r.cfg.Author, key, name, entries)
	switch {
	case errors.Is(err, transcript.ErrAlreadyExists):
		logger.Info("conversation already imported")
		sum.Existing++
	case err != nil:
		logger.Error("import failed", "error", err)
		state.AddError(fmt.Sprintf("import %s: %v", pf.path, err))
		sum.Errors++
		return
	default:
		logger.Info("conversation imported", "name", name, "entries", len(entries))
		sum.Created++
		sum.Entries += len(entries)
		state.ConversationsCreated++
		state.EntriesImported += len(entries)
	}
	state.MarkImported(pf.path)
	r.save(state)
}

func (r *Runner) save(state *State) {
	if r.cfg.DryRun {
		return
	}
	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save backfill state", "error", err)
	}
}

// ToEntries folds parsed messages into transcript entries. Consecutive
// generated messages become one entry, the way a streamed reply would.
func ToEntries(msgs []Message, fallback time.Time) []transcript.Entry {
	var entries []transcript.Entry
	for _, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = fallback
		}
		if m.Role == transcript.RoleAuthor {
			entries = transcript.AppendAuthored(entries, m.Text, ts)
			continue
		}
		text := m.Text
		if n := len(entries); n > 0 && entries[n-1].Role == transcript.RoleGenerated {
			text = "\n\n" + text
		}
		entries = transcript.MergeDelta(entries, text, ts)
	}
	return entries
}

// keyFor names a file's conversation as <prefix><base>-<hash>. The hash is
// taken over the absolute path, so logs that share a base name in different
// directories get distinct keys and a rerun maps each file to the same key.
func (r *Runner) keyFor(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	sum := sha256.Sum256([]byte(abs))
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return r.cfg.KeyPrefix + base + "-" + hex.EncodeToString(sum[:4])
}

func (r *Runner) title(ctx context.Context, msgs []Message) string {
	first := ""
	for _, m := range msgs {
		if m.Role == transcript.RoleAuthor {
			first = strings.TrimSpace(m.Text)
			break
		}
	}
	if first == "" {
		first = strings.TrimSpace(msgs[0].Text)
	}
	if r.titler != nil {
		return r.titler.Summarize(ctx, first)
	}
	line, _, _ := strings.Cut(first, "\n")
	if runes := []rune(line); len(runes) > maxFallbackTitle {
		line = string(runes[:maxFallbackTitle])
	}
	return line
}

func (r *Runner) discoverFiles() (sessionFiles, gatewayFiles []string, err error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("single file not found: %s", path)
		}
		if r.cfg.GatewayDir != "" && strings.HasPrefix(path, expandHome(r.cfg.GatewayDir)) {
			return nil, []string{path}, nil
		}
		return []string{path}, nil, nil
	}

	sessionFiles = r.walkJSONL(r.cfg.SessionDir)
	gatewayFiles = r.walkJSONL(r.cfg.GatewayDir)
	return sessionFiles, gatewayFiles, nil
}

func (r *Runner) walkJSONL(dir string) []string {
	if dir == "" {
		return nil
	}
	root := expandHome(dir)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("error walking dir", "dir", root, "error", err)
	}
	return files
}

// hasHumanMessages reports whether any author message is not a scheduled
// prompt.
func hasHumanMessages(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == transcript.RoleAuthor && !strings.HasPrefix(m.Text, "[cron:") {
			return true
		}
	}
	return false
}

func (r *Runner) inDateRange(msgs []Message) bool {
	if r.cfg.Since.IsZero() && r.cfg.Until.IsZero() {
		return true
	}
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			continue
		}
		if !r.cfg.Since.IsZero() && m.Timestamp.Before(r.cfg.Since) {
			continue
		}
		if !r.cfg.Until.IsZero() && m.Timestamp.After(r.cfg.Until) {
			continue
		}
		return true
	}
	return false
}
