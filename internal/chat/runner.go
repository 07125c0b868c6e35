// Package chat drives generation runs against the transcript service: it
// appends the author message, streams the backend's reply and merges every
// fragment before pulling the next one.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/llm"
	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// ErrRunInProgress is returned when a conversation already has an active run
// in this process.
var ErrRunInProgress = errors.New("generation run already in progress")

// Transcripts is the part of transcript.Service the runner drives.
type Transcripts interface {
	CreateConversation(ctx context.Context, caller, key, name string, initial []transcript.Entry) (transcript.Transcript, error)
	AppendEntry(ctx context.Context, caller, key, text string) (transcript.Transcript, error)
	MergeDelta(ctx context.Context, caller, key, delta string) (transcript.Transcript, error)
}

// Result summarizes a finished run.
type Result struct {
	Key        string
	Transcript transcript.Transcript
	State      RunState
	Fragments  int // fragments merged
	Dropped    int // fragments whose merge failed
}

// Runner drives generation runs: it records the author's message, then
// merges generated fragments into the transcript as they arrive. At most one
// run is active per caller and conversation key.
type Runner struct {
	transcripts Transcripts
	gen         llm.Generator
	logger      *slog.Logger

	mu     sync.Mutex
	active map[runKey]struct{}
}

type runKey struct {
	caller string
	key    string
}

// New returns a Runner that writes through t and generates with gen.
func New(t Transcripts, gen llm.Generator, logger *slog.Logger) *Runner {
	return &Runner{
		transcripts: t,
		gen:         gen,
		logger:      logger,
		active:      make(map[runKey]struct{}),
	}
}

// Start opens a conversation titled after firstMessage and runs generation
// for it. An empty key gets a random one. opts apply to the generation call.
func (r *Runner) Start(ctx context.Context, caller, key, firstMessage string, opts ...llm.GenerateOption) (Result, error) {
	if caller == "" {
		return Result{}, transcript.ErrUnauthenticated
	}
	text := strings.TrimSpace(firstMessage)
	if text == "" {
		return Result{}, fmt.Errorf("empty message: %w", transcript.ErrInvalidInput)
	}
	if key == "" {
		key = uuid.New().String()
	}

	release, err := r.acquire(caller, key)
	if err != nil {
		return Result{}, err
	}
	defer release()

	title := r.gen.Summarize(ctx, text)
	tr, err := r.transcripts.CreateConversation(ctx, caller, key, title, []transcript.Entry{
		{Text: text, Role: transcript.RoleAuthor},
	})
	if err != nil {
		return Result{}, fmt.Errorf("start conversation: %w", err)
	}
	return r.stream(ctx, caller, key, tr, opts)
}

// Send appends text as an author entry to key and runs generation for it.
func (r *Runner) Send(ctx context.Context, caller, key, text string, opts ...llm.GenerateOption) (Result, error) {
	if caller == "" {
		return Result{}, transcript.ErrUnauthenticated
	}
	release, err := r.acquire(caller, key)
	if err != nil {
		return Result{}, err
	}
	defer release()

	tr, err := r.transcripts.AppendEntry(ctx, caller, key, text)
	if err != nil {
		return Result{}, fmt.Errorf("append message: %w", err)
	}
	return r.stream(ctx, caller, key, tr, opts)
}

// stream merges fragments strictly one at a time; the next fragment is not
// pulled until the previous merge returned.
func (r *Runner) stream(ctx context.Context, caller, key string, tr transcript.Transcript, opts []llm.GenerateOption) (Result, error) {
	logger := r.logger.With("key", key, "author", caller)
	rn := newRun(logger)
	rn.fire(triggerOpen)

	res := Result{Key: key, Transcript: tr}
	var genErr error
	for delta, err := range r.gen.Generate(ctx, tr.Entries, opts...) {
		if err != nil {
			genErr = err
			break
		}
		if delta == "" {
			continue
		}
		updated, err := r.transcripts.MergeDelta(ctx, caller, key, delta)
		if err != nil {
			res.Dropped++
			logger.Warn("dropped fragment", "kind", string(transcript.Kind(err)), "error", err)
			continue
		}
		res.Fragments++
		res.Transcript = updated
		rn.fire(triggerDelta)
	}

	switch {
	case ctx.Err() != nil:
		rn.fire(triggerAbort)
	case genErr != nil:
		rn.fire(triggerFail)
	default:
		rn.fire(triggerFinish)
	}
	res.State = rn.state()

	logger.Info("generation run finished",
		"state", string(res.State),
		"fragments", res.Fragments,
		"dropped", res.Dropped,
		"version", res.Transcript.Version,
	)
	if res.State == StateFailed {
		return res, fmt.Errorf("generate: %w", genErr)
	}
	return res, nil
}

func (r *Runner) acquire(caller, key string) (func(), error) {
	k := runKey{caller: caller, key: key}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[k]; busy {
		return nil, ErrRunInProgress
	}
	r.active[k] = struct{}{}
	return func() {
		r.mu.Lock()
		delete(r.active, k)
		r.mu.Unlock()
	}, nil
}
