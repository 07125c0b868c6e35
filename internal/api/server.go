package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/llm"
	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// Transcripts is the transcript service surface exposed over HTTP.
type Transcripts interface {
	CreateConversation(ctx context.Context, caller, key, name string, initial []transcript.Entry) (transcript.Transcript, error)
	ListConversations(ctx context.Context, caller string) ([]transcript.Conversation, error)
	GetTranscript(ctx context.Context, caller, key string) (transcript.Transcript, error)
	MergeDelta(ctx context.Context, caller, key, delta string) (transcript.Transcript, error)
	AppendEntry(ctx context.Context, caller, key, text string) (transcript.Transcript, error)
}

// Runner runs generation for a conversation.
type Runner interface {
	Start(ctx context.Context, caller, key, firstMessage string, opts ...llm.GenerateOption) (chat.Result, error)
	Send(ctx context.Context, caller, key, text string, opts ...llm.GenerateOption) (chat.Result, error)
}

// Watcher delivers change-feed messages for one subject until stopped.
type Watcher interface {
	Watch(subject string, handler func(subject string, data []byte)) (stop func(), err error)
}

// Deps are the collaborators behind the API. Runner and Watcher are optional;
// their routes are only mounted when set.
type Deps struct {
	Transcripts Transcripts
	Runner      Runner
	Watcher     Watcher
	Identity    IdentityResolver
	Logger      *slog.Logger
}

type Server struct {
	router      *chi.Mux
	port        int
	transcripts Transcripts
	runner      Runner
	watcher     Watcher
	identity    IdentityResolver
	logger      *slog.Logger
	keepAlive   time.Duration
}

func NewServer(port int, apiToken string, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if deps.Identity == nil {
		deps.Identity = HeaderIdentity(AuthorHeader)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		router:      router,
		port:        port,
		transcripts: deps.Transcripts,
		runner:      deps.Runner,
		watcher:     deps.Watcher,
		identity:    deps.Identity,
		logger:      deps.Logger,
		keepAlive:   15 * time.Second,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/scribe/status", s.status)
		if s.transcripts != nil {
			s.mountConversations(r)
		}
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"agent":     "scribe",
		"status":    "ok",
		"streaming": s.runner != nil,
		"watch":     s.watcher != nil,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
