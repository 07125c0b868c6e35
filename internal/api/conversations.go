package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/llm"
	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// statusUpdated is the success marker for delta merges. Callers compare
// against it literally.
const statusUpdated = "Updated successfully"

type createConversationRequest struct {
	Key     string             `json:"key"`
	Name    string             `json:"name"`
	Entries []transcript.Entry `json:"entries"`
}

type createConversationResponse struct {
	ID string `json:"id"`
}

type conversationSummary struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type entriesResponse struct {
	Entries []transcript.Entry `json:"entries"`
	Version int64              `json:"version,omitempty"`
}

type deltaRequest struct {
	Delta string `json:"delta"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type textRequest struct {
	Key   string `json:"key,omitempty"`
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// generateOptions maps per-request choices onto the generator.
func (req textRequest) generateOptions() []llm.GenerateOption {
	if req.Model == "" {
		return nil
	}
	return []llm.GenerateOption{llm.WithModel(req.Model)}
}

type runResponse struct {
	transcript.Transcript
	Key   string `json:"key"`
	State string `json:"state"`
}

func (s *Server) mountConversations(r chi.Router) {
	r.Post("/conversations", s.createConversation)
	r.Get("/conversations", s.listConversations)
	r.Get("/conversations/{key}/transcript", s.getTranscript)
	r.Post("/conversations/{key}/deltas", s.mergeDelta)
	r.Post("/conversations/{key}/entries", s.appendEntry)
	if s.runner != nil {
		r.Post("/conversations/start", s.startConversation)
		r.Post("/conversations/{key}/messages", s.sendMessage)
	}
	if s.watcher != nil {
		r.Get("/conversations/{key}/watch", s.watchTranscript)
	}
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decode(r, &req); err != nil {
		s.fail("create conversation", err)
		writeJSON(w, createConversationResponse{})
		return
	}

	tr, err := s.transcripts.CreateConversation(r.Context(), s.identity(r), req.Key, req.Name, req.Entries)
	if err != nil {
		s.fail("create conversation", err, "key", req.Key)
		writeJSON(w, createConversationResponse{})
		return
	}
	writeJSON(w, createConversationResponse{ID: tr.ID.String()})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.transcripts.ListConversations(r.Context(), s.identity(r))
	out := make([]conversationSummary, 0, len(convs))
	if err != nil {
		s.fail("list conversations", err)
		writeJSON(w, out)
		return
	}
	for _, c := range convs {
		out = append(out, conversationSummary{Key: c.Key, Name: c.Name, CreatedAt: c.CreatedAt})
	}
	writeJSON(w, out)
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	tr, err := s.transcripts.GetTranscript(r.Context(), s.identity(r), key)
	if err != nil {
		s.fail("get transcript", err, "key", key)
		writeJSON(w, entriesResponse{Entries: []transcript.Entry{}})
		return
	}
	writeJSON(w, entriesResponse{Entries: nonNil(tr.Entries), Version: tr.Version})
}

func (s *Server) mergeDelta(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req deltaRequest
	if err := decode(r, &req); err != nil {
		s.fail("merge delta", err, "key", key)
		writeJSON(w, statusResponse{})
		return
	}

	if _, err := s.transcripts.MergeDelta(r.Context(), s.identity(r), key, req.Delta); err != nil {
		s.fail("merge delta", err, "key", key)
		writeJSON(w, statusResponse{})
		return
	}
	writeJSON(w, statusResponse{Status: statusUpdated})
}

func (s *Server) appendEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req textRequest
	if err := decode(r, &req); err != nil {
		s.fail("append entry", err, "key", key)
		writeJSON(w, struct{}{})
		return
	}

	tr, err := s.transcripts.AppendEntry(r.Context(), s.identity(r), key, req.Text)
	if err != nil {
		s.fail("append entry", err, "key", key)
		writeJSON(w, struct{}{})
		return
	}
	tr.Entries = nonNil(tr.Entries)
	writeJSON(w, tr)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req textRequest
	if err := decode(r, &req); err != nil {
		s.fail("send message", err, "key", key)
		writeJSON(w, struct{}{})
		return
	}

	res, err := s.runner.Send(r.Context(), s.identity(r), key, req.Text, req.generateOptions()...)
	s.writeRun(w, "send message", res, err)
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(r, &req); err != nil {
		s.fail("start conversation", err)
		writeJSON(w, struct{}{})
		return
	}

	res, err := s.runner.Start(r.Context(), s.identity(r), req.Key, req.Text, req.generateOptions()...)
	s.writeRun(w, "start conversation", res, err)
}

// writeRun reports a run. A failed generation still returns the partial
// transcript, since the fragments that did merge are persisted.
func (s *Server) writeRun(w http.ResponseWriter, op string, res chat.Result, err error) {
	if err != nil {
		s.fail(op, err, "key", res.Key)
		if res.Transcript.ID == uuid.Nil {
			writeJSON(w, struct{}{})
			return
		}
	}
	res.Transcript.Entries = nonNil(res.Transcript.Entries)
	writeJSON(w, runResponse{Transcript: res.Transcript, Key: res.Key, State: string(res.State)})
}

// fail logs the kind of a neutralized error. Caller mistakes log at debug,
// everything else at warn.
func (s *Server) fail(op string, err error, attrs ...any) {
	kind := transcript.Kind(err)
	attrs = append(attrs, "op", op, "kind", kind, "error", err)
	switch {
	case errors.Is(err, chat.ErrRunInProgress):
		s.logger.Info("request rejected", attrs...)
	case kind == transcript.KindNotFound,
		kind == transcript.KindUnauthenticated,
		kind == transcript.KindInvalidInput,
		kind == transcript.KindAlreadyExists:
		s.logger.Debug("request rejected", attrs...)
	default:
		s.logger.Warn("request failed", attrs...)
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(transcript.ErrInvalidInput, err)
	}
	return nil
}

func nonNil(entries []transcript.Entry) []transcript.Entry {
	if entries == nil {
		return []transcript.Entry{}
	}
	return entries
}
