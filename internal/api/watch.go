package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

// watchTranscript streams full transcript snapshots as server-sent events.
// Change-feed messages only signal that something moved; the snapshot is
// always re-read from the service so readers never see a partial merge.
// The first snapshot is read after subscribing, so a commit that lands
// while the subscription is set up still reaches the stream.
func (s *Server) watchTranscript(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	caller := s.identity(r)
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Warn("watch unsupported by response writer", "key", key)
		return
	}

	// The subject is keyed by transcript id, so resolve it before subscribing.
	tr, err := s.transcripts.GetTranscript(ctx, caller, key)
	if err != nil {
		s.fail("watch transcript", err, "key", key)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		return
	}

	changed := make(chan struct{}, 1)
	stop, err := s.watcher.Watch(hermes.SubjectTranscriptUpdated(tr.ID), func(string, []byte) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		s.fail("watch transcript", err, "key", key)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		return
	}
	defer stop()

	tr, err = s.transcripts.GetTranscript(ctx, caller, key)
	if err != nil {
		s.fail("watch transcript", err, "key", key)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		return
	}
	if err := writeSnapshot(w, tr); err != nil {
		return
	}
	flusher.Flush()
	last := tr.Version

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-changed:
			cur, err := s.transcripts.GetTranscript(ctx, caller, key)
			if err != nil {
				s.fail("watch transcript", err, "key", key)
				return
			}
			if cur.Version <= last {
				continue
			}
			if err := writeSnapshot(w, cur); err != nil {
				return
			}
			flusher.Flush()
			last = cur.Version
		}
	}
}

func writeSnapshot(w http.ResponseWriter, tr transcript.Transcript) error {
	tr.Entries = nonNil(tr.Entries)
	data, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: transcript\ndata: %s\n\n", tr.Version, data)
	return err
}
