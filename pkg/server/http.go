// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/orchestrator"
	"github.com/coda-run/coda/pkg/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.cfg.Store.IterSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	llm, err := s.cfg.Resolve(body.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := session.NewSessionID()
	if err := s.cfg.Store.Create(id, message.Session{ID: id, Model: body.Model}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	opID := s.cfg.Orchestrator.Submit(r.Context(), orchestrator.InitAgent{
		SessionID:    id,
		Profile:      s.cfg.Profile,
		LLM:          llm,
		Model:        body.Model,
		ToolExecutor: s.cfg.ToolExecutor,
	})
	if err := s.cfg.Orchestrator.WaitFor(r.Context(), opID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleUserInput(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opID := s.cfg.Orchestrator.Submit(r.Context(), orchestrator.UserInput{
		SessionID: sessionID,
		Input:     orchestrator.UserInputPayload{Text: body.Text},
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"operation_id": opID})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	opID := s.cfg.Orchestrator.Submit(r.Context(), orchestrator.Interrupt{SessionID: sessionID})
	if err := s.cfg.Orchestrator.WaitFor(r.Context(), opID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFork(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		AtIndex int `json:"at_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opID := s.cfg.Orchestrator.Submit(r.Context(), orchestrator.Fork{SessionID: sessionID, AtIndex: body.AtIndex})
	if err := s.cfg.Orchestrator.WaitFor(r.Context(), opID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	opID := s.cfg.Orchestrator.Submit(r.Context(), orchestrator.End{SessionID: sessionID})
	if err := s.cfg.Orchestrator.WaitFor(r.Context(), opID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.cfg.Store.GetHistoryItem(sessionID, index)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	frames := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		frame, err := event.Encode(ev)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		frames = append(frames, frame)
	}
	writeJSON(w, http.StatusOK, frames)
}

// handleEvents streams sessionID's live events as SSE, one "data:" frame per
// event.Event, encoded with event.Encode like the history-item response so a
// client parses both the same way.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNoFlush)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.hub.subscribe(sessionID)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// publishEvent is this server's orchestrator.EventSink: it encodes ev and
// fans it out to every SSE subscriber of sessionID. The orchestrator's
// dispatch loop treats a false return as "stop delivering", which this
// server never requests — a dropped HTTP connection simply stops draining
// its own subscriber channel.
func (s *Server) publishEvent(sessionID string, ev event.Event) bool {
	frame, err := event.Encode(ev)
	if err != nil {
		return true
	}
	s.hub.publish(sessionID, frame)
	return true
}
