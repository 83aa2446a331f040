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
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/observability"
	"github.com/coda-run/coda/pkg/orchestrator"
	"github.com/coda-run/coda/pkg/session"
	"github.com/coda-run/coda/pkg/task"
	"github.com/coda-run/coda/pkg/tool"
)

// LLMResolver builds the model.LLM a session's InitAgent operation should
// bind, from the model name an HTTP client requested.
type LLMResolver func(modelName string) (model.LLM, error)

// Config wires a Server to the rest of a coda process: the same
// orchestrator, session store, and default agent profile a CLI front end
// would use, so the HTTP bridge is just another caller of
// pkg/orchestrator's Operation API.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *session.Store
	Profile      task.Profile
	ToolExecutor *tool.Executor
	Resolve      LLMResolver
	Metrics      *observability.Manager // nil disables /metrics and request metrics
}

// Server is coda's HTTP/SSE transport (spec.md §4.G): it translates requests
// into orchestrator.Operation values and relays the orchestrator's Event
// stream back over SSE, using hub to fan one EventSink out to any number of
// concurrent subscribers per session.
type Server struct {
	cfg    Config
	router chi.Router
	hub    *hub
}

// New builds a Server. Its EventSink must be installed as the orchestrator's
// sink (orchestrator.New's third argument) before any operation is
// submitted, so Sink returns that sink for the caller to wire in.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, hub: newHub()}
	s.router = s.buildRouter()
	return s
}

// Sink is the orchestrator.EventSink this server publishes through. Pass it
// to orchestrator.New so every event the orchestrator emits reaches this
// server's SSE subscribers.
func (s *Server) Sink() orchestrator.EventSink {
	return s.publishEvent
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/input", s.handleUserInput)
			r.Post("/interrupt", s.handleInterrupt)
			r.Post("/fork", s.handleFork)
			r.Delete("/", s.handleEndSession)
			r.Get("/events", s.handleEvents)
			r.Get("/history/{index}", s.handleHistoryItem)
		})
	})

	if s.cfg.Metrics != nil {
		r.Get(s.cfg.Metrics.MetricsEndpoint(), s.cfg.Metrics.MetricsHandler().ServeHTTP)
	}

	return r
}
