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
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

var errNoFlush = errors.New("server: response writer does not support flushing")

// responseWriter wraps http.ResponseWriter to capture the status and size
// metricsMiddleware reports, and to preserve http.Flusher for the SSE
// handler wrapped underneath it.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// metricsMiddleware records request counts and durations by chi route
// pattern rather than raw path, so "/v1/sessions/{sessionID}/input" is one
// timeseries instead of one per session ID.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		rctx := chi.RouteContext(r.Context())
		pattern := r.URL.Path
		if rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}

		s.cfg.Metrics.Metrics().RecordHTTPRequest(r.Method, pattern, wrapped.statusCode, time.Since(start), r.ContentLength, int64(wrapped.size))
	})
}
