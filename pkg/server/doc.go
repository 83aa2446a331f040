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

// Package server is the HTTP/SSE bridge between pkg/orchestrator's
// transport-agnostic Operation/Event API (spec.md §4.G) and a remote UI: one
// chi router exposes session lifecycle and turn submission as JSON
// endpoints, and streams the orchestrator's Event union to subscribers as
// server-sent events, each encoded with event.Encode — the same envelope the
// history-item endpoint returns for replayed session history.
package server
