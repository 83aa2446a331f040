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

import "sync"

// hub fans one orchestrator.EventSink out to any number of SSE subscribers
// per session. A session with no subscribers simply drops its events, the
// same way a terminal UI that isn't reading the event channel would.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan []byte]struct{})}
}

// subscribe registers a new subscriber channel for sessionID and returns it
// along with an unsubscribe func the caller must defer.
func (h *hub) subscribe(sessionID string) (chan []byte, func()) {
	ch := make(chan []byte, 64)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan []byte]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs[sessionID], ch)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
		h.mu.Unlock()
		close(ch)
	}
}

// publish delivers frame to every live subscriber of sessionID, dropping it
// for any subscriber whose buffer is full rather than blocking the
// orchestrator's dispatch loop.
func (h *hub) publish(sessionID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- frame:
		default:
		}
	}
}
