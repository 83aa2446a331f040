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

package session

import (
	"os"
	"sort"

	"github.com/coda-run/coda/pkg/message"
)

// Lister is implemented by a secondary index (pkg/session/sqlindex.Index)
// that can answer iter_sessions without scanning every session directory.
type Lister interface {
	List() ([]message.Session, error)
}

// IterSessions returns every session's metadata for the session-selector UI
// (spec.md §4.F), most recently updated first. When s.Index implements
// Lister, the listing is served from the secondary index; otherwise it
// falls back to reading every session's meta.json directly.
func (s *Store) IterSessions() ([]message.Session, error) {
	if l, ok := s.Index.(Lister); ok && l != nil {
		return l.List()
	}
	return s.scanDisk()
}

func (s *Store) scanDisk() ([]message.Session, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	var out []message.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.readMeta(entry.Name())
		if err != nil {
			continue // a directory without a readable meta.json is not a session
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
