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

package tool

import "sync"

// FileTracker records the content hash a read-like tool (read_file) last
// observed for a path, scoped per session, so an edit-like tool
// (search_replace, apply_patch) can detect the file changed out from under
// the conversation and refuse the edit (spec.md §4.C file_tracker,
// testable scenario 5: "modified externally").
type FileTracker struct {
	mu     sync.Mutex
	hashes map[string]string
}

// NewFileTracker returns an empty tracker. One instance is shared across
// every turn of a task so a read in one turn is visible to an edit in a
// later turn.
func NewFileTracker() *FileTracker {
	return &FileTracker{hashes: make(map[string]string)}
}

func (f *FileTracker) key(sessionID, path string) string {
	return sessionID + "\x00" + path
}

// Record stores path's current hash for sessionID, overwriting whatever
// was recorded before (a fresh read always wins).
func (f *FileTracker) Record(sessionID, path, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[f.key(sessionID, path)] = hash
}

// Check reports whether hash matches what was last recorded for path under
// sessionID. recorded is false when the path was never read through this
// tracker, in which case the caller should not treat the file as stale.
func (f *FileTracker) Check(sessionID, path, hash string) (matches, recorded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	got, ok := f.hashes[f.key(sessionID, path)]
	if !ok {
		return true, false
	}
	return got == hash, true
}
