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

// Package session implements the durable, append-only session store of
// spec.md §4.F: one directory per session holding history.jsonl (one
// HistoryEvent per line), meta.json (atomic snapshot), and a files/
// directory for offloaded tool output and saved images.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/coda-run/coda/pkg/message"
)

const (
	historyFileName = "history.jsonl"
	metaFileName    = "meta.json"
	filesDirName    = "files"
)

// Store is a file-backed session store rooted at a single base directory
// (spec.md §6: "under a user-scoped directory").
type Store struct {
	baseDir string

	// Index, if set, is notified of every meta.json write so session
	// listing can be served by a SQL query instead of scanning every
	// session directory (see pkg/session/sqlindex).
	Index Indexer
}

// Indexer receives a session's metadata every time it changes; Store never
// asks it to remove an entry. pkg/session/sqlindex.Index
// implements this; a nil Index is a valid no-op Store.
type Indexer interface {
	Upsert(meta message.Session) error
}

// NewStore creates a Store rooted at baseDir, creating the directory if it
// does not already exist.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) sessionDir(id string) string  { return filepath.Join(s.baseDir, id) }
func (s *Store) metaPath(id string) string    { return filepath.Join(s.sessionDir(id), metaFileName) }
func (s *Store) historyPath(id string) string { return filepath.Join(s.sessionDir(id), historyFileName) }

// FilesDir returns the side-file directory for offloaded tool output and
// saved images for the given session (spec.md §4.C output offload).
func (s *Store) FilesDir(id string) string { return filepath.Join(s.sessionDir(id), filesDirName) }

// Create initializes a new session directory: meta.json and an empty
// history.jsonl. meta.ID is overwritten with id.
func (s *Store) Create(id string, meta message.Session) error {
	dir := s.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: create %s: %w", id, err)
	}
	if err := os.MkdirAll(s.FilesDir(id), 0o755); err != nil {
		return fmt.Errorf("session: create %s files dir: %w", id, err)
	}

	meta.ID = id
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	meta.UpdatedAt = meta.CreatedAt

	if err := s.writeMeta(id, meta); err != nil {
		return err
	}

	f, err := os.OpenFile(s.historyPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: create %s history: %w", id, err)
	}
	return f.Close()
}

// AppendHistory appends each event as one line to history.jsonl, flushed to
// disk, then atomically rewrites meta.json with recomputed counts (spec.md
// §4.F append_history: "Crash before rename yields old meta with possibly
// additional tail events — recovery on load re-derives meta counts from
// history.").
func (s *Store) AppendHistory(id string, events []message.HistoryEvent) (message.Session, error) {
	meta, err := s.readMeta(id)
	if err != nil {
		return message.Session{}, err
	}

	f, err := os.OpenFile(s.historyPath(id), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return message.Session{}, fmt.Errorf("session: append %s: open history: %w", id, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range events {
		line, err := message.EncodeHistoryEvent(e)
		if err != nil {
			return message.Session{}, fmt.Errorf("session: append %s: encode event: %w", id, err)
		}
		if _, err := w.Write(line); err != nil {
			return message.Session{}, fmt.Errorf("session: append %s: write event: %w", id, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return message.Session{}, fmt.Errorf("session: append %s: write newline: %w", id, err)
		}
		applyCountDelta(&meta, e)
	}
	if err := w.Flush(); err != nil {
		return message.Session{}, fmt.Errorf("session: append %s: flush history: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		return message.Session{}, fmt.Errorf("session: append %s: sync history: %w", id, err)
	}

	meta.UpdatedAt = time.Now()
	if err := s.writeMeta(id, meta); err != nil {
		return message.Session{}, err
	}
	return meta, nil
}

// applyCountDelta updates meta's derived counters for one appended event.
func applyCountDelta(meta *message.Session, e message.HistoryEvent) {
	meta.HistoryLength++
	switch v := e.(type) {
	case message.MessageEntry:
		meta.MessagesCount++
		if _, ok := v.Message.(message.UserMessage); ok {
			meta.UserMessagesCount++
		}
	case message.CheckpointEntry:
		meta.NextCheckpointID++
	}
}

// LoadedSession is the in-memory reconstruction spec.md §4.F's load op
// returns: meta plus the full decoded history. Higher-level reconstruction
// that depends on tool semantics (file_tracker external-modification
// detection, todo_context) is the task executor's job (pkg/task), driven by
// scanning History for the relevant ToolResultMessage entries — the store
// itself only knows how to decode the log, not what a tool result means.
type LoadedSession struct {
	Meta    message.Session
	History []message.HistoryEvent
}

// Load reads meta.json and stream-decodes history.jsonl, recomputing counts
// from the decoded events rather than trusting a meta.json that may be one
// append behind (spec.md §4.F's crash-recovery contract).
func (s *Store) Load(id string) (*LoadedSession, error) {
	meta, err := s.readMeta(id)
	if err != nil {
		return nil, err
	}

	history, err := s.readHistory(id)
	if err != nil {
		return nil, err
	}

	recomputed := meta
	recomputed.HistoryLength = 0
	recomputed.MessagesCount = 0
	recomputed.UserMessagesCount = 0
	recomputed.NextCheckpointID = 0
	for _, e := range history {
		applyCountDelta(&recomputed, e)
	}

	if recomputed.HistoryLength != meta.HistoryLength ||
		recomputed.MessagesCount != meta.MessagesCount ||
		recomputed.UserMessagesCount != meta.UserMessagesCount ||
		recomputed.NextCheckpointID != meta.NextCheckpointID {
		// Self-heal: persist the corrected counts so future loads (and the
		// index) don't keep recomputing from a stale snapshot.
		if err := s.writeMeta(id, recomputed); err != nil {
			return nil, err
		}
	}

	return &LoadedSession{Meta: recomputed, History: history}, nil
}

func (s *Store) readHistory(id string) ([]message.HistoryEvent, error) {
	f, err := os.Open(s.historyPath(id))
	if err != nil {
		return nil, fmt.Errorf("session: load %s: open history: %w", id, err)
	}
	defer f.Close()

	var events []message.HistoryEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := message.DecodeHistoryEvent(line)
		if err != nil {
			return nil, fmt.Errorf("session: load %s: decode event: %w", id, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: load %s: scan history: %w", id, err)
	}
	return events, nil
}

func (s *Store) readMeta(id string) (message.Session, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return message.Session{}, fmt.Errorf("session: read meta %s: %w", id, err)
	}
	var meta message.Session
	if err := json.Unmarshal(data, &meta); err != nil {
		return message.Session{}, fmt.Errorf("session: decode meta %s: %w", id, err)
	}
	return meta, nil
}

// writeMeta writes meta.json atomically (temp file + rename), grounded on
// the teacher's index-state persistence pattern (pkg/context/document_store.go
// saveIndexState), and notifies the secondary index if one is configured.
func (s *Store) writeMeta(id string, meta message.Session) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode meta %s: %w", id, err)
	}

	path := s.metaPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write meta %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: rename meta %s: %w", id, err)
	}

	if s.Index != nil {
		if err := s.Index.Upsert(meta); err != nil {
			return fmt.Errorf("session: index meta %s: %w", id, err)
		}
	}
	return nil
}

// UpdateMeta atomically mutates session id's metadata, for operations that
// change session-level settings (model, thinking) without an append-only
// history entry of their own.
func (s *Store) UpdateMeta(id string, mutate func(*message.Session)) error {
	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	mutate(&meta)
	meta.UpdatedAt = time.Now()
	return s.writeMeta(id, meta)
}

// NewSessionID generates a fresh session id, grounded on the teacher's own
// uuid.NewString() convention (pkg/model.NewThinkingID/NewToolCallID).
func NewSessionID() string {
	return uuid.NewString()
}
