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

// Package sqlindex is the secondary SQL index for the session-selector UI
// (spec.md §4.F iter_sessions): history.jsonl/meta.json remain the source
// of truth for a session's content, but listing hundreds of sessions by
// scanning every directory's meta.json does not scale, so every meta.json
// write is mirrored into a single "sessions" table an operator can query
// directly. Grounded on the teacher's own raw-SQL session persistence
// (v2/session/store.go: database/sql, no ORM, dialect-specific schema SQL
// selected by driver name) and its three vendored drivers.
package sqlindex

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coda-run/coda/pkg/message"
)

// Index mirrors session metadata into a SQL table for fast listing.
type Index struct {
	db      *sql.DB
	dialect string
}

// Open connects to the database identified by driver/dsn ("sqlite3",
// "postgres", or "mysql", matching the teacher's supported dialects) and
// ensures the sessions table exists.
func Open(driver, dsn string) (*Index, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlindex: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlindex: ping %s: %w", driver, err)
	}

	idx := &Index{db: db, dialect: driver}
	if err := idx.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (x *Index) createSchema() error {
	_, err := x.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
    id                  VARCHAR(255) PRIMARY KEY,
    parent_session_id   VARCHAR(255),
    title               TEXT,
    model               VARCHAR(255),
    thinking_enabled    BOOLEAN,
    created_at          TIMESTAMP NOT NULL,
    updated_at          TIMESTAMP NOT NULL,
    next_checkpoint_id  INTEGER NOT NULL DEFAULT 0,
    history_length      INTEGER NOT NULL DEFAULT 0,
    messages_count      INTEGER NOT NULL DEFAULT 0,
    user_messages_count INTEGER NOT NULL DEFAULT 0
)`)
	if err != nil {
		return fmt.Errorf("sqlindex: create schema: %w", err)
	}
	return nil
}

// upsertSQL is dialect-specific: sqlite3 and postgres support
// INSERT ... ON CONFLICT, MySQL needs ON DUPLICATE KEY UPDATE.
func (x *Index) upsertSQL() string {
	const columns = `id, parent_session_id, title, model, thinking_enabled,
		created_at, updated_at, next_checkpoint_id, history_length,
		messages_count, user_messages_count`

	switch x.dialect {
	case "mysql":
		return fmt.Sprintf(`
INSERT INTO sessions (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  parent_session_id=VALUES(parent_session_id), title=VALUES(title),
  model=VALUES(model), thinking_enabled=VALUES(thinking_enabled),
  updated_at=VALUES(updated_at), next_checkpoint_id=VALUES(next_checkpoint_id),
  history_length=VALUES(history_length), messages_count=VALUES(messages_count),
  user_messages_count=VALUES(user_messages_count)`, columns)
	default: // sqlite3, postgres
		return fmt.Sprintf(`
INSERT INTO sessions (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET
  parent_session_id=excluded.parent_session_id, title=excluded.title,
  model=excluded.model, thinking_enabled=excluded.thinking_enabled,
  updated_at=excluded.updated_at, next_checkpoint_id=excluded.next_checkpoint_id,
  history_length=excluded.history_length, messages_count=excluded.messages_count,
  user_messages_count=excluded.user_messages_count`, columns)
	}
}

// Upsert mirrors meta into the sessions table, implementing
// pkg/session.Indexer.
func (x *Index) Upsert(meta message.Session) error {
	_, err := x.db.Exec(x.upsertSQL(),
		meta.ID, meta.ParentSessionID, meta.Title, meta.Model, meta.ThinkingEnabled,
		meta.CreatedAt, meta.UpdatedAt, meta.NextCheckpointID, meta.HistoryLength,
		meta.MessagesCount, meta.UserMessagesCount,
	)
	if err != nil {
		return fmt.Errorf("sqlindex: upsert %s: %w", meta.ID, err)
	}
	return nil
}

// Delete removes a session from the index (the caller is responsible for
// removing its on-disk directory separately).
func (x *Index) Delete(id string) error {
	if _, err := x.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlindex: delete %s: %w", id, err)
	}
	return nil
}

// List returns every indexed session, most recently updated first,
// implementing pkg/session.Lister.
func (x *Index) List() ([]message.Session, error) {
	rows, err := x.db.Query(`
SELECT id, parent_session_id, title, model, thinking_enabled, created_at,
       updated_at, next_checkpoint_id, history_length, messages_count,
       user_messages_count
FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlindex: list: %w", err)
	}
	defer rows.Close()

	var out []message.Session
	for rows.Next() {
		var (
			m               message.Session
			parent, title   sql.NullString
			createdAt       time.Time
			updatedAt       time.Time
		)
		if err := rows.Scan(&m.ID, &parent, &title, &m.Model, &m.ThinkingEnabled,
			&createdAt, &updatedAt, &m.NextCheckpointID, &m.HistoryLength,
			&m.MessagesCount, &m.UserMessagesCount); err != nil {
			return nil, fmt.Errorf("sqlindex: scan row: %w", err)
		}
		m.ParentSessionID = parent.String
		m.Title = title.String
		m.CreatedAt = createdAt
		m.UpdatedAt = updatedAt
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlindex: list: %w", err)
	}
	return out, nil
}

// Close releases the underlying database connection.
func (x *Index) Close() error {
	return x.db.Close()
}
