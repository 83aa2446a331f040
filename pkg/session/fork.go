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
	"fmt"
	"time"
)

// Fork copies history[0:atIndex] of session id into a freshly-minted session
// and returns its id, per spec.md §4.F: "meta copied with fresh id/timestamps."
func (s *Store) Fork(id string, atIndex int) (string, error) {
	loaded, err := s.Load(id)
	if err != nil {
		return "", fmt.Errorf("session: fork %s: %w", id, err)
	}
	if atIndex < 0 || atIndex > len(loaded.History) {
		return "", fmt.Errorf("session: fork %s: index %d out of range [0,%d]", id, atIndex, len(loaded.History))
	}

	newID := NewSessionID()
	meta := loaded.Meta
	meta.ID = newID
	meta.ParentSessionID = id
	meta.CreatedAt = time.Now()
	meta.UpdatedAt = meta.CreatedAt
	meta.HistoryLength = 0
	meta.MessagesCount = 0
	meta.UserMessagesCount = 0
	meta.NextCheckpointID = 0

	if err := s.Create(newID, meta); err != nil {
		return "", fmt.Errorf("session: fork %s: %w", id, err)
	}

	if atIndex > 0 {
		if _, err := s.AppendHistory(newID, loaded.History[:atIndex]); err != nil {
			return "", fmt.Errorf("session: fork %s: %w", id, err)
		}
	}

	return newID, nil
}
