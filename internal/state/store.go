// Copyright (c) 2026 Shipmecarton
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

// Package state persists the poller's mailbox cursor across restarts.
// A single row holds the last processed Gmail history position.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists the mailbox cursor in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a cursor store backed by the given Postgres pool.
// It ensures the mailbox_state table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure state schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mailbox_state (
			id              SMALLINT PRIMARY KEY CHECK (id = 1),
			last_history_id BIGINT NOT NULL,
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

// Get returns the stored cursor, or 0 when none has been saved yet.
func (s *Store) Get(ctx context.Context) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_history_id FROM mailbox_state WHERE id = 1
	`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read mailbox cursor: %w", err)
	}
	return uint64(id), nil
}

// Set stores the cursor, creating the row on first write.
func (s *Store) Set(ctx context.Context, historyID uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailbox_state (id, last_history_id, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET last_history_id = EXCLUDED.last_history_id, updated_at = NOW()
	`, int64(historyID))
	if err != nil {
		return fmt.Errorf("save mailbox cursor: %w", err)
	}
	slog.Debug("mailbox cursor saved", "history_id", historyID)
	return nil
}

// Clear removes the stored cursor. The next poll re-initialises from the
// mailbox's current position.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mailbox_state WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("clear mailbox cursor: %w", err)
	}
	slog.Info("mailbox cursor cleared")
	return nil
}
