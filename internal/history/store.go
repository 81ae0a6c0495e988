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

// Package history provides the append-only conversation log and the
// selection/merge policy that builds fallback context from it. The unique
// constraint on message_id is the final backstop against double-processing
// a mailbox message when poll cycles overlap.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shipmecarton/mailroom/internal/clients"
	"github.com/shipmecarton/mailroom/internal/models"
)

// ErrDuplicateMessageID is returned by Append when a record with the same
// external message ID is already stored. Callers treat it as "already
// processed", not as a failure.
var ErrDuplicateMessageID = errors.New("message ID already recorded")

// recentWindow bounds how many records the selection policy considers.
const recentWindow = 50

// Store provides access to the email_history table in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a history store backed by the given Postgres pool.
// It ensures the email_history table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	slog.Info("history store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS email_history (
			id           BIGSERIAL PRIMARY KEY,
			client_email TEXT NOT NULL,
			direction    TEXT NOT NULL,
			subject      TEXT DEFAULT '',
			body         TEXT DEFAULT '',
			situation    TEXT DEFAULT 'other',
			message_id   TEXT UNIQUE,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_history_client ON email_history(client_email);
	`)
	return err
}

// Append stores one conversation record. An empty MessageID is stored as
// NULL so outbound records never collide on the unique constraint.
func (s *Store) Append(ctx context.Context, rec models.EmailRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_history
			(client_email, direction, subject, body, situation, message_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, clients.NormalizeEmail(rec.ClientEmail), rec.Direction, rec.Subject, rec.Body, rec.Situation, rec.MessageID)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Warn("duplicate message ID on history append",
				"client", rec.ClientEmail,
				"message_id", rec.MessageID,
			)
			return ErrDuplicateMessageID
		}
		return fmt.Errorf("append history record: %w", err)
	}

	slog.Info("history record saved",
		"client", rec.ClientEmail,
		"direction", rec.Direction,
		"situation", rec.Situation,
	)
	return nil
}

// QueryRecent returns up to limit records for a client, newest first.
func (s *Store) QueryRecent(ctx context.Context, clientEmail string, limit int) ([]models.EmailRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT client_email, direction, subject, body, situation,
		       COALESCE(message_id, ''), created_at
		FROM email_history
		WHERE client_email = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clients.NormalizeEmail(clientEmail), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EmailRecord
	for rows.Next() {
		var r models.EmailRecord
		if err := rows.Scan(
			&r.ClientEmail, &r.Direction, &r.Subject, &r.Body,
			&r.Situation, &r.MessageID, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Exists reports whether a record with the given external message ID is
// already stored. This is the cross-run dedup check; it keeps restarts
// idempotent.
func (s *Store) Exists(ctx context.Context, messageID string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM email_history WHERE message_id = $1)
	`, messageID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check message ID: %w", err)
	}
	return found, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
