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

// Package clients provides a Postgres-backed directory of known customers:
// billing preferences, remittance address, and discount state. Email is the
// unique, case-insensitive key.
package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shipmecarton/mailroom/internal/models"
)

// Sentinel errors reported to the admin surface.
var (
	ErrDuplicate          = errors.New("client already exists")
	ErrInvalidPaymentType = errors.New("payment_type must be 'prepay' or 'postpay'")
	ErrInvalidDiscount    = errors.New("discount_percent must be between 0 and 100")
	ErrInvalidOrdersLeft  = errors.New("discount_orders_left must not be negative")
)

// Update holds the partial fields of a client update. Nil means "keep".
type Update struct {
	Name               *string `json:"name"`
	PaymentType        *string `json:"payment_type"`
	RemitAddress       *string `json:"remit_address"`
	DiscountPercent    *int    `json:"discount_percent"`
	DiscountOrdersLeft *int    `json:"discount_orders_left"`
}

// Store provides CRUD operations for client records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a client store backed by the given Postgres pool.
// It ensures the clients table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure clients schema: %w", err)
	}
	slog.Info("client store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS clients (
			id                   BIGSERIAL PRIMARY KEY,
			email                TEXT NOT NULL UNIQUE,
			name                 TEXT NOT NULL,
			payment_type         TEXT NOT NULL,
			remit_address        TEXT DEFAULT '',
			discount_percent     INT DEFAULT 0,
			discount_orders_left INT DEFAULT 0,
			created_at           TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_clients_name ON clients(name);
	`)
	return err
}

// Get retrieves a client by email. Returns nil when not found.
func (s *Store) Get(ctx context.Context, email string) (*models.Client, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT email, name, payment_type, remit_address,
		       discount_percent, discount_orders_left, created_at
		FROM clients
		WHERE email = $1
	`, NormalizeEmail(email))
	return scanClient(row)
}

// List returns all clients ordered by name.
func (s *Store) List(ctx context.Context) ([]models.Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT email, name, payment_type, remit_address,
		       discount_percent, discount_orders_left, created_at
		FROM clients
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClients(rows)
}

// Add inserts a new client. Returns ErrDuplicate when the email is taken and
// a validation error when the fields are out of range.
func (s *Store) Add(ctx context.Context, c models.Client) (*models.Client, error) {
	c.Email = NormalizeEmail(c.Email)
	if err := Validate(c.PaymentType, c.DiscountPercent, c.DiscountOrdersLeft); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO clients
			(email, name, payment_type, remit_address, discount_percent, discount_orders_left)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING email, name, payment_type, remit_address,
		          discount_percent, discount_orders_left, created_at
	`, c.Email, c.Name, c.PaymentType, c.RemitAddress, c.DiscountPercent, c.DiscountOrdersLeft)

	created, err := scanClient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	slog.Info("client added", "email", created.Email, "payment_type", created.PaymentType)
	return created, nil
}

// UpdateFields applies a partial update. Returns nil when the client does
// not exist and a validation error when the new values are out of range.
func (s *Store) UpdateFields(ctx context.Context, email string, upd Update) (*models.Client, error) {
	paymentType := ""
	if upd.PaymentType != nil {
		paymentType = *upd.PaymentType
	}
	discount, ordersLeft := 0, 0
	if upd.DiscountPercent != nil {
		discount = *upd.DiscountPercent
	}
	if upd.DiscountOrdersLeft != nil {
		ordersLeft = *upd.DiscountOrdersLeft
	}
	if upd.PaymentType != nil || upd.DiscountPercent != nil || upd.DiscountOrdersLeft != nil {
		check := paymentType
		if upd.PaymentType == nil {
			check = models.PaymentPrepay // only validate the fields actually set
		}
		if err := Validate(check, discount, ordersLeft); err != nil {
			return nil, err
		}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE clients SET
			name                 = COALESCE($2, name),
			payment_type         = COALESCE($3, payment_type),
			remit_address        = COALESCE($4, remit_address),
			discount_percent     = COALESCE($5, discount_percent),
			discount_orders_left = COALESCE($6, discount_orders_left)
		WHERE email = $1
		RETURNING email, name, payment_type, remit_address,
		          discount_percent, discount_orders_left, created_at
	`, NormalizeEmail(email), upd.Name, upd.PaymentType, upd.RemitAddress, upd.DiscountPercent, upd.DiscountOrdersLeft)

	updated, err := scanClient(row)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		slog.Info("client updated", "email", updated.Email)
	}
	return updated, nil
}

// Delete removes a client. Returns false when the client does not exist.
func (s *Store) Delete(ctx context.Context, email string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM clients WHERE email = $1
	`, NormalizeEmail(email))
	if err != nil {
		return false, err
	}
	deleted := tag.RowsAffected() > 0
	if deleted {
		slog.Info("client deleted", "email", NormalizeEmail(email))
	}
	return deleted, nil
}

// ConsumeDiscount decrements discount_orders_left by one, resetting
// discount_percent to zero in the same statement when the counter reaches
// zero. The WHERE guard makes the read-modify-write a single conditional
// update, so two overlapping poll cycles cannot both consume the last
// discounted order. Returns the row as it was BEFORE the update (the
// percent actually consumed), or nil when no discount was available.
func (s *Store) ConsumeDiscount(ctx context.Context, email string) (*models.Client, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE clients c SET
			discount_orders_left = c.discount_orders_left - 1,
			discount_percent     = CASE WHEN c.discount_orders_left - 1 <= 0 THEN 0 ELSE c.discount_percent END
		FROM clients old
		WHERE old.id = c.id
		  AND c.email = $1 AND c.discount_percent > 0 AND c.discount_orders_left > 0
		RETURNING old.email, old.name, old.payment_type, old.remit_address,
		          old.discount_percent, old.discount_orders_left, old.created_at
	`, NormalizeEmail(email))
	return scanClient(row)
}

// NormalizeEmail lower-cases and trims an email address. Every entry point
// into the directory goes through this so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the writable client fields against the directory's rules.
func Validate(paymentType string, discountPercent, discountOrdersLeft int) error {
	if paymentType != models.PaymentPrepay && paymentType != models.PaymentPostpay {
		return fmt.Errorf("%w, got %q", ErrInvalidPaymentType, paymentType)
	}
	if discountPercent < 0 || discountPercent > 100 {
		return fmt.Errorf("%w, got %d", ErrInvalidDiscount, discountPercent)
	}
	if discountOrdersLeft < 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidOrdersLeft, discountOrdersLeft)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// scanClient scans a single row into a Client. Returns nil on no rows.
func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	err := row.Scan(
		&c.Email, &c.Name, &c.PaymentType, &c.RemitAddress,
		&c.DiscountPercent, &c.DiscountOrdersLeft, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectClients(rows pgx.Rows) ([]models.Client, error) {
	var out []models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(
			&c.Email, &c.Name, &c.PaymentType, &c.RemitAddress,
			&c.DiscountPercent, &c.DiscountOrdersLeft, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
