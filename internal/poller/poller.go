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

// Package poller drives the mail ingestion loop. Each cycle lists the
// messages added since the stored cursor, runs each through the pipeline,
// and advances the cursor past everything it saw. A message that fails is
// reported and left behind; the cursor still moves, so one poison message
// cannot wedge the loop.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shipmecarton/mailroom/internal/gmail"
	"github.com/shipmecarton/mailroom/internal/models"
	"github.com/shipmecarton/mailroom/internal/notify"
	"github.com/shipmecarton/mailroom/internal/pipeline"
)

// Mailbox is the slice of the Gmail client the poller needs.
type Mailbox interface {
	CurrentHistoryID(ctx context.Context) (uint64, error)
	ListNewSince(ctx context.Context, afterHistoryID uint64) ([]models.MessageRef, error)
	GetMessage(ctx context.Context, id string) (*models.InboundMessage, error)
}

// StateStore persists the mailbox cursor.
type StateStore interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, historyID uint64) error
}

// SeenFilter is the fast in-cycle dedup check.
type SeenFilter interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// ProcessedIndex is the durable cross-restart dedup check.
type ProcessedIndex interface {
	Exists(ctx context.Context, messageID string) (bool, error)
}

// Processor runs one message through the pipeline.
type Processor interface {
	Process(ctx context.Context, msg *models.InboundMessage) (string, error)
}

// Notifier sends operator notifications.
type Notifier interface {
	Notify(ctx context.Context, text string) bool
}

// Poller polls the mailbox on an interval.
type Poller struct {
	mailbox   Mailbox
	state     StateStore
	seen      SeenFilter
	processed ProcessedIndex
	processor Processor
	notifier  Notifier
	interval  time.Duration
}

// New creates a poller.
func New(mailbox Mailbox, state StateStore, seen SeenFilter, processed ProcessedIndex,
	processor Processor, notifier Notifier, interval time.Duration) *Poller {
	return &Poller{
		mailbox:   mailbox,
		state:     state,
		seen:      seen,
		processed: processed,
		processor: processor,
		notifier:  notifier,
		interval:  interval,
	}
}

// Poll runs one cycle and returns the number of messages processed.
//
// On the first run there is no cursor: the poller records the mailbox's
// current position and processes nothing, so a fresh deployment does not
// replay the whole inbox. An expired cursor is treated as "no new
// messages"; the stored cursor is left untouched, and a fresh position is
// only derived through the uninitialised path after an explicit reset.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	cursor, err := p.state.Get(ctx)
	if err != nil {
		return 0, err
	}

	if cursor == 0 {
		current, err := p.mailbox.CurrentHistoryID(ctx)
		if err != nil {
			return 0, err
		}
		if err := p.state.Set(ctx, current); err != nil {
			return 0, err
		}
		slog.Info("mail poller initialised", "history_id", current)
		p.notifier.Notify(ctx, notify.StartedMessage())
		return 0, nil
	}

	refs, err := p.mailbox.ListNewSince(ctx, cursor)
	if err != nil {
		if errors.Is(err, gmail.ErrCursorExpired) {
			// Treated as "no new messages". The cursor is only rebuilt
			// through the uninitialised path after an explicit reset.
			slog.Warn("mailbox cursor expired, yielding nothing this cycle", "cursor", cursor)
			return 0, nil
		}
		return 0, err
	}
	if len(refs) == 0 {
		slog.Debug("no new messages")
		return 0, nil
	}
	slog.Info("new messages found", "count", len(refs))

	processed := 0
	latest := cursor
	for _, ref := range refs {
		// The cursor advances past every candidate, processed or not.
		// A failed message is reported, never retried by replay.
		if ref.HistoryID > latest {
			latest = ref.HistoryID
		}

		exists, err := p.processed.Exists(ctx, ref.ID)
		if err != nil {
			slog.Error("processed-index check failed", "message_id", ref.ID, "error", err)
		} else if exists {
			slog.Debug("message already recorded, skipping", "message_id", ref.ID)
			continue
		}

		isNew, err := p.seen.IsNew(ctx, ref.ID)
		if err != nil {
			slog.Error("dedup check failed", "message_id", ref.ID, "error", err)
		} else if !isNew {
			slog.Debug("message seen this window, skipping", "message_id", ref.ID)
			continue
		}

		if p.handleMessage(ctx, ref.ID) {
			processed++
		}

		if ctx.Err() != nil {
			break
		}
	}

	if latest != cursor {
		if err := p.state.Set(ctx, latest); err != nil {
			return processed, err
		}
	}

	if processed > 0 {
		slog.Info("poll cycle complete", "processed", processed, "cursor", latest)
	}
	return processed, nil
}

// handleMessage fetches and processes one message. Failures alert the
// operator and report false; duplicates report false silently.
func (p *Poller) handleMessage(ctx context.Context, id string) bool {
	msg, err := p.mailbox.GetMessage(ctx, id)
	if err != nil {
		slog.Error("fetch message failed", "message_id", id, "error", err)
		p.notifier.Notify(ctx, notify.FailureMessage("", id, err))
		return false
	}

	result, err := p.processor.Process(ctx, msg)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyProcessed) {
			slog.Debug("message already processed", "message_id", id)
			return false
		}
		// The pipeline tags its errors with the trace ID of the run, so
		// the alert can be tied to the log lines for that message.
		traceID := ""
		var traced *pipeline.TraceError
		if errors.As(err, &traced) {
			traceID = traced.TraceID
		}
		slog.Error("process message failed",
			"message_id", id,
			"from", msg.From,
			"error", err,
		)
		p.notifier.Notify(ctx, notify.FailureMessage(traceID, id, err))
		return false
	}

	p.notifier.Notify(ctx, notify.ResultMessage(msg, result))
	return true
}

// Run polls immediately, then on the configured interval until the context
// is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("mail poller running", "interval", p.interval)

	if _, err := p.Poll(ctx); err != nil {
		slog.Error("poll cycle failed", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("mail poller stopping")
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				slog.Error("poll cycle failed", "error", err)
				p.notifier.Notify(ctx, notify.FailureMessage("", "poll cycle", err))
			}
		}
	}
}
