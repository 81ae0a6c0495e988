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

// Package pipeline runs one inbound email through the full flow:
// classification, client lookup, template or AI fallback, history append,
// operator notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shipmecarton/mailroom/internal/classify"
	"github.com/shipmecarton/mailroom/internal/history"
	"github.com/shipmecarton/mailroom/internal/models"
	"github.com/shipmecarton/mailroom/internal/notify"
	"github.com/shipmecarton/mailroom/internal/template"
)

// ErrAlreadyProcessed is returned when the inbound message turns out to be
// recorded already. The caller skips it without alerting the operator.
var ErrAlreadyProcessed = errors.New("message already processed")

// TraceError tags a processing failure with the trace ID of the run, so
// an operator alert can be tied to the log lines for that message.
type TraceError struct {
	TraceID string
	Err     error
}

func (e *TraceError) Error() string { return e.Err.Error() }

func (e *TraceError) Unwrap() error { return e.Err }

// HistoryStore records conversation history.
type HistoryStore interface {
	Append(ctx context.Context, rec models.EmailRecord) error
}

// ContextBuilder assembles conversation context for the AI fallback.
type ContextBuilder interface {
	BuildContext(ctx context.Context, clientEmail string) ([]models.EmailRecord, error)
}

// Notifier sends operator notifications.
type Notifier interface {
	Notify(ctx context.Context, text string) bool
}

// Engine produces a processing result from a classification.
type Engine interface {
	Process(ctx context.Context, c models.Classification) (models.ProcessingResult, error)
}

// Pipeline wires the processing stages together.
type Pipeline struct {
	llm      classify.Client
	engine   Engine
	history  HistoryStore
	contexts ContextBuilder
	notifier Notifier
}

// New creates a pipeline.
func New(llm classify.Client, engine Engine, hist HistoryStore, contexts ContextBuilder, notifier Notifier) *Pipeline {
	return &Pipeline{
		llm:      llm,
		engine:   engine,
		history:  hist,
		contexts: contexts,
		notifier: notifier,
	}
}

// Process runs one message through the pipeline and returns the formatted
// result for the operator. Returns ErrAlreadyProcessed when the message ID
// is already in the history store.
func (p *Pipeline) Process(ctx context.Context, msg *models.InboundMessage) (string, error) {
	traceID := uuid.NewString()
	log := slog.With("trace_id", traceID, "message_id", msg.ID)
	fail := func(err error) (string, error) {
		return "", &TraceError{TraceID: traceID, Err: err}
	}

	emailText := FormatEmailText(msg)

	log.Info("classifying email", "from", msg.From, "subject", msg.Subject)
	classification, err := p.llm.Classify(ctx, emailText)
	if err != nil {
		return fail(fmt.Errorf("classification failed: %w", err))
	}
	log.Info("email classified",
		"client", classification.ClientEmail,
		"situation", classification.Situation,
		"needs_reply", classification.NeedsReply,
	)

	result, err := p.engine.Process(ctx, classification)
	if err != nil {
		return fail(err)
	}

	if !result.ClientFound && result.NeedsReply {
		log.Warn("mail from unknown client", "client", classification.ClientEmail)
		p.notifier.Notify(ctx, notify.NewClientMessage(
			classification.ClientEmail, classification.ClientName, classification.Situation))
	}

	if result.NeedsAIFallback && result.NeedsReply {
		draft, err := p.generateFallback(ctx, log, emailText, &result)
		if err != nil {
			return fail(err)
		}
		result.DraftReply = draft
		result.NeedsAIFallback = false
	}

	formatted := template.FormatResult(result)

	if err := p.history.Append(ctx, models.EmailRecord{
		ClientEmail: classification.ClientEmail,
		Direction:   models.DirectionInbound,
		Subject:     msg.Subject,
		Body:        emailText,
		Situation:   classification.Situation,
		MessageID:   msg.ID,
	}); err != nil {
		if errors.Is(err, history.ErrDuplicateMessageID) {
			return "", ErrAlreadyProcessed
		}
		return fail(fmt.Errorf("record inbound email: %w", err))
	}

	if result.NeedsReply && result.DraftReply != "" && result.DraftReply != "(No reply needed)" {
		outSubject := ""
		if msg.Subject != "" {
			outSubject = "Re: " + msg.Subject
		}
		if err := p.history.Append(ctx, models.EmailRecord{
			ClientEmail: classification.ClientEmail,
			Direction:   models.DirectionOutbound,
			Subject:     outSubject,
			Body:        result.DraftReply,
			Situation:   classification.Situation,
		}); err != nil {
			// The draft still reaches the operator; losing its history
			// record is not worth failing the message over.
			log.Error("record outbound draft failed", "error", err)
		}
	}

	log.Info("email processed",
		"client", classification.ClientEmail,
		"template_used", result.TemplateUsed,
		"client_found", result.ClientFound,
	)
	return formatted, nil
}

func (p *Pipeline) generateFallback(ctx context.Context, log *slog.Logger, emailText string, result *models.ProcessingResult) (string, error) {
	records, err := p.contexts.BuildContext(ctx, result.ClientEmail)
	if err != nil {
		log.Error("build fallback context failed", "error", err)
		records = nil
	}
	historyText := history.FormatHistory(records)

	clientInfo := "NEW CLIENT, not in our database"
	if result.ClientFound && result.Client != nil {
		clientInfo = fmt.Sprintf("Known client: %s, payment type: %s",
			result.Client.Name, result.Client.PaymentType)
	}
	clientName := result.ClientName
	if clientName == "" {
		clientName = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Situation: %s\n", result.Situation)
	fmt.Fprintf(&b, "Client: %s\n", clientInfo)
	fmt.Fprintf(&b, "Client name: %s\n\n", clientName)
	if historyText != "" {
		b.WriteString(historyText)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Original email:\n%s\n\nWrite a reply:", emailText)

	log.Info("generating fallback reply",
		"situation", result.Situation,
		"history_records", len(records),
	)
	draft, err := p.llm.Generate(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("fallback generation failed: %w", err)
	}
	return strings.TrimSpace(draft), nil
}

// FormatEmailText renders an inbound message in the header/body layout the
// classifier prompt describes. The raw From line is kept because order
// notifications carry the real customer in the body, not the envelope.
func FormatEmailText(msg *models.InboundMessage) string {
	var b strings.Builder
	fromRaw := msg.FromRaw
	if fromRaw == "" {
		fromRaw = msg.From
	}
	fmt.Fprintf(&b, "From: %s\n", fromRaw)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Body: %s", msg.Body)
	return b.String()
}
