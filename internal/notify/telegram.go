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

// Package notify delivers operator notifications over Telegram. The service
// is human-in-the-loop: nothing is ever sent to a customer, every draft
// goes to the operator for review. Notification failures are logged and
// swallowed; a dead Telegram bot must not stop mail processing.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shipmecarton/mailroom/internal/config"
	"github.com/shipmecarton/mailroom/internal/models"
)

// resultLimit keeps messages under Telegram's 4096-char cap with headroom
// for the envelope around the result block.
const resultLimit = 3500

// Notifier sends messages to the configured Telegram chat.
type Notifier struct {
	httpClient *http.Client
	baseURL    string
	token      string
	chatID     string
}

// NewNotifier creates a Telegram notifier. With empty credentials it is a
// no-op that reports every send as skipped.
func NewNotifier(cfg config.TelegramConfig) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.telegram.org",
		token:      cfg.BotToken,
		chatID:     cfg.ChatID,
	}
}

// Notify sends an HTML-formatted message. Returns whether the message was
// delivered; it never returns an error.
func (n *Notifier) Notify(ctx context.Context, text string) bool {
	if n.token == "" || n.chatID == "" {
		slog.Debug("telegram not configured, notification skipped")
		return false
	}

	form := url.Values{
		"chat_id":    {n.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		slog.Error("build telegram request failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Error("telegram send failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("telegram returned non-OK status", "status", resp.StatusCode)
		return false
	}
	return true
}

// ResultMessage builds the notification for a processed email.
func ResultMessage(msg *models.InboundMessage, result string) string {
	if runes := []rune(result); len(runes) > resultLimit {
		result = string(runes[:resultLimit]) + "\n... (truncated)"
	}
	now := time.Now().UTC().Format("2006-01-02 15:04 UTC")
	return fmt.Sprintf(
		"\U0001F4E8 <b>New email processed</b>\n\n"+
			"<b>From:</b> %s\n"+
			"<b>Subject:</b> %s\n\n"+
			"<b>Result:</b>\n<pre>%s</pre>\n\n"+
			"⏰ %s",
		escapeHTML(msg.From), escapeHTML(msg.Subject), escapeHTML(result), now,
	)
}

// StartedMessage is sent once when the poller initialises its cursor.
func StartedMessage() string {
	return "✅ <b>Mail poller started</b>\n\nWatching the inbox for new messages."
}

// NewClientMessage alerts the operator that mail arrived from an address
// not in the client directory.
func NewClientMessage(email, name, situation string) string {
	if name == "" {
		name = "not provided"
	}
	return fmt.Sprintf(
		"⚠️ <b>New client wrote in</b>\n\n"+
			"From: %s\nName: %s\nSituation: %s\n\n"+
			"Review and add them to the client directory.",
		escapeHTML(email), escapeHTML(name), escapeHTML(situation),
	)
}

// FailureMessage alerts the operator that a message could not be processed.
// The trace ID ties the alert to the log lines for that message; failures
// before the pipeline runs have none, and the line is dropped.
func FailureMessage(traceID, messageID string, err error) string {
	trace := ""
	if traceID != "" {
		trace = fmt.Sprintf("Trace: %s\n", escapeHTML(traceID))
	}
	return fmt.Sprintf(
		"\U0001F6A8 <b>Email processing failed</b>\n\n"+
			"Message ID: %s\n%sError: %s",
		escapeHTML(messageID), trace, escapeHTML(err.Error()),
	)
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
