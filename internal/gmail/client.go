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

// Package gmail wraps the Gmail API for the mailbox the service monitors.
// It exposes the three things the poller needs: the current history
// position, the messages added since a position, and full message bodies.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shipmecarton/mailroom/internal/config"
	"github.com/shipmecarton/mailroom/internal/models"
)

// ErrCursorExpired is returned when the stored history position is too old
// for Gmail to replay. The caller treats it as an empty cycle; messages in
// the gap are not recoverable through the history API.
var ErrCursorExpired = errors.New("gmail history position expired")

// skipLabels marks categories the pipeline never processes. SENT is
// excluded separately so the mailbox owner's own replies are not
// classified as customer mail.
var skipLabels = map[string]bool{
	"CATEGORY_PROMOTIONS": true,
	"CATEGORY_SOCIAL":     true,
	"CATEGORY_UPDATES":    true,
	"CATEGORY_FORUMS":     true,
	"SPAM":                true,
	"TRASH":               true,
}

// Client wraps an authenticated Gmail service. All calls go through a rate
// limiter; the Gmail per-user quota is generous but history paging during a
// backlog can burn through it. Every API call runs under its own deadline
// so a wedged connection cannot stall a poll cycle on the long-lived
// background context.
type Client struct {
	svc     *gmailapi.Service
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClient builds a Gmail client from OAuth credentials. The refresh token
// is exchanged for access tokens automatically by the token source. timeout
// bounds each individual API call.
func NewClient(ctx context.Context, cfg config.GmailConfig, timeout time.Duration) (*Client, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		timeout: timeout,
	}, nil
}

// callCtx derives a per-call deadline from the caller's context. A zero
// timeout leaves the context unbounded.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// CurrentHistoryID returns the mailbox's current history position. Used to
// initialise the cursor on first run.
func (c *Client) CurrentHistoryID(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	callCtx, cancel := c.callCtx(ctx)
	profile, err := c.svc.Users.GetProfile("me").Context(callCtx).Do()
	cancel()
	if err != nil {
		return 0, fmt.Errorf("get gmail profile: %w", err)
	}
	return profile.HistoryId, nil
}

// ListNewSince returns references to inbox messages added after the given
// history position, oldest history record first. Returns ErrCursorExpired
// when Gmail no longer holds history that far back.
func (c *Client) ListNewSince(ctx context.Context, afterHistoryID uint64) ([]models.MessageRef, error) {
	var refs []models.MessageRef
	seen := make(map[string]bool)
	pageToken := ""

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := c.callCtx(ctx)
		call := c.svc.Users.History.List("me").
			StartHistoryId(afterHistoryID).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(callCtx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		cancel()
		if err != nil {
			if isHistoryGone(err) {
				return nil, fmt.Errorf("history list from %d: %w", afterHistoryID, ErrCursorExpired)
			}
			return nil, fmt.Errorf("history list from %d: %w", afterHistoryID, err)
		}

		for _, record := range resp.History {
			for _, added := range record.MessagesAdded {
				msg := added.Message
				if msg == nil || !isProcessable(msg.LabelIds) {
					continue
				}
				// The same message shows up in multiple history records
				// when labels change right after delivery.
				if seen[msg.Id] {
					continue
				}
				seen[msg.Id] = true
				refs = append(refs, models.MessageRef{
					ID:        msg.Id,
					HistoryID: record.Id,
				})
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return refs, nil
}

// GetMessage fetches and parses a full message.
func (c *Client) GetMessage(ctx context.Context, id string) (*models.InboundMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := c.callCtx(ctx)
	msg, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(callCtx).Do()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("message %s has no payload", id)
	}

	headers := headerMap(msg.Payload.Headers)
	fromRaw := headers["from"]

	return &models.InboundMessage{
		ID:      id,
		From:    parseAddress(fromRaw),
		FromRaw: fromRaw,
		ReplyTo: parseAddress(headers["reply-to"]),
		Subject: headers["subject"],
		Body:    extractBody(msg.Payload),
	}, nil
}

// Search finds the recent conversation with a client, in either direction,
// and returns it as history records sorted oldest first. Individual message
// failures are logged and skipped; a partial conversation still helps the
// fallback prompt.
func (c *Client) Search(ctx context.Context, clientEmail string, limit int) ([]models.EmailRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	clientEmail = strings.ToLower(strings.TrimSpace(clientEmail))

	callCtx, cancel := c.callCtx(ctx)
	resp, err := c.svc.Users.Messages.List("me").
		Q(fmt.Sprintf("from:%s OR to:%s", clientEmail, clientEmail)).
		MaxResults(int64(limit)).
		Context(callCtx).Do()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("search messages for %s: %w", clientEmail, err)
	}

	var records []models.EmailRecord
	for _, ref := range resp.Messages {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		getCtx, cancel := c.callCtx(ctx)
		msg, err := c.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(getCtx).Do()
		cancel()
		if err != nil {
			slog.Error("fetch message during search failed", "id", ref.Id, "error", err)
			continue
		}
		if msg.Payload == nil {
			continue
		}

		headers := headerMap(msg.Payload.Headers)
		from := parseAddress(headers["from"])

		direction := models.DirectionOutbound
		if strings.EqualFold(from, clientEmail) {
			direction = models.DirectionInbound
		}

		createdAt := time.Now().UTC()
		if d := headers["date"]; d != "" {
			if parsed, err := mail.ParseDate(d); err == nil {
				createdAt = parsed
			}
		}

		records = append(records, models.EmailRecord{
			ClientEmail: clientEmail,
			Direction:   direction,
			Subject:     headers["subject"],
			Body:        extractBody(msg.Payload),
			Situation:   "unknown",
			CreatedAt:   createdAt,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// isProcessable keeps primary-inbox customer mail only.
func isProcessable(labelIDs []string) bool {
	inInbox := false
	for _, l := range labelIDs {
		if l == "INBOX" {
			inInbox = true
		}
		if l == "SENT" || skipLabels[l] {
			return false
		}
	}
	return inInbox
}

func isHistoryGone(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func headerMap(headers []*gmailapi.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Name)] = h.Value
	}
	return m
}

// parseAddress extracts the bare address from a header value like
// "Jane Doe <jane@example.com>". Falls back to the raw value when parsing
// fails; a malformed From is still better than an empty one.
func parseAddress(raw string) string {
	if raw == "" {
		return ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return addr.Address
}

// extractBody pulls the plain-text body out of a message payload, trying
// the direct body, then top-level text/plain parts, then parts nested one
// level inside multipart containers, then text/html as a last resort.
func extractBody(payload *gmailapi.MessagePart) string {
	if payload.Body != nil && payload.Body.Data != "" {
		return decodeBody(payload.Body.Data)
	}

	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			return decodeBody(part.Body.Data)
		}
	}

	for _, part := range payload.Parts {
		if !strings.HasPrefix(part.MimeType, "multipart/") {
			continue
		}
		for _, sub := range part.Parts {
			if sub.MimeType == "text/plain" && sub.Body != nil && sub.Body.Data != "" {
				return decodeBody(sub.Body.Data)
			}
		}
	}

	for _, part := range payload.Parts {
		if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
			return decodeBody(part.Body.Data)
		}
	}

	return ""
}

// decodeBody decodes Gmail's URL-safe base64. Both padded and raw variants
// appear in the wild.
func decodeBody(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	slog.Warn("failed to decode message body part")
	return ""
}
