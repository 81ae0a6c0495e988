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

package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shipmecarton/mailroom/internal/config"
	"github.com/shipmecarton/mailroom/internal/models"
)

func TestNotifySendsFormToBotEndpoint(t *testing.T) {
	var gotPath, gotChatID, gotText, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotChatID = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		gotMode = r.PostForm.Get("parse_mode")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "tok123", ChatID: "42"})
	n.baseURL = srv.URL

	if !n.Notify(context.Background(), "hello <b>world</b>") {
		t.Fatal("Notify returned false for successful send")
	}
	if gotPath != "/bottok123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotChatID != "42" || gotText != "hello <b>world</b>" || gotMode != "HTML" {
		t.Errorf("form = chat_id=%q text=%q parse_mode=%q", gotChatID, gotText, gotMode)
	}
}

func TestNotifyUnconfiguredIsNoop(t *testing.T) {
	n := NewNotifier(config.TelegramConfig{})
	if n.Notify(context.Background(), "anything") {
		t.Error("unconfigured notifier must report not delivered")
	}
}

func TestNotifyServerErrorReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "t", ChatID: "1"})
	n.baseURL = srv.URL
	if n.Notify(context.Background(), "x") {
		t.Error("Notify must return false on non-OK status")
	}
}

func TestResultMessageEscapesAndTruncates(t *testing.T) {
	msg := &models.InboundMessage{
		From:    "jane@example.com",
		Subject: "Order <urgent> & more",
	}
	long := strings.Repeat("z", 4000)

	got := ResultMessage(msg, long)
	if !strings.Contains(got, "Order &lt;urgent&gt; &amp; more") {
		t.Errorf("subject not escaped:\n%s", got[:200])
	}
	if !strings.Contains(got, "... (truncated)") {
		t.Error("long result not truncated")
	}
	if strings.Contains(got, strings.Repeat("z", 3501)) {
		t.Error("result exceeds truncation limit")
	}
}

func TestNewClientMessageDefaultsName(t *testing.T) {
	got := NewClientMessage("a@b.com", "", "new_order")
	if !strings.Contains(got, "Name: not provided") {
		t.Errorf("missing name default:\n%s", got)
	}
}

func TestResultMessageTruncatesOnRuneBoundary(t *testing.T) {
	msg := &models.InboundMessage{From: "jane@example.com", Subject: "hi"}
	long := strings.Repeat("é", 4000)

	got := ResultMessage(msg, long)
	if !utf8.ValidString(got) {
		t.Error("truncation split a multibyte rune")
	}
	if !strings.Contains(got, "... (truncated)") {
		t.Error("long result not truncated")
	}
}

func TestFailureMessageIncludesTrace(t *testing.T) {
	got := FailureMessage("trace-1", "msg-9", errors.New("boom <err>"))
	for _, want := range []string{"msg-9", "Trace: trace-1", "boom &lt;err&gt;"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestFailureMessageWithoutTraceOmitsLine(t *testing.T) {
	got := FailureMessage("", "msg-9", errors.New("boom"))
	if strings.Contains(got, "Trace:") {
		t.Errorf("empty trace must drop the line:\n%s", got)
	}
	if !strings.Contains(got, "msg-9") || !strings.Contains(got, "boom") {
		t.Errorf("missing message id or error:\n%s", got)
	}
}
