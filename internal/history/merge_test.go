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

package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shipmecarton/mailroom/internal/models"
)

type fakeRecents struct {
	records []models.EmailRecord
	err     error
}

func (f *fakeRecents) QueryRecent(_ context.Context, _ string, _ int) ([]models.EmailRecord, error) {
	return f.records, f.err
}

type fakeSearcher struct {
	records []models.EmailRecord
	err     error
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]models.EmailRecord, error) {
	f.calls++
	return f.records, f.err
}

func TestBuildContextSkipsSearchWhenLocalIsEnough(t *testing.T) {
	local := &fakeRecents{records: []models.EmailRecord{
		rec(models.SituationNewOrder, "a", 1),
		rec(models.SituationNewOrder, "b", 2),
		rec(models.SituationNewOrder, "c", 3),
	}}
	search := &fakeSearcher{}

	b := NewContextBuilder(local, search, 10)
	got, err := b.BuildContext(context.Background(), "client@example.com")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if search.calls != 0 {
		t.Errorf("search called %d times, want 0", search.calls)
	}
}

func TestBuildContextMergesSearchOnSparseLocal(t *testing.T) {
	local := &fakeRecents{records: []models.EmailRecord{
		rec(models.SituationNewOrder, "local only", 1),
	}}
	search := &fakeSearcher{records: []models.EmailRecord{
		rec(models.SituationOther, "from mailbox", 5),
		rec(models.SituationNewOrder, "local only", 1), // same subject+direction, dropped
	}}

	b := NewContextBuilder(local, search, 10)
	got, err := b.BuildContext(context.Background(), "client@example.com")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 records", subjects(got))
	}
	if got[0].Subject != "from mailbox" || got[1].Subject != "local only" {
		t.Fatalf("wrong order or content: %v", subjects(got))
	}
}

func TestBuildContextSearchFailureIsNotFatal(t *testing.T) {
	local := &fakeRecents{records: []models.EmailRecord{
		rec(models.SituationNewOrder, "a", 1),
	}}
	search := &fakeSearcher{err: errors.New("mailbox down")}

	b := NewContextBuilder(local, search, 10)
	got, err := b.BuildContext(context.Background(), "client@example.com")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want the local one", len(got))
	}
}

func TestBuildContextLocalErrorIsFatal(t *testing.T) {
	local := &fakeRecents{err: errors.New("db down")}
	b := NewContextBuilder(local, &fakeSearcher{}, 10)
	if _, err := b.BuildContext(context.Background(), "client@example.com"); err == nil {
		t.Fatal("expected error from local store")
	}
}

func TestBuildContextCapsAtTen(t *testing.T) {
	var remote []models.EmailRecord
	for i := 0; i < 15; i++ {
		remote = append(remote, models.EmailRecord{
			Direction: models.DirectionInbound,
			Subject:   strings.Repeat("x", i+1),
			CreatedAt: time.Date(2026, 3, 1, i, 0, 0, 0, time.UTC),
		})
	}
	b := NewContextBuilder(&fakeRecents{}, &fakeSearcher{records: remote}, 20)
	got, err := b.BuildContext(context.Background(), "client@example.com")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d records, want 10", len(got))
	}
	// The most recent ten survive.
	if got[0].CreatedAt.Hour() != 5 {
		t.Errorf("oldest surviving record at hour %d, want 5", got[0].CreatedAt.Hour())
	}
}

func TestFormatHistory(t *testing.T) {
	records := []models.EmailRecord{
		{
			Direction: models.DirectionInbound,
			Subject:   "Order question",
			Body:      "How much for 5 cartons?",
			CreatedAt: time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
		},
		{
			Direction: models.DirectionOutbound,
			Subject:   "Re: Order question",
			Body:      strings.Repeat("y", 400),
			CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		},
	}

	got := FormatHistory(records)
	if !strings.Contains(got, "=== CONVERSATION HISTORY") {
		t.Error("missing header")
	}
	if !strings.Contains(got, "[CLIENT WROTE] 2026-02-01 09:30 | Order question") {
		t.Errorf("missing inbound line:\n%s", got)
	}
	if !strings.Contains(got, "[WE SENT]") {
		t.Error("missing outbound label")
	}
	if !strings.Contains(got, strings.Repeat("y", 300)+"...") {
		t.Error("long body not truncated at 300 chars")
	}
	if strings.Contains(got, strings.Repeat("y", 301)) {
		t.Error("body exceeds truncation limit")
	}
}

func TestFormatHistoryEmptyInput(t *testing.T) {
	if got := FormatHistory(nil); got != "" {
		t.Errorf("FormatHistory(nil) = %q, want empty", got)
	}
}
