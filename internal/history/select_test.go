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
	"testing"
	"time"

	"github.com/shipmecarton/mailroom/internal/models"
)

// rec builds a record whose age is expressed in hours before a fixed base.
func rec(situation, subject string, hoursAgo int) models.EmailRecord {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.EmailRecord{
		ClientEmail: "client@example.com",
		Direction:   models.DirectionInbound,
		Subject:     subject,
		Situation:   situation,
		CreatedAt:   base.Add(-time.Duration(hoursAgo) * time.Hour),
	}
}

func subjects(records []models.EmailRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Subject
	}
	return out
}

func TestSelectKeepsRecentAndPromotesPriority(t *testing.T) {
	// Newest first, as QueryRecent returns them. Three routine recents,
	// then two substantive older records buried under routine tracking
	// chatter. Capacity of 5 must keep the recents and promote the two
	// high-priority older records over the tracking ones.
	records := []models.EmailRecord{
		rec(models.SituationTracking, "recent tracking", 1),
		rec(models.SituationOther, "recent other", 2),
		rec(models.SituationPaymentReceived, "recent payment received", 3),
		rec(models.SituationTracking, "old tracking 1", 10),
		rec(models.SituationNewOrder, "old order", 11),
		rec(models.SituationTracking, "old tracking 2", 12),
		rec(models.SituationDiscountRequest, "old discount ask", 13),
		rec(models.SituationTracking, "old tracking 3", 14),
	}

	got := Select(records, 5)
	if len(got) != 5 {
		t.Fatalf("Select returned %d records, want 5: %v", len(got), subjects(got))
	}

	want := []string{
		"old discount ask",
		"old order",
		"recent payment received",
		"recent other",
		"recent tracking",
	}
	for i, s := range want {
		if got[i].Subject != s {
			t.Fatalf("record %d = %q, want %q (all: %v)", i, got[i].Subject, s, subjects(got))
		}
	}
}

func TestSelectFewerThanFloor(t *testing.T) {
	records := []models.EmailRecord{
		rec(models.SituationTracking, "only one", 1),
	}
	got := Select(records, 10)
	if len(got) != 1 || got[0].Subject != "only one" {
		t.Fatalf("Select = %v, want the single record", subjects(got))
	}
}

func TestSelectEmpty(t *testing.T) {
	if got := Select(nil, 10); got != nil {
		t.Fatalf("Select(nil) = %v, want nil", got)
	}
}

func TestSelectResultIsChronological(t *testing.T) {
	records := []models.EmailRecord{
		rec(models.SituationNewOrder, "a", 1),
		rec(models.SituationNewOrder, "b", 2),
		rec(models.SituationNewOrder, "c", 3),
		rec(models.SituationNewOrder, "d", 4),
	}
	got := Select(records, 10)
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("records out of chronological order at %d: %v", i, subjects(got))
		}
	}
}

func TestScoreUnknownSituation(t *testing.T) {
	if got := score(models.EmailRecord{Situation: "weird"}); got != 1 {
		t.Errorf("score(unknown) = %d, want 1", got)
	}
}
