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
	"sort"

	"github.com/shipmecarton/mailroom/internal/models"
)

// priorityScores ranks situations by how useful they are as fallback
// context. Substantive discussions (orders, prices) outrank routine
// confirmations; tracking and "I paid" messages score zero.
var priorityScores = map[string]int{
	models.SituationNewOrder:         3,
	models.SituationDiscountRequest:  3,
	models.SituationPaymentQuestion:  2,
	models.SituationShippingTimeline: 2,
	models.SituationOther:            1,
	models.SituationTracking:         0,
	models.SituationPaymentReceived:  0,
}

// Select picks up to maxTotal records from a newest-first slice using a
// two-phase policy: the 3 most recent records are always kept (continuity),
// and the remaining capacity is filled with the highest-priority older
// records. Naive most-recent-N would bury a substantive unanswered pricing
// question under a string of routine "thanks" replies. The result is sorted
// chronologically, oldest first.
func Select(records []models.EmailRecord, maxTotal int) []models.EmailRecord {
	if len(records) == 0 {
		return nil
	}

	recentFloor := 3
	if recentFloor > len(records) {
		recentFloor = len(records)
	}
	recent := records[:recentFloor]
	earlier := append([]models.EmailRecord(nil), records[recentFloor:]...)

	// Stable sort keeps newer records first among equal scores.
	sort.SliceStable(earlier, func(i, j int) bool {
		return score(earlier[i]) > score(earlier[j])
	})

	remaining := maxTotal - len(recent)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(earlier) {
		remaining = len(earlier)
	}

	combined := make([]models.EmailRecord, 0, len(recent)+remaining)
	combined = append(combined, recent...)
	combined = append(combined, earlier[:remaining]...)

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].CreatedAt.Before(combined[j].CreatedAt)
	})
	return combined
}

func score(r models.EmailRecord) int {
	if s, ok := priorityScores[r.Situation]; ok {
		return s
	}
	return 1
}
