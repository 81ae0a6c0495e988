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
	"strings"

	"github.com/shipmecarton/mailroom/internal/models"
)

// bodyPreviewLimit caps each record body in the rendered context so a few
// long threads cannot crowd everything else out of the prompt.
const bodyPreviewLimit = 300

// FormatHistory renders records as a plain-text block for the fallback
// prompt. Returns an empty string when there is nothing to show.
func FormatHistory(records []models.EmailRecord) string {
	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("=== CONVERSATION HISTORY (oldest first) ===\n")
	for _, r := range records {
		label := "[CLIENT WROTE]"
		if r.Direction == models.DirectionOutbound {
			label = "[WE SENT]"
		}
		b.WriteString(label)
		b.WriteString(" ")
		b.WriteString(r.CreatedAt.Format("2006-01-02 15:04"))
		b.WriteString(" | ")
		b.WriteString(r.Subject)
		b.WriteString("\n")

		body := strings.TrimSpace(r.Body)
		if runes := []rune(body); len(runes) > bodyPreviewLimit {
			body = string(runes[:bodyPreviewLimit]) + "..."
		}
		b.WriteString(body)
		b.WriteString("\n---\n")
	}
	return b.String()
}
