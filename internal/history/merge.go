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
	"log/slog"
	"sort"

	"github.com/shipmecarton/mailroom/internal/models"
)

// maxContextRecords is the target size of a fallback context.
const maxContextRecords = 10

// Recents is the slice of the local store the context builder needs.
type Recents interface {
	QueryRecent(ctx context.Context, clientEmail string, limit int) ([]models.EmailRecord, error)
}

// Searcher retrieves conversation records from the external mailbox.
// Best effort: failures degrade to local-only context.
type Searcher interface {
	Search(ctx context.Context, clientEmail string, limit int) ([]models.EmailRecord, error)
}

// ContextBuilder assembles the conversation context handed to the fallback
// generation service.
type ContextBuilder struct {
	local       Recents
	search      Searcher
	searchLimit int
}

// NewContextBuilder creates a context builder. searchLimit bounds the
// mailbox search used to supplement sparse local history.
func NewContextBuilder(local Recents, search Searcher, searchLimit int) *ContextBuilder {
	return &ContextBuilder{
		local:       local,
		search:      search,
		searchLimit: searchLimit,
	}
}

// BuildContext returns up to 10 records for a client, oldest first. Local
// history goes through the priority selection; when fewer than 3 local
// records exist, the mailbox search fills in, excluding records whose
// (subject, direction) pair is already present locally. That dedup is a
// heuristic: the mailbox copy of a stored record has no shared identity
// beyond its subject line.
func (b *ContextBuilder) BuildContext(ctx context.Context, clientEmail string) ([]models.EmailRecord, error) {
	rows, err := b.local.QueryRecent(ctx, clientEmail, recentWindow)
	if err != nil {
		return nil, err
	}
	selected := Select(rows, maxContextRecords)

	if len(selected) >= 3 || b.search == nil {
		return selected, nil
	}

	remote, err := b.search.Search(ctx, clientEmail, b.searchLimit)
	if err != nil {
		slog.Error("mailbox history search failed", "client", clientEmail, "error", err)
		return selected, nil
	}
	if len(remote) == 0 {
		return selected, nil
	}

	type key struct{ subject, direction string }
	seen := make(map[key]bool, len(selected))
	for _, r := range selected {
		seen[key{r.Subject, r.Direction}] = true
	}

	merged := selected
	for _, r := range remote {
		if seen[key{r.Subject, r.Direction}] {
			continue
		}
		merged = append(merged, r)
	}

	// Compare on the epoch so records from differently zoned sources
	// interleave correctly.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Unix() < merged[j].CreatedAt.Unix()
	})

	if len(merged) > maxContextRecords {
		merged = merged[len(merged)-maxContextRecords:]
	}
	return merged, nil
}
