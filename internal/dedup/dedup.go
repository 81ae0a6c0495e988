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

// Package dedup provides message deduplication using a Redis SET with TTL.
// This prevents the same mailbox message from being classified twice when
// poll cycles overlap or the cursor replays history records. The unique
// message_id constraint in the history store is the durable backstop; this
// filter just keeps duplicates from reaching the LLM at all.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen message ID. The cursor
	// advances every cycle, so replays older than a day cannot happen
	// without an operator reset, and resets are meant to reprocess.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "mailroom:seen:"
)

// Filter tracks which message IDs have already been processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the message ID has NOT been seen before.
// If true, the message is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, messageID string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, messageID)

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}
