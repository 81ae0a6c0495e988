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

// Package classify turns incoming email text into a structured
// classification. The model is asked for a flat JSON object with fixed
// field names, but models drift, so the normalizer accepts common key
// variations and one level of accidental nesting.
package classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shipmecarton/mailroom/internal/models"
)

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*|\\s*```$")

// ParseResponse parses the raw model output into a normalized
// classification. Markdown code fences around the JSON are tolerated.
func ParseResponse(raw string) (models.Classification, error) {
	trimmed := codeFence.ReplaceAllString(strings.TrimSpace(raw), "")

	var data map[string]any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return models.Classification{}, fmt.Errorf("parse classification JSON: %w", err)
	}
	return Normalize(data), nil
}

// Normalize maps a decoded JSON object onto the canonical classification
// fields, trying known key aliases and defaulting to a conservative
// "reply needed, situation other" when fields are missing. Unanswered mail
// costs more than a spurious draft.
func Normalize(data map[string]any) models.Classification {
	c := models.Classification{
		NeedsReply: true,
		Situation:  models.SituationOther,
	}

	if v, ok := findValue(data, "needs_reply"); ok {
		c.NeedsReply = asBool(v)
	}
	if v, ok := findValue(data, "situation", "classification", "category"); ok {
		if s := asString(v); s != "" {
			c.Situation = strings.ToLower(strings.TrimSpace(s))
		}
	}
	if v, ok := findValue(data, "client_email", "real_customer_email", "customer_email", "email"); ok {
		c.ClientEmail = strings.TrimSpace(asString(v))
	}
	if v, ok := findValue(data, "client_name", "customer_name", "name", "firstname"); ok {
		c.ClientName = strings.TrimSpace(asString(v))
	}
	if v, ok := findValue(data, "order_id", "order_number"); ok {
		c.OrderID = asString(v)
	}
	if v, ok := findValue(data, "price", "payment_amount", "total", "amount"); ok {
		c.Price = asString(v)
	}
	if v, ok := findValue(data, "customer_street", "street", "street_address", "address"); ok {
		c.Street = asString(v)
	}
	if v, ok := findValue(data, "customer_city_state_zip", "city_state_zip"); ok {
		c.CityStateZip = asString(v)
	}
	if v, ok := findValue(data, "items", "products", "order_items"); ok {
		c.Items = asString(v)
	}
	return c
}

// findValue looks for the first non-nil value under any of the given keys,
// checking top-level keys first and then one level inside nested objects.
func findValue(data map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := data[key]; ok && v != nil {
			return v, true
		}
	}
	for _, nested := range data {
		m, ok := nested.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if v, ok := m[key]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}
