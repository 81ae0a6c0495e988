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

package classify

import (
	"testing"

	"github.com/shipmecarton/mailroom/internal/models"
)

func TestParseResponseStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"needs_reply\": true, \"situation\": \"tracking\", \"client_email\": \"a@b.com\"}\n```"
	got, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if got.Situation != models.SituationTracking || got.ClientEmail != "a@b.com" {
		t.Errorf("got %+v", got)
	}
}

func TestParseResponsePlainJSON(t *testing.T) {
	got, err := ParseResponse(`{"needs_reply": false, "situation": "other"}`)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if got.NeedsReply {
		t.Error("needs_reply should be false")
	}
}

func TestParseResponseInvalidJSON(t *testing.T) {
	if _, err := ParseResponse("sorry, I cannot classify this"); err == nil {
		t.Fatal("expected error on non-JSON output")
	}
}

func TestNormalizeAliases(t *testing.T) {
	got := Normalize(map[string]any{
		"classification": "new_order",
		"customer_email": "Jane@Example.com",
		"customer_name":  "Jane Doe",
		"order_number":   "A-17",
		"payment_amount": "$220.00",
		"street_address": "123 Main St",
		"city_state_zip": "Chicago, Illinois 60601",
		"products":       "5x medium cartons",
	})

	if got.Situation != models.SituationNewOrder {
		t.Errorf("situation = %q", got.Situation)
	}
	if got.ClientEmail != "Jane@Example.com" {
		t.Errorf("client_email = %q", got.ClientEmail)
	}
	if got.ClientName != "Jane Doe" || got.OrderID != "A-17" || got.Price != "$220.00" {
		t.Errorf("got %+v", got)
	}
	if got.Street != "123 Main St" || got.CityStateZip != "Chicago, Illinois 60601" || got.Items != "5x medium cartons" {
		t.Errorf("got %+v", got)
	}
}

func TestNormalizeNestedObject(t *testing.T) {
	got := Normalize(map[string]any{
		"result": map[string]any{
			"situation":    "payment_question",
			"client_email": "x@y.com",
		},
	})
	if got.Situation != models.SituationPaymentQuestion || got.ClientEmail != "x@y.com" {
		t.Errorf("nested lookup failed: %+v", got)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	got := Normalize(map[string]any{})
	if !got.NeedsReply {
		t.Error("needs_reply should default to true")
	}
	if got.Situation != models.SituationOther {
		t.Errorf("situation = %q, want other", got.Situation)
	}
}

func TestNormalizeCoercesTypes(t *testing.T) {
	got := Normalize(map[string]any{
		"needs_reply": "true",
		"price":       float64(220),
		"order_id":    float64(12345),
	})
	if !got.NeedsReply {
		t.Error("string \"true\" should coerce to true")
	}
	if got.Price != "220" {
		t.Errorf("price = %q, want 220", got.Price)
	}
	if got.OrderID != "12345" {
		t.Errorf("order_id = %q, want 12345", got.OrderID)
	}
}

func TestNormalizeNullValuesIgnored(t *testing.T) {
	got := Normalize(map[string]any{
		"situation":    nil,
		"client_email": nil,
	})
	if got.Situation != models.SituationOther || got.ClientEmail != "" {
		t.Errorf("nil values should fall through to defaults: %+v", got)
	}
}
