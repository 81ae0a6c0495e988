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

package template

import (
	"fmt"
	"strings"

	"github.com/shipmecarton/mailroom/internal/models"
)

var separator = strings.Repeat("=", 50)

// FormatResult renders a processing result as the plain-text report the
// operator sees. The layout is fixed; downstream consumers parse on the
// "=" separators.
func FormatResult(r models.ProcessingResult) string {
	var b strings.Builder

	b.WriteString(separator + "\n")
	b.WriteString("CLASSIFICATION\n")
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "Needs Reply: %v\n", r.NeedsReply)
	fmt.Fprintf(&b, "Situation: %s\n", r.Situation)
	fmt.Fprintf(&b, "Client Email: %s\n", r.ClientEmail)
	fmt.Fprintf(&b, "Client Name: %s\n", r.ClientName)
	b.WriteString("\n")

	b.WriteString(separator + "\n")
	b.WriteString("CLIENT DATA\n")
	b.WriteString(separator + "\n")
	if r.ClientFound && r.Client != nil {
		b.WriteString("Status: FOUND\n")
		fmt.Fprintf(&b, "Payment Type: %s\n", r.Client.PaymentType)
		if r.Client.RemitAddress != "" {
			fmt.Fprintf(&b, "Zelle: %s\n", r.Client.RemitAddress)
		}
		if r.Client.DiscountPercent > 0 && r.Client.DiscountOrdersLeft > 0 {
			fmt.Fprintf(&b, "Discount: %d%% (%d orders left)\n", r.Client.DiscountPercent, r.Client.DiscountOrdersLeft)
		} else {
			b.WriteString("Discount: none\n")
		}
	} else {
		b.WriteString("Status: NEW CLIENT (not in database)\n")
	}
	b.WriteString("\n")

	b.WriteString(separator + "\n")
	b.WriteString("DRAFT REPLY\n")
	b.WriteString(separator + "\n")
	switch {
	case r.TemplateUsed:
		b.WriteString("[Template - exact copy]\n\n")
		b.WriteString(r.DraftReply)
	case r.NeedsAIFallback:
		b.WriteString("[AI will generate reply]")
	default:
		b.WriteString(r.DraftReply)
	}

	return b.String()
}
