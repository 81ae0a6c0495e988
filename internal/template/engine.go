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

// Package template fills canned replies for the situations that have one.
// Template text is fixed; the business owner approved every word, so the
// engine substitutes placeholders and nothing else. Situations without a
// template fall through to AI fallback.
package template

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shipmecarton/mailroom/internal/models"
)

// templateKey selects a reply template by situation and billing mode.
type templateKey struct {
	situation   string
	paymentType string
}

var replyTemplates = map[templateKey]string{
	{models.SituationNewOrder, models.PaymentPrepay}: "Thank you so much for placing an order\n" +
		"Your total is {PRICE} - {DISCOUNT}% = {FINAL_PRICE} FREE shipping\n" +
		"\n" +
		"!!! Zelle ( In memo or comments don't put anything please ! ) use email below\n" +
		"\n" +
		"{REMIT_ADDRESS}\n" +
		"\n" +
		"If paid today, We will ship your order Tonight from USA\n" +
		"Your order will be delivered in 2-4 days max.\n" +
		"Thank you!",
	{models.SituationNewOrder, models.PaymentPostpay}: "Hello!\n" +
		"Thank you very much for placing an order\n" +
		"We will ship your package ASAP\n" +
		"Total is {PRICE} - {DISCOUNT}% = {FINAL_PRICE} FREE shipping applied\n" +
		"Pay when received as always via Zelle or Cash App\n" +
		"ZELLE IS OUR PREFERRED METHOD OF PAYMENT\n" +
		"When order is received and you are ready to pay " +
		"( In memo or comments don't put anything please ! )\n" +
		"\n" +
		"Here is your confirmation.\n" +
		"Tracking With USPS will be updated on the USPS website " +
		"till midnight on the day of the shipping\n" +
		"{TRACKING_URL}\n" +
		"\n" +
		"{CUSTOMER_NAME}\n" +
		"{CUSTOMER_STREET}\n" +
		"{CUSTOMER_CITY_STATE_ZIP}",
}

// ClientDirectory is the slice of the client store the engine needs.
type ClientDirectory interface {
	Get(ctx context.Context, email string) (*models.Client, error)
	ConsumeDiscount(ctx context.Context, email string) (*models.Client, error)
}

// Engine turns a classification into a processing result: template reply,
// fallback request, or "no reply needed".
type Engine struct {
	clients ClientDirectory
}

// NewEngine creates a template engine over the given client directory.
func NewEngine(clients ClientDirectory) *Engine {
	return &Engine{clients: clients}
}

// Process looks up the client and fills the matching template. When the
// client is unknown or no template covers the situation, the result asks
// for AI fallback instead of a draft.
func (e *Engine) Process(ctx context.Context, c models.Classification) (models.ProcessingResult, error) {
	result := models.ProcessingResult{
		NeedsReply:  c.NeedsReply,
		Situation:   c.Situation,
		ClientEmail: c.ClientEmail,
		ClientName:  c.ClientName,
	}

	if !c.NeedsReply {
		result.DraftReply = "(No reply needed)"
		return result, nil
	}

	client, err := e.clients.Get(ctx, c.ClientEmail)
	if err != nil {
		return result, fmt.Errorf("look up client %s: %w", c.ClientEmail, err)
	}
	if client == nil {
		result.NeedsAIFallback = true
		return result, nil
	}
	result.ClientFound = true
	result.Client = client

	tmpl, ok := replyTemplates[templateKey{c.Situation, client.PaymentType}]
	if !ok {
		result.NeedsAIFallback = true
		return result, nil
	}

	reply, err := e.fill(ctx, tmpl, c, client)
	if err != nil {
		return result, err
	}
	result.TemplateUsed = true
	result.DraftReply = reply
	return result, nil
}

// fill substitutes the placeholders and consumes one discounted order when
// a discount applies. The discount is consumed through a conditional update
// in the store, so a concurrent consumer losing the race gets the
// undiscounted reply rather than a double decrement.
func (e *Engine) fill(ctx context.Context, tmpl string, c models.Classification, client *models.Client) (string, error) {
	price := strings.TrimSpace(c.Price)
	priceNum := parsePrice(price)

	applyDiscount := false
	discountPercent := 0
	if priceNum > 0 && client.DiscountPercent > 0 && client.DiscountOrdersLeft > 0 {
		consumed, err := e.clients.ConsumeDiscount(ctx, client.Email)
		if err != nil {
			return "", fmt.Errorf("consume discount for %s: %w", client.Email, err)
		}
		if consumed != nil {
			applyDiscount = true
			discountPercent = consumed.DiscountPercent
			slog.Info("discount applied",
				"client", client.Email,
				"percent", discountPercent,
				"orders_left", consumed.DiscountOrdersLeft-1,
			)
		}
	}

	finalPrice := price
	discountStr := "0"
	if applyDiscount {
		finalPrice = fmt.Sprintf("$%.2f", priceNum*(1-float64(discountPercent)/100))
		discountStr = strconv.Itoa(discountPercent)
	}

	name := c.ClientName
	if name == "" {
		name = client.Name
	}

	reply := tmpl
	reply = strings.ReplaceAll(reply, "{PRICE}", price)
	reply = strings.ReplaceAll(reply, "{DISCOUNT}", discountStr)
	reply = strings.ReplaceAll(reply, "{FINAL_PRICE}", finalPrice)
	reply = strings.ReplaceAll(reply, "{REMIT_ADDRESS}", client.RemitAddress)
	reply = strings.ReplaceAll(reply, "{CUSTOMER_NAME}", name)
	reply = strings.ReplaceAll(reply, "{CUSTOMER_STREET}", c.Street)
	reply = strings.ReplaceAll(reply, "{CUSTOMER_CITY_STATE_ZIP}", c.CityStateZip)
	reply = strings.ReplaceAll(reply, "{TRACKING_URL}", "[tracking URL pending]")

	// Without a discount the arithmetic line reads "X - 0% = X"; collapse
	// it to the bare price.
	if !applyDiscount && price != "" {
		reply = strings.ReplaceAll(reply, fmt.Sprintf("%s - 0%% = %s", price, price), price)
	}
	return reply, nil
}

// parsePrice extracts a number from strings like "$1,220.00". Returns 0
// when the price is missing or malformed; an unparseable price means the
// reply carries the original text untouched.
func parsePrice(price string) float64 {
	clean := strings.NewReplacer("$", "", ",", "").Replace(price)
	n, err := strconv.ParseFloat(strings.TrimSpace(clean), 64)
	if err != nil {
		return 0
	}
	return n
}
