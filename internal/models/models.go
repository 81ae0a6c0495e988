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

// Package models defines the data structures shared across the mailroom service.
package models

import "time"

// Payment types a client can be on. Prepay clients pay before shipping,
// postpay clients pay on delivery.
const (
	PaymentPrepay  = "prepay"
	PaymentPostpay = "postpay"
)

// Situations an incoming email can be classified into.
const (
	SituationNewOrder         = "new_order"
	SituationTracking         = "tracking"
	SituationPaymentQuestion  = "payment_question"
	SituationPaymentReceived  = "payment_received"
	SituationDiscountRequest  = "discount_request"
	SituationShippingTimeline = "shipping_timeline"
	SituationOther            = "other"
)

// Directions of a conversation record.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Client is a known customer in the directory. Email is the unique,
// case-insensitive key.
type Client struct {
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	PaymentType        string    `json:"payment_type"`
	RemitAddress       string    `json:"remit_address"`
	DiscountPercent    int       `json:"discount_percent"`
	DiscountOrdersLeft int       `json:"discount_orders_left"`
	CreatedAt          time.Time `json:"created_at"`
}

// EmailRecord is one entry in the append-only conversation history.
// MessageID carries the external mailbox message ID for inbound records
// and is unique when present.
type EmailRecord struct {
	ClientEmail string    `json:"client_email"`
	Direction   string    `json:"direction"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Situation   string    `json:"situation"`
	MessageID   string    `json:"message_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Classification is the normalized result of classifying one email.
// Optional fields are empty strings when the classifier did not provide them.
type Classification struct {
	NeedsReply   bool   `json:"needs_reply"`
	Situation    string `json:"situation"`
	ClientEmail  string `json:"client_email"`
	ClientName   string `json:"client_name,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	Price        string `json:"price,omitempty"`
	Street       string `json:"street,omitempty"`
	CityStateZip string `json:"city_state_zip,omitempty"`
	Items        string `json:"items,omitempty"`
}

// ProcessingResult aggregates everything produced while handling one email:
// the classification, the client lookup outcome, and the draft reply.
type ProcessingResult struct {
	NeedsReply      bool
	Situation       string
	ClientEmail     string
	ClientName      string
	ClientFound     bool
	Client          *Client
	TemplateUsed    bool
	DraftReply      string
	NeedsAIFallback bool
}

// MessageRef is a lightweight reference to a mailbox message, as returned
// by the incremental history listing. HistoryID is the mailbox position at
// which the message appeared.
type MessageRef struct {
	ID        string
	HistoryID uint64
}

// InboundMessage is a fully fetched mailbox message ready for processing.
// From holds the bare address, FromRaw the original header value.
type InboundMessage struct {
	ID      string
	From    string
	FromRaw string
	ReplyTo string
	Subject string
	Body    string
}
