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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shipmecarton/mailroom/internal/config"
	"github.com/shipmecarton/mailroom/internal/models"
)

const classifierPrompt = `You are an email classifier for shipmecarton.com.

Analyze the email and return ONLY a flat JSON object. No text before or after.

## Rules for identifying the real sender

If the email is from @shipmecarton.com, noreply@, or no-reply@, this is an ORDER NOTIFICATION.
The REAL customer is NOT the sender. Extract the real customer from:
- "Email:" field in the body
- "Reply-To:" header (fallback)
- "Firstname:" field for the name

For all other emails, the From address IS the real customer.

## Rules for needs_reply

true: orders, customer questions, complaints, payment confirmations
false: marketing, spam, simple "Thank you!" / "Got it" / "Perfect"

## Rules for situation (use exactly one value)

- "new_order": new order or order notification from system
- "tracking": asks about delivery status or tracking number
- "payment_question": asks WHERE or HOW to pay
- "payment_received": confirms payment was sent
- "discount_request": asks for discount or better price
- "shipping_timeline": asks WHEN order will be shipped
- "other": anything else

## Output format

Return ONLY this exact JSON structure (no markdown, no code fences, no explanation):

{
  "needs_reply": true,
  "situation": "new_order",
  "client_email": "customer@example.com",
  "client_name": "John Smith",
  "order_id": "12345",
  "price": "$220.00",
  "customer_street": "123 Main St",
  "customer_city_state_zip": "Chicago, Illinois 60601",
  "items": null
}

Field rules:
- client_email: ALWAYS the real customer email (never noreply@, never system email)
- client_name: customer full name or null
- price: include $ sign, e.g. "$220.00", or null
- customer_street: street address only, or null
- customer_city_state_zip: "City, State Zip" on one line, or null
- items: what was ordered, or null

CRITICAL: Return a FLAT JSON object with exactly these field names. No nesting. No extra fields.`

const fallbackPrompt = `You are James, a customer service assistant for shipmecarton.com.

Write a short reply to the customer email. You will receive context about the situation, client, and conversation history.

STYLE:
- Start with "Hi {name}," if name is known, otherwise "Hello,"
- 2-5 sentences maximum
- End with exactly "Thank you!" and nothing after it, no name, no signature
- Casual, friendly tone

WHAT YOU CAN DO:
- Reference information provided in the context and conversation history
- Use conversation history to maintain continuity (e.g., reference previous orders, ongoing discussions)
- Say "we'll check and get back to you" for things you can't verify

WEB SEARCH:
- You have a web_search tool. Use it when the customer asks about a product,
  device, or topic you don't have information about
- Search in English
- Use search results to give a helpful, informed answer
- Always cite what you found naturally (e.g., "Based on what we found...")
- Do NOT paste raw search results, summarize in 1-2 sentences
- If search doesn't help, fall back to "we'll check and get back to you"

WHAT YOU CANNOT DO:
- Invent prices, tracking numbers, delivery dates, or stock levels
- Offer discounts or change payment terms
- Tell customer to check the website, WE always check for them
- Reveal you are AI
- Write multiple reply variants, only ONE reply

READING HISTORY, PRIORITIZE:
- Messages where WE discussed stock availability, offered alternatives, or quoted prices are most important
- Customer's ordering patterns: what they usually buy, what prices they paid
- Most recent messages carry more weight than older ones
- SKIP over routine "I paid" confirmations and tracking number messages, they are not useful`

// maxToolRounds bounds the search-tool loop so a model stuck calling the
// tool cannot spin forever.
const maxToolRounds = 3

// Client is the LLM surface the pipeline needs: classification of incoming
// mail and free-form reply generation when no template applies.
type Client interface {
	Classify(ctx context.Context, emailText string) (models.Classification, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
// A circuit breaker wraps every call so a misbehaving provider trips fast
// instead of stalling each poll cycle on timeouts. The fallback model gets
// a web_search tool; the classifier runs without tools.
type HTTPClient struct {
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker
	search          Searcher
	baseURL         string
	apiKey          string
	classifierModel string
	fallbackModel   string
}

// NewHTTPClient creates an LLM client from the given settings.
func NewHTTPClient(cfg config.LLMConfig, timeout time.Duration) *HTTPClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return &HTTPClient{
		httpClient:      &http.Client{Timeout: timeout},
		breaker:         breaker,
		search:          NewDuckDuckGo(timeout),
		baseURL:         cfg.BaseURL,
		apiKey:          cfg.APIKey,
		classifierModel: cfg.ClassifierModel,
		fallbackModel:   cfg.FallbackModel,
	}
}

// Classify sends the email text to the classifier model and parses the
// structured result.
func (c *HTTPClient) Classify(ctx context.Context, emailText string) (models.Classification, error) {
	messages := []chatMessage{
		{Role: "system", Content: classifierPrompt},
		{Role: "user", Content: emailText},
	}
	reply, err := c.complete(ctx, c.classifierModel, messages, nil)
	if err != nil {
		return models.Classification{}, fmt.Errorf("classify email: %w", err)
	}
	return ParseResponse(reply.Content)
}

// Generate asks the fallback model for a reply draft, resolving web_search
// tool calls along the way. Search failures are reported back to the model
// as tool output rather than failing the draft.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: fallbackPrompt},
		{Role: "user", Content: prompt},
	}

	tools := searchTools()
	for round := 0; round < maxToolRounds; round++ {
		reply, err := c.complete(ctx, c.fallbackModel, messages, tools)
		if err != nil {
			return "", fmt.Errorf("generate reply: %w", err)
		}
		if len(reply.ToolCalls) == 0 {
			return reply.Content, nil
		}

		messages = append(messages, reply)
		for _, call := range reply.ToolCalls {
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    c.runSearch(ctx, call),
			})
		}
	}

	// Tool budget exhausted; force a plain answer.
	reply, err := c.complete(ctx, c.fallbackModel, messages, nil)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return reply.Content, nil
}

func (c *HTTPClient) runSearch(ctx context.Context, call toolCall) string {
	if c.search == nil || call.Function.Name != "web_search" {
		return "search is not available"
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.Query == "" {
		return "search failed: missing query"
	}

	result, err := c.search.Search(ctx, args.Query)
	if err != nil {
		slog.Warn("web search failed", "query", args.Query, "error", err)
		return "search failed, answer without it"
	}
	slog.Debug("web search completed", "query", args.Query)
	return result
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func searchTools() []chatTool {
	tool := chatTool{Type: "function"}
	tool.Function.Name = "web_search"
	tool.Function.Description = "Search the web for information about a product, device, or topic. Returns a short text summary."
	tool.Function.Parameters = json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query, in English"}
		},
		"required": ["query"]
	}`)
	return []chatTool{tool}
}

func (c *HTTPClient) complete(ctx context.Context, model string, messages []chatMessage, tools []chatTool) (chatMessage, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doComplete(ctx, model, messages, tools)
	})
	if err != nil {
		return chatMessage{}, err
	}
	return result.(chatMessage), nil
}

func (c *HTTPClient) doComplete(ctx context.Context, model string, messages []chatMessage, tools []chatTool) (chatMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return chatMessage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return chatMessage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chatMessage{}, fmt.Errorf("LLM request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chatMessage{}, fmt.Errorf("read LLM response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return chatMessage{}, fmt.Errorf("LLM returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return chatMessage{}, fmt.Errorf("decode LLM response: %w", err)
	}
	if parsed.Error != nil {
		return chatMessage{}, fmt.Errorf("LLM error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return chatMessage{}, fmt.Errorf("LLM response has no choices")
	}

	slog.Debug("LLM call completed",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return parsed.Choices[0].Message, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
