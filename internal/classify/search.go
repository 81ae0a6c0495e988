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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Searcher answers a free-text query with a short plain-text summary.
// The fallback model calls it when a customer asks about a product or
// topic outside the conversation.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// searchResultLimit caps how many related results go into the summary.
const searchResultLimit = 3

// DuckDuckGo queries the DuckDuckGo Instant Answer API. Free, keyless, and
// rate-limited upstream; good enough for "what is this device" questions.
type DuckDuckGo struct {
	httpClient *http.Client
	baseURL    string
}

// NewDuckDuckGo creates a DuckDuckGo searcher.
func NewDuckDuckGo(timeout time.Duration) *DuckDuckGo {
	return &DuckDuckGo{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.duckduckgo.com",
	}
}

type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Search runs one query and flattens the instant answer into text the
// model can cite. Returns an error when nothing useful came back so the
// model falls through to "we'll check and get back to you".
func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		d.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}

	var answer instantAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	var parts []string
	if answer.Answer != "" {
		parts = append(parts, answer.Answer)
	}
	if answer.AbstractText != "" {
		parts = append(parts, answer.AbstractText)
	}
	for _, topic := range answer.RelatedTopics {
		if len(parts) >= searchResultLimit {
			break
		}
		if topic.Text != "" {
			parts = append(parts, topic.Text)
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no results for %q", query)
	}
	return strings.Join(parts, "\n"), nil
}
