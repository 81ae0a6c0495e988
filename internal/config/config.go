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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GmailConfig holds the OAuth credentials for the monitored mailbox.
// The refresh token is long-lived; access tokens are minted on demand.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// LLMConfig holds the settings for the classification / fallback generation
// service. Any OpenAI-compatible chat completions endpoint works.
type LLMConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	ClassifierModel string `yaml:"classifier_model"`
	FallbackModel   string `yaml:"fallback_model"`
}

// TelegramConfig holds the operator notification sink credentials.
// Both fields empty means notifications are disabled.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Config holds all configuration for the mailroom service.
type Config struct {
	DatabaseURL string
	RedisURL    string

	Gmail    GmailConfig
	LLM      LLMConfig
	Telegram TelegramConfig

	// Poller
	PollInterval time.Duration
	SearchLimit  int // max messages pulled from mailbox search for fallback context
	CallTimeout  time.Duration

	// Server (admin API + health)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Gmail    GmailConfig    `yaml:"gmail"`
	LLM      LLMConfig      `yaml:"llm"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A missing config file is not
// an error; everything can come from the environment. An optional .env file
// is loaded first and never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var raw rawConfig
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/mailroom?sslmode=disable")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		Gmail: GmailConfig{
			ClientID:     firstNonEmpty(raw.Gmail.ClientID, os.Getenv("GMAIL_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Gmail.ClientSecret, os.Getenv("GMAIL_CLIENT_SECRET")),
			RefreshToken: firstNonEmpty(raw.Gmail.RefreshToken, os.Getenv("GMAIL_REFRESH_TOKEN")),
		},
		LLM: LLMConfig{
			BaseURL:         firstNonEmpty(raw.LLM.BaseURL, envOrDefault("LLM_BASE_URL", "https://api.openai.com/v1")),
			APIKey:          firstNonEmpty(raw.LLM.APIKey, os.Getenv("LLM_API_KEY")),
			ClassifierModel: firstNonEmpty(raw.LLM.ClassifierModel, envOrDefault("LLM_CLASSIFIER_MODEL", "gpt-4o-mini")),
			FallbackModel:   firstNonEmpty(raw.LLM.FallbackModel, envOrDefault("LLM_FALLBACK_MODEL", "gpt-4o")),
		},
		Telegram: TelegramConfig{
			BotToken: firstNonEmpty(raw.Telegram.BotToken, os.Getenv("TELEGRAM_BOT_TOKEN")),
			ChatID:   firstNonEmpty(raw.Telegram.ChatID, os.Getenv("TELEGRAM_CHAT_ID")),
		},
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		SearchLimit:  envOrDefaultInt("SEARCH_LIMIT", 10),
		CallTimeout:  envOrDefaultDuration("CALL_TIMEOUT", 60*time.Second),
		Port:         envOrDefaultInt("PORT", 8080),
	}

	if cfg.Gmail.ClientID == "" || cfg.Gmail.ClientSecret == "" || cfg.Gmail.RefreshToken == "" {
		return nil, fmt.Errorf("gmail credentials missing: set GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET, GMAIL_REFRESH_TOKEN")
	}

	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
