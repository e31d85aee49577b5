// Copyright 2025 Poiesic Systems
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

package ai

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// ExtractionHost is the base URL for the chat service used for concept
	// extraction and relationship inference.
	ExtractionHost string

	// APIKey is sent as the bearer token. Local servers accept any value.
	APIKey string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// ExtractionModel is the chat model used for extraction and relationships.
	// Example: "qwen2.5:7b", "gpt-4o-mini"
	ExtractionModel string

	// EmbeddingTimeout bounds one embedding call.
	// Default: 30s
	EmbeddingTimeout time.Duration

	// LLMTimeout bounds one chat call.
	// Default: 30s
	LLMTimeout time.Duration

	// MaxEmbeddingTokens is the token bound embedding input is truncated to
	// after the service reports the input too long.
	// Default: 8191
	MaxEmbeddingTokens int

	// MaxResponseTokens caps the length of chat responses.
	// Default: 2048
	MaxResponseTokens int

	// Retry bounds in-call retries of rate-limited calls.
	Retry RetryPolicy
}

type ConfigOption func(*Config)

func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

func WithExtractionHost(host string) ConfigOption {
	return func(c *Config) {
		c.ExtractionHost = host
	}
}

func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.ExtractionHost = host
	}
}

func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

func WithExtractionModel(model string) ConfigOption {
	return func(c *Config) {
		c.ExtractionModel = model
	}
}

func WithTimeouts(embedding, llm time.Duration) ConfigOption {
	return func(c *Config) {
		c.EmbeddingTimeout = embedding
		c.LLMTimeout = llm
	}
}

func WithMaxEmbeddingTokens(n int) ConfigOption {
	return func(c *Config) {
		c.MaxEmbeddingTokens = n
	}
}

func WithRetryPolicy(policy RetryPolicy) ConfigOption {
	return func(c *Config) {
		c.Retry = policy
	}
}

func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:      defaultHost,
		ExtractionHost:     defaultHost,
		APIKey:             "none",
		EmbeddingModel:     "nomic-embed-text",
		ExtractionModel:    "qwen2.5:7b",
		EmbeddingTimeout:   30 * time.Second,
		LLMTimeout:         30 * time.Second,
		MaxEmbeddingTokens: 8191,
		MaxResponseTokens:  2048,
		Retry:              DefaultRetryPolicy(),
	}
}

func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures hosts end in /v1 as OpenAI-compatible clients expect.
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.ExtractionHost = normalizeHost(c.ExtractionHost)
	if c.APIKey == "" {
		c.APIKey = "none"
	}
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

func (c *Config) Validate() error {
	// Normalize first to ensure hosts are in correct format
	c.Normalize()

	switch {
	case c.EmbeddingHost == "":
		return fmt.Errorf("%w: EmbeddingHost is required", ErrInvalidConfig)
	case c.ExtractionHost == "":
		return fmt.Errorf("%w: ExtractionHost is required", ErrInvalidConfig)
	case c.EmbeddingModel == "":
		return fmt.Errorf("%w: EmbeddingModel is required", ErrInvalidConfig)
	case c.ExtractionModel == "":
		return fmt.Errorf("%w: ExtractionModel is required", ErrInvalidConfig)
	case c.EmbeddingTimeout <= 0 || c.LLMTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.MaxEmbeddingTokens <= 0:
		return fmt.Errorf("%w: MaxEmbeddingTokens must be positive", ErrInvalidConfig)
	case c.MaxResponseTokens <= 0:
		return fmt.Errorf("%w: MaxResponseTokens must be positive", ErrInvalidConfig)
	case c.Retry.MaxRetries < 0 || c.Retry.InitialInterval < 0:
		return fmt.Errorf("%w: retry policy must not be negative", ErrInvalidConfig)
	}
	return nil
}
