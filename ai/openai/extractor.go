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

package openai

import (
	"context"
	"log/slog"

	"github.com/poiesic/folio/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// chatClient sends one system + user exchange and returns the reply text.
type chatClient struct {
	model  llms.Model
	config ai.Config
	logger *slog.Logger
}

func newChatClient(config *ai.Config, component string) (*chatClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ExtractionHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.ExtractionModel),
	)
	if err != nil {
		return nil, err
	}

	return &chatClient{
		model:  client,
		config: *config,
		logger: slog.Default().With("component", component),
	}, nil
}

// complete runs the exchange under the LLM timeout, retrying rate limits,
// and decodes the reply into out.
func (c *chatClient) complete(ctx context.Context, system, user string, out any) error {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	reply, err := ai.RetryValue(ctx, c.config.Retry, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.LLMTimeout)
		defer cancel()
		response, err := c.model.GenerateContent(ctx, content,
			llms.WithTemperature(0.0),
			llms.WithJSONMode(),
			llms.WithMaxTokens(c.config.MaxResponseTokens))
		if err != nil {
			return "", err
		}
		if len(response.Choices) < 1 {
			return "", ai.ErrEmptyResponse
		}
		return response.Choices[0].Content, nil
	})
	if err != nil {
		c.logger.Warn("failed to generate content", "err", err)
		return err
	}

	if err := ai.UnmarshalFlexible(reply, out); err != nil {
		c.logger.Warn("error parsing model response", "response", truncateForLog(reply), "err", err)
		return err
	}
	return nil
}

func truncateForLog(s string) string {
	const limit = 200
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

// ConceptExtractor implements ai.ConceptExtractor using OpenAI-compatible chat APIs.
type ConceptExtractor struct {
	client *chatClient
	prompt string
}

// newConceptExtractor is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newConceptExtractor(config *ai.Config) (*ConceptExtractor, error) {
	client, err := newChatClient(config, "openai-extractor")
	if err != nil {
		return nil, err
	}
	return &ConceptExtractor{client: client, prompt: buildExtractionPrompt()}, nil
}

// NewConceptExtractor creates a new concept extractor using the provided configuration.
//
// Returns ai.ConceptExtractor interface to enforce abstraction.
func NewConceptExtractor(config *ai.Config) (ai.ConceptExtractor, error) {
	return newConceptExtractor(config)
}

// ExtractConcepts extracts concepts and relationships from one chunk of text.
// Results are sanitized against the vocabularies.
func (e *ConceptExtractor) ExtractConcepts(ctx context.Context, text string) (*ai.Extraction, error) {
	var result ai.Extraction
	if err := e.client.complete(ctx, e.prompt, cleanInput(text), &result); err != nil {
		return nil, err
	}

	total := len(result.Concepts)
	result.Sanitize()
	e.client.logger.Debug("extracted concepts",
		"total", total,
		"kept", len(result.Concepts),
		"relationships", len(result.Relationships))
	return &result, nil
}

// RelationshipFinder implements ai.RelationshipFinder using OpenAI-compatible chat APIs.
type RelationshipFinder struct {
	client *chatClient
}

func newRelationshipFinder(config *ai.Config) (*RelationshipFinder, error) {
	client, err := newChatClient(config, "openai-relationships")
	if err != nil {
		return nil, err
	}
	return &RelationshipFinder{client: client}, nil
}

// NewRelationshipFinder creates a new relationship finder using the provided configuration.
func NewRelationshipFinder(config *ai.Config) (ai.RelationshipFinder, error) {
	return newRelationshipFinder(config)
}

// FindSourceRelationships proposes relationships among one source's concepts.
// Fewer than two concepts yields no call.
func (f *RelationshipFinder) FindSourceRelationships(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error) {
	if len(concepts) < 2 {
		return nil, nil
	}
	return f.find(ctx, buildSourceRelationshipPrompt(concepts))
}

// FindCrossSourceRelationships proposes relationships among concepts shared by sources.
func (f *RelationshipFinder) FindCrossSourceRelationships(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error) {
	if len(concepts) < 2 {
		return nil, nil
	}
	return f.find(ctx, buildCrossSourceRelationshipPrompt(concepts))
}

func (f *RelationshipFinder) find(ctx context.Context, prompt string) ([]ai.ExtractedRelationship, error) {
	var result relationshipList
	if err := f.client.complete(ctx, prompt, "Return the relationships now.", &result); err != nil {
		return nil, err
	}
	rels := ai.SanitizeRelationships(result.Relationships)
	f.client.logger.Debug("found relationships", "total", len(result.Relationships), "kept", len(rels))
	return rels, nil
}
