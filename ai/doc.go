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

// Package ai provides abstractions for the AI services used by folio.
//
// This package defines interfaces for the three external operations of the
// pipeline and the helpers shared by their implementations:
//
//   - Embedder: Generates vector embeddings from chunk and concept text
//   - ConceptExtractor: Extracts concepts and relationships from one chunk
//   - RelationshipFinder: Proposes relationships among stored concepts
//   - AIProvider: Aggregates AI services for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Vocabularies
//
// Concept categories and relationship types are closed sets (Categories,
// RelationshipTypes). Extraction.Sanitize drops anything outside them and
// normalizes concept names, so callers only ever see canonical values.
//
// # Failures
//
// Implementations map client errors onto the sentinels in errors.go.
// ErrRateLimited and ErrUnavailable are retried in-call by Retry with
// exponential backoff. ErrInputTooLong is returned to the caller, which may
// truncate with a Truncator and try once more. ErrMalformedResponse is
// returned after UnmarshalFlexible has exhausted its repairs; the worker
// counts it against the chunk's attempt budget.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, chunk.Text)
//	extraction, err := provider.ConceptExtractor().ExtractConcepts(ctx, chunk.Text)
package ai
