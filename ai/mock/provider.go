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

package mock

import "github.com/poiesic/folio/ai"

// MockProvider is a test double for ai.AIProvider.
// It aggregates mock embedder, extractor and relationship finder instances.
type MockProvider struct {
	embedder  *MockEmbedder
	extractor *MockConceptExtractor
	finder    *MockRelationshipFinder
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns the concrete type; it satisfies ai.AIProvider and exposes the
// mocks for behavior injection and assertions.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder:  NewMockEmbedder(),
		extractor: NewMockConceptExtractor(),
		finder:    NewMockRelationshipFinder(),
	}
}

var _ ai.AIProvider = (*MockProvider)(nil)

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// ConceptExtractor returns the mock concept extractor.
func (p *MockProvider) ConceptExtractor() ai.ConceptExtractor {
	return p.extractor
}

// RelationshipFinder returns the mock relationship finder.
func (p *MockProvider) RelationshipFinder() ai.RelationshipFinder {
	return p.finder
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockExtractor returns the underlying mock extractor for test assertions.
func (p *MockProvider) GetMockExtractor() *MockConceptExtractor {
	return p.extractor
}

// GetMockFinder returns the underlying mock relationship finder.
func (p *MockProvider) GetMockFinder() *MockRelationshipFinder {
	return p.finder
}
