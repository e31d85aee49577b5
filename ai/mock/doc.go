// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.ConceptExtractor,
// ai.RelationshipFinder and ai.AIProvider for use in unit tests. The mocks let
// tests run without external AI services and give deterministic results.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	vector, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	mockExtractor := mock.NewMockConceptExtractor()
//	mockExtractor.ExtractConceptsFunc = func(ctx context.Context, text string) (*ai.Extraction, error) {
//	    return nil, ai.ErrMalformedResponse
//	}
//
//	// Check call counts
//	count := mockExtractor.CallCount()
//
// All mocks are safe for concurrent use; the worker calls them from pools.
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on a text hash
//   - MockConceptExtractor: Returns no concepts
//   - MockRelationshipFinder: Returns no relationships
//   - MockProvider: Aggregates the three
package mock
