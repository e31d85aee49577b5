package mock

import (
	"context"
	"sync/atomic"

	"github.com/poiesic/folio/ai"
)

// MockConceptExtractor is a test double for ai.ConceptExtractor.
// It allows custom behavior injection via function fields.
type MockConceptExtractor struct {
	// ExtractConceptsFunc is called by ExtractConcepts if set.
	// If nil, returns an empty extraction.
	ExtractConceptsFunc func(ctx context.Context, text string) (*ai.Extraction, error)

	callCount atomic.Int64
}

// NewMockConceptExtractor creates a mock concept extractor with default behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockConceptExtractor() *MockConceptExtractor {
	return &MockConceptExtractor{}
}

// ExtractConcepts returns the injected result, sanitized the way the
// production extractor sanitizes model output.
func (m *MockConceptExtractor) ExtractConcepts(ctx context.Context, text string) (*ai.Extraction, error) {
	m.callCount.Add(1)

	if m.ExtractConceptsFunc == nil {
		return &ai.Extraction{}, ctx.Err()
	}
	result, err := m.ExtractConceptsFunc(ctx, text)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &ai.Extraction{}
	}
	result.Sanitize()
	return result, nil
}

// CallCount returns the number of times ExtractConcepts was called.
func (m *MockConceptExtractor) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count.
func (m *MockConceptExtractor) Reset() {
	m.callCount.Store(0)
}

// MockRelationshipFinder is a test double for ai.RelationshipFinder.
type MockRelationshipFinder struct {
	// SourceFunc is called by FindSourceRelationships if set.
	SourceFunc func(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error)

	// CrossSourceFunc is called by FindCrossSourceRelationships if set.
	CrossSourceFunc func(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error)

	callCount atomic.Int64
}

// NewMockRelationshipFinder creates a finder that returns no relationships.
func NewMockRelationshipFinder() *MockRelationshipFinder {
	return &MockRelationshipFinder{}
}

// FindSourceRelationships calls SourceFunc.
func (m *MockRelationshipFinder) FindSourceRelationships(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error) {
	m.callCount.Add(1)
	if m.SourceFunc == nil {
		return nil, nil
	}
	rels, err := m.SourceFunc(ctx, concepts)
	if err != nil {
		return nil, err
	}
	return ai.SanitizeRelationships(rels), nil
}

// FindCrossSourceRelationships calls CrossSourceFunc.
func (m *MockRelationshipFinder) FindCrossSourceRelationships(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error) {
	m.callCount.Add(1)
	if m.CrossSourceFunc == nil {
		return nil, nil
	}
	rels, err := m.CrossSourceFunc(ctx, concepts)
	if err != nil {
		return nil, err
	}
	return ai.SanitizeRelationships(rels), nil
}

// CallCount returns the number of calls to either method.
func (m *MockRelationshipFinder) CallCount() int {
	return int(m.callCount.Load())
}
