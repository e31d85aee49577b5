package ai

import "context"

type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns ErrInputTooLong when the text exceeds the model's input bound.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// Model names the embedding model. Cached vectors are keyed by it.
	Model() string
}

type ConceptExtractor interface {
	// ExtractConcepts analyzes one chunk of text and returns the concepts it
	// discusses and the relationships stated between them.
	// Returns ErrMalformedResponse when the model output cannot be parsed.
	ExtractConcepts(ctx context.Context, text string) (*Extraction, error)
}

type RelationshipFinder interface {
	// FindSourceRelationships proposes relationships among the concepts of
	// a single source.
	FindSourceRelationships(ctx context.Context, concepts []ConceptSummary) ([]ExtractedRelationship, error)

	// FindCrossSourceRelationships proposes relationships among concepts that
	// appear in more than one source.
	FindCrossSourceRelationships(ctx context.Context, concepts []ConceptSummary) ([]ExtractedRelationship, error)
}

type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// ConceptExtractor returns the concept extraction service.
	// The returned ConceptExtractor is safe for concurrent use.
	ConceptExtractor() ConceptExtractor

	// RelationshipFinder returns the relationship inference service used by
	// the graph passes.
	RelationshipFinder() RelationshipFinder

	// Close releases resources held by the provider and its services.
	Close() error
}
