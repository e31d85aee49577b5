package graph

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"source limit", func(c *Config) { c.SourceLimit = 0 }},
		{"cross-source batch", func(c *Config) { c.CrossSourceBatch = 1 }},
		{"min sources", func(c *Config) { c.MinSources = 1 }},
		{"embed batch", func(c *Config) { c.EmbedBatch = 0 }},
		{"threshold zero", func(c *Config) { c.SimilarityThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.SimilarityThreshold = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewPasses(t *testing.T) {
	_, err := NewPasses(nil, nil, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)

	store := newTestStore(t)
	bad := DefaultConfig()
	bad.EmbedBatch = 0
	_, err = NewPasses(store, nil, nil, WithPassConfig(bad))
	assert.Error(t, err)

	p, err := NewPasses(store, nil, nil)
	require.NoError(t, err)
	_, err = p.SourcePass(context.Background())
	assert.ErrorIs(t, err, ErrFinderRequired)
	_, err = p.CrossSourcePass(context.Background(), false)
	assert.ErrorIs(t, err, ErrFinderRequired)
	_, err = p.SimilarityPass(context.Background(), false)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestPasses_SourcePass(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := completeSource(t, store, "topologies.md", map[string]*ai.Extraction{
		"chunk one": {Concepts: []ai.ExtractedConcept{concept("stream-aligned team", "role", "Owns a flow of change")}},
		"chunk two": {Concepts: []ai.ExtractedConcept{concept("platform team", "role", "Provides internal services")}},
	})
	lonely := completeSource(t, store, "lonely.md", map[string]*ai.Extraction{
		"only chunk": {Concepts: []ai.ExtractedConcept{concept("cognitive load", "metric", "")}},
	})

	finder := mock.NewMockRelationshipFinder()
	var seen []ai.ConceptSummary
	finder.SourceFunc = func(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error) {
		seen = concepts
		return []ai.ExtractedRelationship{
			relationship("stream-aligned team", "requires", "platform team"),
			relationship("stream-aligned team", "enables", "fast flow"),
		}, nil
	}
	passes, err := NewPasses(store, finder, nil)
	require.NoError(t, err)

	result, err := passes.SourcePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sources)
	assert.Equal(t, 2, result.Proposed)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, finder.CallCount(), "single-concept source makes no request")
	require.Len(t, seen, 2)
	descriptions := []string{seen[0].Description, seen[1].Description}
	assert.ElementsMatch(t, []string{"Owns a flow of change", "Provides internal services"}, descriptions)

	relations, err := store.ListRelations(ctx)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, SourceStrength, relations[0].Strength)
	assert.Equal(t, src.Id, relations[0].SourceId)

	for _, id := range []core.ID{src.Id, lonely.Id} {
		stored, err := store.GetSource(ctx, id)
		require.NoError(t, err)
		assert.False(t, stored.GraphPassAt.IsZero())
	}

	t.Run("sources are passed once", func(t *testing.T) {
		result, err := passes.SourcePass(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Sources)
		assert.Equal(t, 1, finder.CallCount())
	})
}

func TestPasses_SourcePassFailureLeavesSourcePending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := completeSource(t, store, "a.md", map[string]*ai.Extraction{
		"one": {Concepts: []ai.ExtractedConcept{concept("a", "pattern", ""), concept("b", "pattern", "")}},
	})

	finder := mock.NewMockRelationshipFinder()
	finder.SourceFunc = func(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error) {
		return nil, ai.ErrMalformedResponse
	}
	passes, err := NewPasses(store, finder, nil)
	require.NoError(t, err)

	result, err := passes.SourcePass(ctx)
	assert.ErrorIs(t, err, ai.ErrMalformedResponse)
	assert.Equal(t, 0, result.Sources)

	pending, err := store.SourcesPendingGraphPass(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, src.Id, pending[0].Id)
}

func TestPasses_CrossSourcePass(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	shared := []ai.ExtractedConcept{
		concept("cognitive load", "metric", "Mental effort a team carries"),
		concept("team api", "pattern", "How a team presents itself"),
	}
	completeSource(t, store, "one.md", map[string]*ai.Extraction{"one": {Concepts: shared}})
	completeSource(t, store, "two.md", map[string]*ai.Extraction{
		"two": {Concepts: append([]ai.ExtractedConcept{concept("conway's law", "principle", "")}, shared...)},
	})

	finder := mock.NewMockRelationshipFinder()
	var seen []ai.ConceptSummary
	finder.CrossSourceFunc = func(ctx context.Context, concepts []ai.ConceptSummary) ([]ai.ExtractedRelationship, error) {
		seen = concepts
		return []ai.ExtractedRelationship{
			relationship("team api", "requires", "cognitive load"),
			relationship("team api", "requires", "cognitive load"),
			relationship("team api", "contrasts", "unknown thing"),
		}, nil
	}
	var progress bytes.Buffer
	passes, err := NewPasses(store, finder, nil, WithProgress(&progress))
	require.NoError(t, err)

	t.Run("dry run writes nothing", func(t *testing.T) {
		result, err := passes.CrossSourcePass(ctx, true)
		require.NoError(t, err)
		assert.True(t, result.DryRun)
		assert.Equal(t, 2, result.Concepts)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 1, result.Skipped)

		relations, err := store.ListRelations(ctx)
		require.NoError(t, err)
		assert.Empty(t, relations)
	})

	result, err := passes.CrossSourcePass(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Proposed)
	assert.Equal(t, 1, result.Created)

	require.Len(t, seen, 2)
	assert.Equal(t, []string{"Title of one.md", "Title of two.md"}, seen[0].Sources)

	relations, err := store.ListRelations(ctx)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, CrossSourceStrength, relations[0].Strength)
	assert.Equal(t, core.ID(0), relations[0].SourceId)
	assert.Contains(t, progress.String(), "Cross-source batches: 2/2")
}

func TestPasses_CrossSourcePassNeedsSharedConcepts(t *testing.T) {
	store := newTestStore(t)
	completeSource(t, store, "one.md", map[string]*ai.Extraction{
		"one": {Concepts: []ai.ExtractedConcept{concept("a", "pattern", ""), concept("b", "pattern", "")}},
	})
	finder := mock.NewMockRelationshipFinder()
	passes, err := NewPasses(store, finder, nil)
	require.NoError(t, err)

	result, err := passes.CrossSourcePass(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Concepts)
	assert.Equal(t, 0, finder.CallCount())
}

func TestPasses_SimilarityPass(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, c := range []*core.Concept{
		{Name: "feature team", Description: "Cross-functional team"},
		{Name: "stream-aligned team", Description: "Team aligned to a flow"},
		{Name: "database", Description: "Stores data"},
	} {
		_, err := store.UpsertConcept(ctx, c)
		require.NoError(t, err)
	}

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		switch {
		case strings.HasPrefix(text, "feature team:"):
			return []float32{1, 0.1, 0}, nil
		case strings.HasPrefix(text, "stream-aligned team:"):
			return []float32{1, 0.2, 0}, nil
		case strings.HasPrefix(text, "database:"):
			return []float32{0, 0, 1}, nil
		}
		return nil, errors.New("unexpected text " + text)
	}
	passes, err := NewPasses(store, nil, embedder)
	require.NoError(t, err)

	t.Run("dry run writes nothing", func(t *testing.T) {
		result, err := passes.SimilarityPass(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Embedded)
		assert.Equal(t, 1, result.Created)

		missing, err := store.ConceptsWithoutEmbedding(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, missing, 3)
		relations, err := store.ListRelations(ctx)
		require.NoError(t, err)
		assert.Empty(t, relations)
	})

	result, err := passes.SimilarityPass(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Embedded)
	assert.Equal(t, 3, result.Concepts)
	assert.Equal(t, 1, result.Proposed)
	assert.Equal(t, 1, result.Created)

	relations, err := store.ListRelations(ctx)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, "similar_to", relations[0].Type)
	assert.Less(t, relations[0].FromId, relations[0].ToId)
	assert.InDelta(t, CosineSimilarity([]float32{1, 0.1, 0}, []float32{1, 0.2, 0}), relations[0].Strength, 1e-6)

	feature, err := store.FindConceptByName(ctx, "feature team")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, CosineSimilarity(feature.Vector, feature.Vector), 1e-6)

	t.Run("second run embeds nothing and skips linked pairs", func(t *testing.T) {
		embedder.Reset()
		result, err := passes.SimilarityPass(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Embedded)
		assert.Equal(t, 0, embedder.CallCount())
		assert.Equal(t, 0, result.Created)
		assert.Equal(t, 1, result.Skipped)
	})
}
