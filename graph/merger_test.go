package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMerger_RequiresStore(t *testing.T) {
	_, err := NewMerger(nil, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)
}

func TestMerger_Merge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	text := "A Data Mesh assigns data ownership to domains. Domain ownership is part of the data mesh."
	src, chunks := ingestClaimed(t, store, "mesh.md", text)

	merger, err := NewMerger(store, nil)
	require.NoError(t, err)

	extraction := &ai.Extraction{
		Concepts: []ai.ExtractedConcept{
			concept("Data Mesh", "principle", "Decentralized analytical data architecture"),
			concept("domain ownership", "principle", "Domains own their data"),
		},
		Relationships: []ai.ExtractedRelationship{
			relationship("domain ownership", "part_of", "data mesh"),
			relationship("domain ownership", "enables", "self-serve platform"),
		},
	}
	extraction.Sanitize()

	result, err := merger.Merge(ctx, testOwner, chunks[0], extraction)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Concepts: 2, Mentions: 2, Relations: 1, Unresolved: 1}, result)

	chunk, err := store.GetChunk(ctx, chunks[0].Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExtracted, chunk.ConceptStatus)
	assert.Equal(t, 1, chunk.ExtractionAttempts)

	mesh, err := store.FindConceptByName(ctx, "data mesh")
	require.NoError(t, err)
	assert.Equal(t, "principle", mesh.Category)

	mentions, err := store.MentionsForConcept(ctx, mesh.Id)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, MentionRelevance, mentions[0].Relevance)
	assert.Equal(t, text, mentions[0].Context)

	relations, err := store.ListRelations(ctx)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, mesh.Id, relations[0].ToId)
	assert.Equal(t, "part_of", relations[0].Type)
	assert.Equal(t, ChunkStrength, relations[0].Strength)
	assert.Equal(t, src.Id, relations[0].SourceId)
}

func TestMerger_SameConceptAcrossChunks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, chunks := ingestClaimed(t, store, "a.md", "team topologies one", "Team Topologies two")
	merger, err := NewMerger(store, nil)
	require.NoError(t, err)

	for _, c := range chunks {
		ex := &ai.Extraction{Concepts: []ai.ExtractedConcept{concept("Team  Topologies", "methodology", "")}}
		ex.Sanitize()
		_, err := merger.Merge(ctx, testOwner, c, ex)
		require.NoError(t, err)
	}

	concepts, err := store.ListConcepts(ctx)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	mentions, err := store.MentionsForConcept(ctx, concepts[0].Id)
	require.NoError(t, err)
	assert.Len(t, mentions, 2)
}

func TestMerger_RelationToConceptFromEarlierChunk(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, chunks := ingestClaimed(t, store, "a.md", "first", "second")
	merger, err := NewMerger(store, nil)
	require.NoError(t, err)

	_, err = merger.Merge(ctx, testOwner, chunks[0], &ai.Extraction{
		Concepts: []ai.ExtractedConcept{concept("platform team", "role", "")},
	})
	require.NoError(t, err)

	result, err := merger.Merge(ctx, testOwner, chunks[1], &ai.Extraction{
		Concepts:      []ai.ExtractedConcept{concept("stream-aligned team", "role", "")},
		Relationships: []ai.ExtractedRelationship{relationship("stream-aligned team", "requires", "platform team")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Relations)
}

func TestMerger_ClaimLostWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, chunks := ingestClaimed(t, store, "a.md", "text")
	merger, err := NewMerger(store, nil)
	require.NoError(t, err)

	_, err = merger.Merge(ctx, "someone-else", chunks[0], &ai.Extraction{
		Concepts: []ai.ExtractedConcept{concept("orphan", "pattern", "")},
	})
	assert.ErrorIs(t, err, storage.ErrClaimLost)

	concepts, err := store.ListConcepts(ctx)
	require.NoError(t, err)
	assert.Empty(t, concepts)

	chunk, err := store.GetChunk(ctx, chunks[0].Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInProgress, chunk.ConceptStatus)
}

func TestMerger_EmptyExtraction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, chunks := ingestClaimed(t, store, "a.md", "nothing here")
	merger, err := NewMerger(store, nil)
	require.NoError(t, err)

	result, err := merger.Merge(ctx, testOwner, chunks[0], nil)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{}, result)

	chunk, err := store.GetChunk(ctx, chunks[0].Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExtracted, chunk.ConceptStatus)
}

func TestMentionContext(t *testing.T) {
	long := strings.Repeat("a", 150) + "Data Mesh" + strings.Repeat("b", 150)

	tests := []struct {
		name  string
		text  string
		term  string
		width int
		want  string
	}{
		{name: "short text returned whole", text: "short data mesh text", term: "data mesh", width: 200, want: "short data mesh text"},
		{name: "centred on match", text: long, term: "data mesh", width: 19, want: "aaaaaData Meshbbbbb"},
		{name: "missing term uses start", text: long, term: "zzz", width: 5, want: "aaaaa"},
		{name: "match near end clamps", text: "xxxxxxxxxxEND", term: "end", width: 5, want: "xxEND"},
		{name: "match near start clamps", text: "ENDxxxxxxxxxx", term: "end", width: 5, want: "ENDxx"},
		{name: "multibyte runes", text: "ééééésemanticééééé", term: "SEMANTIC", width: 10, want: "ésemanticé"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MentionContext(tt.text, tt.term, tt.width))
		})
	}
}
