package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/sqlstore"
	"github.com/stretchr/testify/require"
)

const testOwner = "test-run"

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// ingestClaimed stores a source with one chunk per text, embeds every chunk
// and claims them all for concept extraction under testOwner.
func ingestClaimed(t *testing.T, store storage.Store, key string, texts ...string) (*core.Source, []*core.Chunk) {
	t.Helper()
	ctx := context.Background()

	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &core.Chunk{Position: i, Text: text, StartUnit: 1, EndUnit: 1, CharCount: len(text)}
	}
	src, err := store.ReplaceSource(ctx, &core.Source{
		NaturalKey: key,
		Title:      "Title of " + key,
		Type:       core.DocumentTypeMarkdown,
		UnitCount:  1,
	}, chunks)
	require.NoError(t, err)

	claimed, err := store.ClaimEmbeddingBatch(ctx, testOwner, len(texts))
	require.NoError(t, err)
	for _, c := range claimed {
		require.NoError(t, store.CompleteEmbedding(ctx, testOwner, c.Id, []float32{1, 0}))
	}
	claimed, err = store.ClaimConceptBatch(ctx, testOwner, len(texts))
	require.NoError(t, err)
	require.Len(t, claimed, len(texts))
	return src, claimed
}

// completeSource merges one extraction per chunk and completes the source.
func completeSource(t *testing.T, store storage.Store, key string, extractions map[string]*ai.Extraction) *core.Source {
	t.Helper()
	ctx := context.Background()

	texts := make([]string, 0, len(extractions))
	for text := range extractions {
		texts = append(texts, text)
	}
	src, chunks := ingestClaimed(t, store, key, texts...)

	merger, err := NewMerger(store, nil)
	require.NoError(t, err)
	for _, c := range chunks {
		ex := *extractions[c.Text]
		ex.Sanitize()
		_, err := merger.Merge(ctx, testOwner, c, &ex)
		require.NoError(t, err)
	}

	ok, err := store.CompleteSource(ctx, src.Id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.RefreshCovers(ctx, src.Id))
	return src
}

func concept(name, category, description string) ai.ExtractedConcept {
	return ai.ExtractedConcept{Name: name, Category: category, Description: description}
}

func relationship(from, typ, to string) ai.ExtractedRelationship {
	return ai.ExtractedRelationship{From: from, To: to, Type: typ}
}
