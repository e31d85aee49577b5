package ai_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]float32
}

func (m *mapCache) Get(model, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[model+"\x00"+text]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *mapCache) Put(model, text string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[model+"\x00"+text] = vector
	return nil
}

func TestCachedEmbedder_ServesHitsFromCache(t *testing.T) {
	ctx := context.Background()
	inner := mock.NewMockEmbedder()
	cache := &mapCache{entries: make(map[string][]float32)}
	embedder := ai.NewCachedEmbedder(inner, cache, nil)

	first, err := embedder.EmbedTexts(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.CallCount())

	second, err := embedder.EmbedTexts(ctx, []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.CallCount(), "only gamma is embedded")
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, inner.Texts())

	single, err := embedder.EmbedText(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, second[1], single)
	assert.Equal(t, 3, inner.CallCount())
	assert.Equal(t, inner.Model(), embedder.Model())
}

func TestCachedEmbedder_KeysByModel(t *testing.T) {
	ctx := context.Background()
	cache := &mapCache{entries: make(map[string][]float32)}

	a := mock.NewMockEmbedder()
	_, err := ai.NewCachedEmbedder(a, cache, nil).EmbedText(ctx, "same text")
	require.NoError(t, err)

	b := mock.NewMockEmbedder()
	b.ModelName = "other-model"
	_, err = ai.NewCachedEmbedder(b, cache, nil).EmbedText(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, 1, b.CallCount())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := mock.NewMockEmbedder()
	inner.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, ai.ErrInputTooLong
	}
	cache := &mapCache{entries: make(map[string][]float32)}
	embedder := ai.NewCachedEmbedder(inner, cache, nil)

	_, err := embedder.EmbedText(ctx, "huge")
	assert.ErrorIs(t, err, ai.ErrInputTooLong)
	assert.Empty(t, cache.entries)
}
