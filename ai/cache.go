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

package ai

import (
	"context"
	"log/slog"
)

// VectorCache stores embeddings keyed by model and input text.
// Get reports a miss with an error.
type VectorCache interface {
	Get(model, text string) ([]float32, error)
	Put(model, text string, vector []float32) error
}

// CachedEmbedder serves embeddings from a VectorCache and only calls the
// wrapped Embedder for texts it has not seen for the same model.
type CachedEmbedder struct {
	embedder Embedder
	cache    VectorCache
	logger   *slog.Logger
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps embedder with cache. A nil logger uses slog.Default().
func NewCachedEmbedder(embedder Embedder, cache VectorCache, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{embedder: embedder, cache: cache, logger: logger.With("component", "embedding-cache")}
}

// Model implements Embedder.
func (c *CachedEmbedder) Model() string {
	return c.embedder.Model()
}

// EmbedText implements Embedder.
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts implements Embedder. Only cache misses are sent to the wrapped
// embedder, in one batch, and their results are written back to the cache.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	model := c.embedder.Model()
	vectors := make([][]float32, len(texts))

	var (
		missTexts []string
		missIdx   []int
	)
	for i, text := range texts {
		if v, err := c.cache.Get(model, text); err == nil {
			vectors[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		c.logger.Debug("all embeddings served from cache", "texts", len(texts))
		return vectors, nil
	}

	embedded, err := c.embedder.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range embedded {
		vectors[missIdx[j]] = v
		if err := c.cache.Put(model, missTexts[j], v); err != nil {
			c.logger.Warn("error caching embedding", "err", err)
		}
	}
	c.logger.Debug("embedded texts", "texts", len(texts), "cache_hits", len(texts)-len(missTexts))
	return vectors, nil
}
