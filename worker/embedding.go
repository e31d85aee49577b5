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

package worker

import (
	"context"
	"errors"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// embedResult is the outcome of embedding one chunk.
type embedResult struct {
	chunk     *core.Chunk
	vector    []float32
	truncated bool
	err       error
}

// embedBatch claims chunks awaiting embedding, embeds them concurrently and
// writes each result as it arrives.
func (w *Worker) embedBatch(ctx context.Context, r *run) error {
	chunks, err := w.store.ClaimEmbeddingBatch(ctx, r.id, w.config.EmbeddingBatchSize)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	logger := r.logger.With("stage", "embedding")
	logger.Info("embedding chunks", "chunks", len(chunks))

	dctx, cancel := context.WithCancel(ctx)
	results := dispatch(dctx, w.embeddingPool, chunks, func() bool { return w.overBudget(r) }, w.embed)
	defer drain(cancel, results)
	for res := range results {
		if res.err != nil && ctx.Err() != nil {
			// Interrupted, not failed: the claim is released for the next run.
			continue
		}
		if res.err != nil {
			r.fail(res.chunk, "embedding", res.err)
			r.summary.EmbeddingFailures++
			logger.Warn("embedding failed", "chunk_id", res.chunk.Id, "err", res.err)
			if err := w.store.FailEmbedding(ctx, r.id, res.chunk.Id, res.err.Error()); err != nil {
				if !errors.Is(err, storage.ErrClaimLost) {
					return err
				}
				logger.Warn("claim lost", "chunk_id", res.chunk.Id)
			}
			continue
		}

		if err := w.store.CompleteEmbedding(ctx, r.id, res.chunk.Id, res.vector); err != nil {
			if !errors.Is(err, storage.ErrClaimLost) {
				return err
			}
			logger.Warn("claim lost", "chunk_id", res.chunk.Id)
			continue
		}
		r.summary.Embedded++
		if res.truncated {
			r.summary.Truncated++
		}
	}
	return nil
}

// embed calls the embedder for one chunk. Text rejected as too long is
// truncated to the token bound and retried once.
func (w *Worker) embed(ctx context.Context, chunk *core.Chunk) embedResult {
	res := embedResult{chunk: chunk}
	res.vector, res.err = w.embedder.EmbedText(ctx, chunk.Text)
	if errors.Is(res.err, ai.ErrInputTooLong) {
		res.truncated = true
		res.vector, res.err = w.embedder.EmbedText(ctx, w.truncator.Truncate(chunk.Text, w.config.MaxEmbeddingTokens))
	}
	if res.err == nil && len(res.vector) == 0 {
		res.err = ai.ErrEmptyResponse
	}
	return res
}
