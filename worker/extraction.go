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
	"fmt"
	"log/slog"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// extractResult is the outcome of extracting concepts from one chunk.
type extractResult struct {
	chunk      *core.Chunk
	extraction *ai.Extraction
	err        error
}

// extractBatch claims embedded chunks awaiting concept extraction, calls the
// extractor concurrently and merges each result into the graph from this
// goroutine only.
func (w *Worker) extractBatch(ctx context.Context, r *run) error {
	chunks, err := w.store.ClaimConceptBatch(ctx, r.id, w.config.ConceptBatchSize)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	logger := r.logger.With("stage", "concepts")
	logger.Info("extracting concepts", "chunks", len(chunks))

	dctx, cancel := context.WithCancel(ctx)
	results := dispatch(dctx, w.extractionPool, chunks, func() bool { return w.overBudget(r) }, w.extract)
	defer drain(cancel, results)
	for res := range results {
		if res.err != nil && ctx.Err() != nil {
			continue
		}

		if res.err == nil {
			merged, err := w.merger.Merge(ctx, r.id, res.chunk, res.extraction)
			switch {
			case err == nil:
				r.summary.Extracted++
				logger.Debug("chunk extracted",
					"chunk_id", res.chunk.Id,
					"concepts", merged.Concepts,
					"relations", merged.Relations)
				continue
			case errors.Is(err, storage.ErrClaimLost):
				logger.Warn("claim lost", "chunk_id", res.chunk.Id)
				continue
			case ctx.Err() != nil:
				continue
			}
			res.err = fmt.Errorf("merge: %w", err)
		}

		if err := w.failExtraction(ctx, r, res, logger); err != nil {
			return err
		}
	}
	return nil
}

// failExtraction records a failed attempt. The chunk returns to PENDING
// until it reaches the attempt ceiling.
func (w *Worker) failExtraction(ctx context.Context, r *run, res extractResult, logger *slog.Logger) error {
	r.fail(res.chunk, "extraction", res.err)
	status, err := w.store.FailExtraction(ctx, r.id, res.chunk.Id, res.err.Error(), w.config.MaxExtractionAttempts)
	if err != nil {
		if errors.Is(err, storage.ErrClaimLost) {
			logger.Warn("claim lost", "chunk_id", res.chunk.Id)
			return nil
		}
		return err
	}

	if status == core.StatusFailed {
		r.summary.ExtractionFailures++
		logger.Warn("extraction failed permanently",
			"chunk_id", res.chunk.Id,
			"attempts", res.chunk.ExtractionAttempts+1,
			"err", res.err)
		return nil
	}
	r.summary.ExtractionRetries++
	logger.Warn("extraction failed, will retry",
		"chunk_id", res.chunk.Id,
		"attempts", res.chunk.ExtractionAttempts+1,
		"err", res.err)
	return nil
}

func (w *Worker) extract(ctx context.Context, chunk *core.Chunk) extractResult {
	extraction, err := w.extractor.ExtractConcepts(ctx, chunk.Text)
	return extractResult{chunk: chunk, extraction: extraction, err: err}
}
