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
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/storage"
)

var (
	// ErrStoreRequired is returned when a document store is not provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrExtractorRequired is returned when a concept extractor is not provided.
	ErrExtractorRequired = errors.New("concept extractor required")

	// ErrInvalidConfig is returned when the worker configuration is invalid.
	ErrInvalidConfig = errors.New("invalid worker configuration")
)

// RunSummary reports what one Run did.
type RunSummary struct {
	RunID              string
	Embedded           int
	EmbeddingFailures  int
	Truncated          int
	Extracted          int
	ExtractionRetries  int // failed attempts returned to PENDING
	ExtractionFailures int // chunks that reached the attempt ceiling
	SourcesCompleted   int
	Released           int // claims returned to PENDING at the end of the run
	BudgetExceeded     bool
	Elapsed            time.Duration
	// Errors joins the per-chunk failures of the run. They never fail the run.
	Errors error
}

// Idle reports whether the run found nothing to do.
func (s *RunSummary) Idle() bool {
	return s.Embedded == 0 && s.EmbeddingFailures == 0 && s.Extracted == 0 &&
		s.ExtractionRetries == 0 && s.ExtractionFailures == 0 && s.SourcesCompleted == 0
}

// Worker is the Batch Worker.
type Worker struct {
	store     storage.Store
	embedder  ai.Embedder
	extractor ai.ConceptExtractor
	merger    *graph.Merger
	truncator *ai.Truncator

	embeddingPool  *ants.Pool
	extractionPool *ants.Pool

	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(w *Worker) { w.config = cfg }
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTruncator sets the tokenizer used to shorten over-long embedding input.
// Default is a cl100k_base truncator.
func WithTruncator(t *ai.Truncator) Option {
	return func(w *Worker) {
		if t != nil {
			w.truncator = t
		}
	}
}

// New creates a Batch Worker.
func New(store storage.Store, embedder ai.Embedder, extractor ai.ConceptExtractor, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}

	w := &Worker{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		truncator: ai.NewTruncator(ai.DefaultEncoding),
		config:    DefaultConfig(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.config.Validate(); err != nil {
		return nil, err
	}
	w.logger = w.logger.With("component", "worker")

	merger, err := graph.NewMerger(store, w.logger)
	if err != nil {
		return nil, err
	}
	w.merger = merger

	if w.embeddingPool, err = ants.NewPool(w.config.EmbeddingConcurrency); err != nil {
		return nil, err
	}
	if w.extractionPool, err = ants.NewPool(w.config.ExtractionConcurrency); err != nil {
		w.embeddingPool.Release()
		return nil, err
	}
	return w, nil
}

// Release releases the worker pools.
// The worker should not be used after calling Release.
func (w *Worker) Release() {
	if w.embeddingPool != nil {
		w.embeddingPool.Release()
	}
	if w.extractionPool != nil {
		w.extractionPool.Release()
	}
}

// Config returns the configuration in effect.
func (w *Worker) Config() Config {
	return w.config
}

// run is the state of one invocation.
type run struct {
	id      string
	start   time.Time
	logger  *slog.Logger
	summary *RunSummary
	errs    []error

	// exceeded is read by dispatch goroutines.
	exceeded atomic.Bool
}

func (r *run) fail(chunk *core.Chunk, stage string, err error) {
	r.errs = append(r.errs, fmt.Errorf("chunk %d (source %d) %s: %w", chunk.Id, chunk.SourceId, stage, err))
}

// Run performs one invocation: embed a batch, extract a batch, complete
// finished sources. It returns early when there is no pending work. Per-chunk
// failures are recorded on the chunks and joined into RunSummary.Errors;
// the returned error reports only store failures that stopped the run.
func (w *Worker) Run(ctx context.Context) (*RunSummary, error) {
	r := &run{id: ulid.Make().String(), start: w.now()}
	r.logger = w.logger.With("run_id", r.id)
	r.summary = &RunSummary{RunID: r.id}

	stats, err := w.store.PendingStats(ctx)
	if err != nil {
		return r.summary, fmt.Errorf("pending stats: %w", err)
	}
	if stats.Empty() {
		r.logger.Debug("no pending work")
		return r.summary, nil
	}
	r.logger.Info("worker run starting",
		"pending_embeddings", stats.PendingEmbeddings,
		"pending_concepts", stats.PendingConcepts,
		"sources_awaiting_completion", stats.SourcesAwaitingCompletion)

	runErr := w.runStages(ctx, r)

	// Claims not processed this run go back to PENDING for the next one.
	released, err := w.store.ReleaseClaims(context.WithoutCancel(ctx), r.id)
	if err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("release claims: %w", err))
	}
	r.summary.Released = released
	r.summary.BudgetExceeded = r.exceeded.Load()

	r.summary.Elapsed = w.now().Sub(r.start)
	r.summary.Errors = errors.Join(r.errs...)
	r.logger.Info("worker run complete",
		"embedded", r.summary.Embedded,
		"embedding_failures", r.summary.EmbeddingFailures,
		"truncated", r.summary.Truncated,
		"extracted", r.summary.Extracted,
		"extraction_retries", r.summary.ExtractionRetries,
		"extraction_failures", r.summary.ExtractionFailures,
		"sources_completed", r.summary.SourcesCompleted,
		"released", r.summary.Released,
		"budget_exceeded", r.summary.BudgetExceeded,
		"elapsed", r.summary.Elapsed)
	if r.summary.Errors != nil {
		r.logger.Warn("chunk failures during run", "err", r.summary.Errors)
	}
	return r.summary, runErr
}

func (w *Worker) runStages(ctx context.Context, r *run) error {
	if err := w.embedBatch(ctx, r); err != nil {
		return err
	}
	if !w.overBudget(r) {
		if err := w.extractBatch(ctx, r); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return w.completeSources(ctx, r)
}

// overBudget reports whether the soft budget is spent. Once spent it stays
// spent for the rest of the run.
func (w *Worker) overBudget(r *run) bool {
	if r.exceeded.Load() {
		return true
	}
	if w.now().Sub(r.start) < w.config.SoftBudget {
		return false
	}
	if r.exceeded.CompareAndSwap(false, true) {
		r.logger.Warn("soft budget exceeded, starting no new work", "budget", w.config.SoftBudget)
	}
	return true
}

// completeSources marks every PARSED source whose chunks are all terminal as
// COMPLETE and computes its covers aggregates.
func (w *Worker) completeSources(ctx context.Context, r *run) error {
	ids, err := w.store.SourcesAwaitingCompletion(ctx)
	if err != nil {
		return fmt.Errorf("sources awaiting completion: %w", err)
	}

	for _, id := range ids {
		var completed bool
		err := w.store.WithTransaction(ctx, func(ctx context.Context) error {
			ok, err := w.store.CompleteSource(ctx, id)
			if err != nil || !ok {
				return err
			}
			completed = true
			return w.store.RefreshCovers(ctx, id)
		})
		if err != nil {
			return fmt.Errorf("complete source %d: %w", id, err)
		}
		if !completed {
			continue
		}
		r.summary.SourcesCompleted++

		progress, err := w.store.SourceProgress(ctx, id)
		if err != nil {
			return fmt.Errorf("source progress %d: %w", id, err)
		}
		logger := r.logger.With("source_id", id, "chunks", progress.Total)
		if progress.EmbeddingFailed > 0 || progress.ConceptFailed > 0 {
			logger.Warn("source complete with failed chunks excluded",
				"embedding_failed", progress.EmbeddingFailed,
				"concept_failed", progress.ConceptFailed)
		} else {
			logger.Info("source complete")
		}
	}
	return nil
}
