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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/poiesic/folio"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/intake"
	"github.com/poiesic/folio/objectstore"
	"github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/storage/sqlstore"
	"github.com/poiesic/folio/worker"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func storeConfig(c *cli.Context) sqlstore.Config {
	return sqlstore.Config{
		Dialect: sqlstore.Dialect(c.String("db-driver")),
		DSN:     c.String("db-dsn"),
		Logger:  slog.Default(),
	}
}

func aiConfig(c *cli.Context) *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithHost(c.String("ai-host")),
		ai.WithAPIKey(c.String("api-key")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithExtractionModel(c.String("extraction-model")),
	}
	if host := c.String("embedding-host"); host != "" {
		opts = append(opts, ai.WithEmbeddingHost(host))
	}
	if host := c.String("extraction-host"); host != "" {
		opts = append(opts, ai.WithExtractionHost(host))
	}
	retry := ai.DefaultRetryPolicy()
	retry.MaxRetries = c.Int("ai-retries")
	retry.InitialInterval = c.Duration("ai-retry-delay")
	opts = append(opts,
		ai.WithTimeouts(c.Duration("embedding-timeout"), c.Duration("llm-timeout")),
		ai.WithMaxEmbeddingTokens(c.Int("max-embedding-tokens")),
		ai.WithRetryPolicy(retry),
	)
	return ai.NewConfig(opts...)
}

func openFolio(c *cli.Context) (*folio.Folio, error) {
	opts := []folio.Option{
		folio.WithStoreConfig(storeConfig(c)),
		folio.WithAIConfig(aiConfig(c)),
		folio.WithLogger(slog.Default()),
	}
	if dir := c.String("cache-dir"); dir != "" {
		opts = append(opts, folio.WithEmbeddingCache(dir, c.Duration("cache-ttl")))
	}
	f, err := folio.Open(c.Context, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open folio: %w", err)
	}
	return f, nil
}

// openObjects returns the configured object store, or nil when none is set.
func openObjects(c *cli.Context) (objectstore.Store, error) {
	if bucket := c.String("s3-bucket"); bucket != "" {
		return objectstore.NewS3(c.Context, objectstore.S3Config{
			Bucket:    bucket,
			Region:    c.String("s3-region"),
			Endpoint:  c.String("s3-endpoint"),
			AccessKey: c.String("s3-access-key"),
			SecretKey: c.String("s3-secret-key"),
			PathStyle: c.Bool("s3-path-style"),
		})
	}
	if dir := c.String("objects-dir"); dir != "" {
		return objectstore.NewDir(dir)
	}
	return nil, nil
}

func migrateCommand(c *cli.Context) error {
	store, err := sqlstore.Open(c.Context, storeConfig(c))
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer store.Close()

	version, err := sqlstore.SchemaVersion(c.Context, store)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "schema version %d\n", version)
	return nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	stage, err := f.NewIntake(intake.WithParseTimeout(c.Duration("parse-timeout")))
	if err != nil {
		return err
	}

	var rejected int
	for _, path := range c.Args().Slice() {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		src, err := stage.Ingest(c.Context, intake.Upload{Key: path, Content: content})
		switch {
		case errors.Is(err, intake.ErrRejected):
			rejected++
			fmt.Fprintf(c.App.Writer, "%s: %v\n", path, err)
		case err != nil:
			return fmt.Errorf("%s: %w", path, err)
		default:
			fmt.Fprintf(c.App.Writer, "%s: source %d %q (%d %s)\n", path, src.Id, src.Title, src.UnitCount, unitName(src.Type))
		}
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d files rejected", rejected, c.NArg())
	}
	return nil
}

func unitName(t core.DocumentType) string {
	if t == core.DocumentTypePDF {
		return "pages"
	}
	return "sections"
}

func replayCommand(c *cli.Context) error {
	objects, err := openObjects(c)
	if err != nil {
		return err
	}
	if objects == nil {
		return errors.New("an object store is required: set s3-bucket or objects-dir")
	}
	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	stage, err := f.NewIntake()
	if err != nil {
		return err
	}
	key := c.String("key")
	src, err := stage.IngestObject(c.Context, objects, key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	fmt.Fprintf(c.App.Writer, "%s: source %d %q\n", key, src.Id, src.Title)
	return nil
}

func workCommand(c *cli.Context) error {
	cfg := workerConfig(c)
	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := f.NewWorker(worker.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer w.Release()

	ctx, cancel := context.WithTimeout(c.Context, cfg.HardLimit)
	defer cancel()
	summary, err := w.Run(ctx)
	if summary != nil {
		printSummary(c.App.Writer, summary)
	}
	return err
}

func printSummary(out io.Writer, s *worker.RunSummary) {
	if s.Idle() {
		fmt.Fprintf(out, "run %s: nothing to do\n", s.RunID)
		return
	}
	fmt.Fprintf(out, "run %s (%s)\n", s.RunID, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  embedded:            %d (%d failed, %d truncated)\n", s.Embedded, s.EmbeddingFailures, s.Truncated)
	fmt.Fprintf(out, "  extracted:           %d (%d retrying, %d failed)\n", s.Extracted, s.ExtractionRetries, s.ExtractionFailures)
	fmt.Fprintf(out, "  sources completed:   %d\n", s.SourcesCompleted)
	if s.BudgetExceeded {
		fmt.Fprintf(out, "  budget exceeded, %d claims released\n", s.Released)
	}
}

func serveCommand(c *cli.Context) error {
	cfg := workerConfig(c)
	objects, err := openObjects(c)
	if err != nil {
		return err
	}
	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := f.NewWorker(worker.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer w.Release()

	var poller *intake.Poller
	if objects != nil {
		if poller, err = f.NewPoller(objects, c.String("prefix"), c.Duration("poll-interval")); err != nil {
			return err
		}
	} else {
		slog.Info("no object store configured, not polling")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	scheduler := worker.NewScheduler(w, cfg.Interval, cfg.HardLimit,
		worker.WithRunOnStart(), worker.WithSchedulerLogger(slog.Default()))
	g.Go(func() error { return scheduler.Start(ctx) })
	if poller != nil {
		g.Go(func() error { return poller.Run(ctx) })
	}
	return g.Wait()
}

func runPass(c *cli.Context, pass func(context.Context, *graph.Passes) (graph.PassResult, error)) error {
	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	passes, err := f.NewPasses(graph.WithProgress(c.App.ErrWriter))
	if err != nil {
		return err
	}
	result, err := pass(c.Context, passes)
	printPassResult(c.App.Writer, result)
	return err
}

func printPassResult(out io.Writer, r graph.PassResult) {
	if r.DryRun {
		fmt.Fprintln(out, "dry run, nothing written")
	}
	fmt.Fprintf(out, "sources:   %d\n", r.Sources)
	fmt.Fprintf(out, "concepts:  %d\n", r.Concepts)
	if r.Embedded > 0 {
		fmt.Fprintf(out, "embedded:  %d\n", r.Embedded)
	}
	fmt.Fprintf(out, "proposed:  %d\n", r.Proposed)
	fmt.Fprintf(out, "created:   %d\n", r.Created)
	fmt.Fprintf(out, "skipped:   %d\n", r.Skipped)
}

func sourcePassCommand(c *cli.Context) error {
	return runPass(c, func(ctx context.Context, p *graph.Passes) (graph.PassResult, error) {
		return p.SourcePass(ctx)
	})
}

func crossSourcePassCommand(c *cli.Context) error {
	return runPass(c, func(ctx context.Context, p *graph.Passes) (graph.PassResult, error) {
		return p.CrossSourcePass(ctx, c.Bool("dry-run"))
	})
}

func similarityPassCommand(c *cli.Context) error {
	return runPass(c, func(ctx context.Context, p *graph.Passes) (graph.PassResult, error) {
		return p.SimilarityPass(ctx, c.Bool("dry-run"))
	})
}

func openCache(c *cli.Context) (*badger.Cache, error) {
	dir := c.String("cache-dir")
	if dir == "" {
		return nil, errors.New("no embedding cache configured: set cache-dir")
	}
	return badger.Open(dir, badger.WithLogger(slog.Default()))
}

func cacheStatsCommand(c *cli.Context) error {
	cache, err := openCache(c)
	if err != nil {
		return err
	}
	defer cache.Close()

	n, err := cache.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "cached embeddings: %d\n", n)
	return nil
}

func cachePurgeCommand(c *cli.Context) error {
	cache, err := openCache(c)
	if err != nil {
		return err
	}
	defer cache.Close()

	model := c.String("model")
	n, err := cache.Purge(model)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "purged %d embeddings for %s\n", n, model)
	return nil
}

func statusCommand(c *cli.Context) error {
	store, err := sqlstore.Open(c.Context, storeConfig(c))
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer store.Close()
	out := c.App.Writer

	if id := c.Int64("source"); id != 0 {
		src, err := store.GetSource(c.Context, core.ID(id))
		if err != nil {
			return fmt.Errorf("source %d: %w", id, err)
		}
		progress, err := store.SourceProgress(c.Context, src.Id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "source %d %q [%s]\n", src.Id, src.Title, src.Status)
		if src.ErrorMessage != "" {
			fmt.Fprintf(out, "  error: %s\n", src.ErrorMessage)
		}
		fmt.Fprintf(out, "  chunks:     %d\n", progress.Total)
		fmt.Fprintf(out, "  embedding:  %d complete, %d failed, %d pending\n",
			progress.EmbeddingComplete, progress.EmbeddingFailed, progress.EmbeddingPending())
		fmt.Fprintf(out, "  concepts:   %d extracted, %d failed, %d pending\n",
			progress.ConceptExtracted, progress.ConceptFailed, progress.ConceptPending())
		return nil
	}

	stats, err := store.PendingStats(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pending embeddings:          %d\n", stats.PendingEmbeddings)
	fmt.Fprintf(out, "pending concept extraction:  %d\n", stats.PendingConcepts)
	fmt.Fprintf(out, "sources awaiting completion: %d\n", stats.SourcesAwaitingCompletion)

	sources, err := store.ListSources(c.Context, "")
	if err != nil {
		return err
	}
	for _, src := range sources {
		fmt.Fprintf(out, "%6d  %-12s  %s\n", src.Id, src.Status, src.NaturalKey)
	}
	return nil
}
