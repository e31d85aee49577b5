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

package folio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/openai"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/intake"
	"github.com/poiesic/folio/objectstore"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/storage/sqlstore"
	"github.com/poiesic/folio/worker"
)

// Folio wires the document store, the embedding cache and the AI provider
// together and hands out the pipeline stages built on them.
type Folio struct {
	store    storage.Store
	cache    *badger.Cache
	provider ai.AIProvider
	embedder ai.Embedder
	logger   *slog.Logger
}

// Option configures a Folio.
type Option func(*options)

type options struct {
	storeConfig sqlstore.Config
	aiConfig    *ai.Config
	provider    ai.AIProvider
	cacheDir    string
	cacheTTL    time.Duration
	useCache    bool
	logger      *slog.Logger
}

// WithStoreConfig sets the document store configuration.
// Default is SQLite at folio.db.
func WithStoreConfig(cfg sqlstore.Config) Option {
	return func(o *options) {
		o.storeConfig = cfg
	}
}

// WithAIConfig sets the configuration of the OpenAI-compatible provider.
// Default is ai.DefaultConfig().
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *options) {
		o.aiConfig = cfg
	}
}

// WithProvider uses provider instead of building an OpenAI-compatible one.
// Folio closes it on Close.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithEmbeddingCache caches embeddings in a BadgerDB at dir. An empty dir
// keeps the cache in memory.
func WithEmbeddingCache(dir string, ttl time.Duration) Option {
	return func(o *options) {
		o.useCache = true
		o.cacheDir = dir
		o.cacheTTL = ttl
	}
}

// WithLogger sets the logger passed to every component.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open connects the document store, applying migrations, and prepares the
// AI provider.
func Open(ctx context.Context, opts ...Option) (*Folio, error) {
	o := &options{
		storeConfig: sqlstore.Config{Dialect: sqlstore.DialectSQLite, DSN: "folio.db"},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.storeConfig.Logger == nil {
		o.storeConfig.Logger = o.logger
	}

	store, err := sqlstore.Open(ctx, o.storeConfig)
	if err != nil {
		return nil, err
	}

	provider := o.provider
	if provider == nil {
		cfg := o.aiConfig
		if cfg == nil {
			cfg = ai.DefaultConfig()
		}
		if provider, err = openai.NewProvider(cfg); err != nil {
			store.Close()
			return nil, err
		}
	}

	f := &Folio{
		store:    store,
		provider: provider,
		embedder: provider.Embedder(),
		logger:   o.logger,
	}
	if o.useCache {
		cache, err := badger.Open(o.cacheDir, badger.WithTTL(o.cacheTTL), badger.WithLogger(o.logger))
		if err != nil {
			provider.Close()
			store.Close()
			return nil, err
		}
		f.cache = cache
		f.embedder = ai.NewCachedEmbedder(f.embedder, cache, o.logger)
	}
	return f, nil
}

// Close releases the provider, the cache and the store. It returns every
// error encountered.
func (f *Folio) Close() error {
	var errs []error
	if err := f.provider.Close(); err != nil {
		f.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if f.cache != nil {
		if err := f.cache.Close(); err != nil {
			f.logger.Error("error closing embedding cache", "err", err)
			errs = append(errs, err)
		}
	}
	if err := f.store.Close(); err != nil {
		f.logger.Error("error closing document store", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Store returns the document store.
func (f *Folio) Store() storage.Store {
	return f.store
}

// Embedder returns the embedder used by the pipeline, cached when an
// embedding cache is configured.
func (f *Folio) Embedder() ai.Embedder {
	return f.embedder
}

func (f *Folio) NewIntake(opts ...intake.Option) (*intake.Stage, error) {
	return intake.New(f.store, append([]intake.Option{intake.WithLogger(f.logger)}, opts...)...)
}

// NewPoller creates an intake stage and a poller feeding it from objects.
func (f *Folio) NewPoller(objects objectstore.Store, prefix string, interval time.Duration, opts ...intake.Option) (*intake.Poller, error) {
	stage, err := f.NewIntake(opts...)
	if err != nil {
		return nil, err
	}
	return intake.NewPoller(stage, objects, prefix, interval), nil
}

// NewWorker creates a batch worker. Call Release on it when done.
func (f *Folio) NewWorker(opts ...worker.Option) (*worker.Worker, error) {
	return worker.New(f.store, f.embedder, f.provider.ConceptExtractor(),
		append([]worker.Option{worker.WithLogger(f.logger)}, opts...)...)
}

func (f *Folio) NewPasses(opts ...graph.PassOption) (*graph.Passes, error) {
	return graph.NewPasses(f.store, f.provider.RelationshipFinder(), f.embedder,
		append([]graph.PassOption{graph.WithPassLogger(f.logger)}, opts...)...)
}
