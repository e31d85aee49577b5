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

package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// ErrFinderRequired is returned when a pass needs a RelationshipFinder and
// none was provided.
var ErrFinderRequired = errors.New("relationship finder required")

// ErrEmbedderRequired is returned when the similarity pass has no Embedder.
var ErrEmbedderRequired = errors.New("embedder required")

// Config tunes the graph passes.
type Config struct {
	// SourceLimit caps the sources handled by one source pass.
	SourceLimit int
	// CrossSourceBatch is the number of concepts sent per cross-source request.
	CrossSourceBatch int
	// MinSources is how many sources must cover a concept for the
	// cross-source pass to consider it.
	MinSources int
	// EmbedBatch is the number of concepts embedded per request.
	EmbedBatch int
	// SimilarityThreshold is the minimum cosine score for a similar_to edge.
	SimilarityThreshold float64
}

// DefaultConfig returns the default pass configuration.
func DefaultConfig() Config {
	return Config{
		SourceLimit:         50,
		CrossSourceBatch:    100,
		MinSources:          2,
		EmbedBatch:          100,
		SimilarityThreshold: 0.85,
	}
}

// Validate checks that every field is in range.
func (c Config) Validate() error {
	switch {
	case c.SourceLimit < 1:
		return fmt.Errorf("source limit must be positive, got %d", c.SourceLimit)
	case c.CrossSourceBatch < 2:
		return fmt.Errorf("cross-source batch must be at least 2, got %d", c.CrossSourceBatch)
	case c.MinSources < 2:
		return fmt.Errorf("min sources must be at least 2, got %d", c.MinSources)
	case c.EmbedBatch < 1:
		return fmt.Errorf("embed batch must be positive, got %d", c.EmbedBatch)
	case c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1:
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	return nil
}

// PassResult summarizes one pass. In a dry run Created counts the edges
// that would have been written.
type PassResult struct {
	Sources  int // sources processed (source pass)
	Concepts int // concepts considered
	Embedded int // concepts embedded (similarity pass)
	Proposed int // relationships proposed by the model or pairs over threshold
	Created  int // new related_to edges
	Skipped  int // proposals naming unknown concepts or already linked pairs
	DryRun   bool
}

// Passes runs the post-completion graph passes.
type Passes struct {
	store    storage.Store
	finder   ai.RelationshipFinder
	embedder ai.Embedder
	config   Config
	progress io.Writer
	logger   *slog.Logger
	now      func() time.Time
}

// PassOption configures Passes.
type PassOption func(*Passes)

// WithPassConfig replaces the default configuration.
func WithPassConfig(cfg Config) PassOption {
	return func(p *Passes) { p.config = cfg }
}

// WithProgress reports long-running pass progress to w.
func WithProgress(w io.Writer) PassOption {
	return func(p *Passes) { p.progress = w }
}

// WithPassLogger sets a custom logger.
// Default is slog.Default().
func WithPassLogger(logger *slog.Logger) PassOption {
	return func(p *Passes) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPasses creates the graph passes. finder may be nil when only the
// similarity pass is used; embedder may be nil when it is not.
func NewPasses(store storage.Store, finder ai.RelationshipFinder, embedder ai.Embedder, opts ...PassOption) (*Passes, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	p := &Passes{
		store:    store,
		finder:   finder,
		embedder: embedder,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.config.Validate(); err != nil {
		return nil, err
	}
	p.logger = p.logger.With("component", "graph-passes")
	return p, nil
}

func summarize(concepts []*core.Concept) []ai.ConceptSummary {
	out := make([]ai.ConceptSummary, len(concepts))
	for i, c := range concepts {
		out[i] = ai.ConceptSummary{Name: c.Name, Category: c.Category, Description: c.Description}
	}
	return out
}

// SourcePass finds relationships among the concepts of each COMPLETE source
// that has not had the pass yet. Each source's relations, covers refresh and
// pass timestamp commit together. A source whose model call fails is left
// for the next run; its error is returned joined with the others.
func (p *Passes) SourcePass(ctx context.Context) (PassResult, error) {
	var result PassResult
	if p.finder == nil {
		return result, ErrFinderRequired
	}

	sources, err := p.store.SourcesPendingGraphPass(ctx, p.config.SourceLimit)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := p.sourcePass(ctx, src, &result); err != nil {
			p.logger.Error("error in source pass", "source_id", src.Id, "err", err)
			errs = append(errs, fmt.Errorf("source %d: %w", src.Id, err))
			continue
		}
		result.Sources++
	}

	p.logger.Info("source pass complete",
		"sources", result.Sources,
		"concepts", result.Concepts,
		"proposed", result.Proposed,
		"created", result.Created,
		"failed", len(errs))
	return result, errors.Join(errs...)
}

func (p *Passes) sourcePass(ctx context.Context, src *core.Source, result *PassResult) error {
	concepts, err := p.store.ConceptsForSource(ctx, src.Id)
	if err != nil {
		return err
	}
	result.Concepts += len(concepts)

	var rels []ai.ExtractedRelationship
	if len(concepts) >= 2 {
		rels, err = p.finder.FindSourceRelationships(ctx, summarize(concepts))
		if err != nil {
			return err
		}
	} else {
		p.logger.Info("skipping relationship request, fewer than 2 concepts",
			"source_id", src.Id, "concepts", len(concepts))
	}
	result.Proposed += len(rels)

	known := make(map[string]core.ID, len(concepts))
	for _, c := range concepts {
		known[c.Name] = c.Id
	}

	return p.store.WithTransaction(ctx, func(ctx context.Context) error {
		created, skipped := 0, 0
		for _, rel := range rels {
			ok, resolved, err := addRelation(ctx, p.store, known, rel, SourceStrength, src.Id)
			if err != nil {
				return err
			}
			switch {
			case !resolved:
				skipped++
			case ok:
				created++
			}
		}
		if err := p.store.RefreshCovers(ctx, src.Id); err != nil {
			return err
		}
		if err := p.store.MarkGraphPass(ctx, src.Id, p.now()); err != nil {
			return err
		}
		result.Created += created
		result.Skipped += skipped
		p.logger.Debug("source relationships created", "source_id", src.Id, "created", created)
		return nil
	})
}

// CrossSourcePass finds relationships among concepts covered by at least
// MinSources sources. Edges carry no originating source. With dryRun nothing
// is written and Created counts the edges that would be new.
func (p *Passes) CrossSourcePass(ctx context.Context, dryRun bool) (PassResult, error) {
	result := PassResult{DryRun: dryRun}
	if p.finder == nil {
		return result, ErrFinderRequired
	}

	shared, err := p.store.SharedConcepts(ctx, p.config.MinSources)
	if err != nil {
		return result, err
	}
	result.Concepts = len(shared)
	if len(shared) < 2 {
		p.logger.Info("not enough shared concepts for a cross-source pass", "concepts", len(shared))
		return result, nil
	}

	summaries := make([]ai.ConceptSummary, len(shared))
	for i, s := range shared {
		summaries[i] = ai.ConceptSummary{
			Name:        s.Concept.Name,
			Category:    s.Concept.Category,
			Description: s.Concept.Description,
			Sources:     s.SourceTitles,
		}
	}

	existing, err := p.existingEdges(ctx, false)
	if err != nil {
		return result, err
	}

	progress := newProgressTracker(p.progress, "Cross-source batches", len(summaries), p.config.CrossSourceBatch)
	defer progress.Finish()

	var errs []error
	for batch := range slices.Chunk(summaries, p.config.CrossSourceBatch) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		progress.Increment(len(batch))
		if len(batch) < 2 {
			continue
		}

		rels, err := p.finder.FindCrossSourceRelationships(ctx, batch)
		if err != nil {
			p.logger.Error("error finding cross-source relationships", "batch_size", len(batch), "err", err)
			errs = append(errs, err)
			continue
		}
		result.Proposed += len(rels)

		for _, rel := range rels {
			if dryRun {
				if p.wouldCreate(ctx, rel, existing, &result) {
					p.logger.Info("would create relationship", "from", rel.From, "type", rel.Type, "to", rel.To)
				}
				continue
			}
			created, resolved, err := addRelation(ctx, p.store, nil, rel, CrossSourceStrength, 0)
			if err != nil {
				return result, err
			}
			switch {
			case !resolved:
				result.Skipped++
			case created:
				result.Created++
			}
		}
	}

	p.logger.Info("cross-source pass complete",
		"concepts", result.Concepts,
		"proposed", result.Proposed,
		"created", result.Created,
		"dry_run", dryRun)
	return result, errors.Join(errs...)
}

// wouldCreate reports whether rel resolves to an edge that does not exist
// yet, recording it in existing so duplicates within a run count once.
func (p *Passes) wouldCreate(ctx context.Context, rel ai.ExtractedRelationship, existing map[edgeKey]bool, result *PassResult) bool {
	from, okFrom, errFrom := resolve(ctx, p.store, nil, rel.From)
	to, okTo, errTo := resolve(ctx, p.store, nil, rel.To)
	if errFrom != nil || errTo != nil || !okFrom || !okTo {
		result.Skipped++
		return false
	}
	key := edgeKey{from: from, to: to, typ: rel.Type}
	if existing[key] {
		return false
	}
	existing[key] = true
	result.Created++
	return true
}

// edgeKey identifies a related_to edge. Undirected keys use the smaller id
// as from and an empty type.
type edgeKey struct {
	from, to core.ID
	typ      string
}

func undirected(a, b core.ID) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{from: a, to: b}
}

func (p *Passes) existingEdges(ctx context.Context, unordered bool) (map[edgeKey]bool, error) {
	relations, err := p.store.ListRelations(ctx)
	if err != nil {
		return nil, err
	}
	edges := make(map[edgeKey]bool, len(relations))
	for _, r := range relations {
		if unordered {
			edges[undirected(r.FromId, r.ToId)] = true
		} else {
			edges[edgeKey{from: r.FromId, to: r.ToId, typ: r.Type}] = true
		}
	}
	return edges, nil
}

// similarPair is two concepts whose embeddings are close.
type similarPair struct {
	a, b  *core.Concept
	score float64
}

// SimilarityPass embeds concepts that have no vector, embedding
// "name: description", then links every pair of concepts scoring at least
// SimilarityThreshold with a similar_to edge from the lower to the higher
// id. Pairs already linked in either direction by any relation are skipped.
// With dryRun no vectors or edges are written.
func (p *Passes) SimilarityPass(ctx context.Context, dryRun bool) (PassResult, error) {
	result := PassResult{DryRun: dryRun}
	if p.embedder == nil {
		return result, ErrEmbedderRequired
	}

	embedded, err := p.embedConcepts(ctx, dryRun)
	if err != nil {
		return result, err
	}
	result.Embedded = len(embedded)

	concepts, err := p.store.ListConcepts(ctx)
	if err != nil {
		return result, err
	}
	var withVectors []*core.Concept
	for _, c := range concepts {
		if v, ok := embedded[c.Id]; ok {
			c.Vector = v
		}
		if len(c.Vector) > 0 {
			withVectors = append(withVectors, c)
		}
	}
	result.Concepts = len(withVectors)

	pairs := p.similarPairs(withVectors)
	result.Proposed = len(pairs)

	existing, err := p.existingEdges(ctx, true)
	if err != nil {
		return result, err
	}

	write := func(ctx context.Context) error {
		for _, pair := range pairs {
			key := undirected(pair.a.Id, pair.b.Id)
			if existing[key] {
				result.Skipped++
				continue
			}
			existing[key] = true
			if dryRun {
				p.logger.Info("would create similar_to",
					"from", pair.a.Name, "to", pair.b.Name, "score", pair.score)
				result.Created++
				continue
			}
			created, err := p.store.AddRelation(ctx, core.Relation{
				FromId:   pair.a.Id,
				ToId:     pair.b.Id,
				Type:     "similar_to",
				Strength: pair.score,
			})
			if err != nil {
				return err
			}
			if created {
				result.Created++
			}
		}
		return nil
	}
	if dryRun {
		err = write(ctx)
	} else {
		err = p.store.WithTransaction(ctx, write)
	}
	if err != nil {
		return result, err
	}

	p.logger.Info("similarity pass complete",
		"embedded", result.Embedded,
		"concepts", result.Concepts,
		"pairs", result.Proposed,
		"created", result.Created,
		"dry_run", dryRun)
	return result, nil
}

// embedConcepts embeds every concept lacking a vector and returns the new
// vectors by concept id, normalized to unit length.
func (p *Passes) embedConcepts(ctx context.Context, dryRun bool) (map[core.ID][]float32, error) {
	missing, err := p.store.ConceptsWithoutEmbedding(ctx, 0)
	if err != nil {
		return nil, err
	}
	vectors := make(map[core.ID][]float32, len(missing))
	if len(missing) == 0 {
		return vectors, nil
	}

	progress := newProgressTracker(p.progress, "Embedding concepts", len(missing), p.config.EmbedBatch)
	defer progress.Finish()

	for batch := range slices.Chunk(missing, p.config.EmbedBatch) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = conceptText(c)
		}
		embeddings, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed concepts: %w", err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(embeddings))
		}
		for i, c := range batch {
			v := NormalizeVector(embeddings[i])
			vectors[c.Id] = v
			if dryRun {
				continue
			}
			if err := p.store.SetConceptEmbedding(ctx, c.Id, v); err != nil {
				return nil, err
			}
		}
		progress.Increment(len(batch))
	}
	return vectors, nil
}

// similarPairs compares every pair once, in id order, and returns those at
// or above the threshold, best first.
func (p *Passes) similarPairs(concepts []*core.Concept) []similarPair {
	slices.SortFunc(concepts, func(a, b *core.Concept) int { return int(a.Id - b.Id) })

	var pairs []similarPair
	for i, a := range concepts {
		for _, b := range concepts[i+1:] {
			if score := CosineSimilarity(a.Vector, b.Vector); score >= p.config.SimilarityThreshold {
				pairs = append(pairs, similarPair{a: a, b: b, score: score})
			}
		}
	}
	slices.SortStableFunc(pairs, func(x, y similarPair) int {
		switch {
		case x.score > y.score:
			return -1
		case x.score < y.score:
			return 1
		}
		return 0
	})
	return pairs
}

func conceptText(c *core.Concept) string {
	if c.Description == "" {
		return c.Name
	}
	return c.Name + ": " + c.Description
}
