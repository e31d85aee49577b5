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

package storage

import (
	"context"
	"time"

	"github.com/poiesic/folio/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// WithTransaction executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// Repository calls made with the context passed to fn join the transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// SourceRepository manages sources and their chunk sets.
type SourceRepository interface {
	Repository

	// ReplaceSource atomically deletes any source with the same natural key
	// (cascading to its chunks and edges) and inserts src with chunks.
	// Chunks get src's id, PENDING sub-statuses and a contains edge.
	// Returns the stored source with Id and timestamps populated.
	ReplaceSource(ctx context.Context, src *core.Source, chunks []*core.Chunk) (*core.Source, error)

	// RecordSourceFailure atomically replaces any source with the same natural
	// key by a chunkless PARSE_FAILED record carrying src.ErrorMessage.
	RecordSourceFailure(ctx context.Context, src *core.Source) (*core.Source, error)

	// GetSource retrieves a source by id.
	// Returns ErrNotFound if the source doesn't exist.
	GetSource(ctx context.Context, id core.ID) (*core.Source, error)

	// GetSourceByKey retrieves a source by natural key.
	// Returns ErrNotFound if the source doesn't exist.
	GetSourceByKey(ctx context.Context, naturalKey string) (*core.Source, error)

	// ListSources returns sources ordered by id. An empty status lists all.
	ListSources(ctx context.Context, status core.SourceStatus) ([]*core.Source, error)

	// SourcesAwaitingCompletion returns PARSED sources whose chunks are all
	// terminal on both sub-statuses.
	SourcesAwaitingCompletion(ctx context.Context) ([]core.ID, error)

	// SourceProgress counts a source's chunks by sub-status.
	SourceProgress(ctx context.Context, id core.ID) (*core.SourceProgress, error)

	// CompleteSource moves a PARSED source to COMPLETE. It reports false when
	// the source was not in PARSED.
	CompleteSource(ctx context.Context, id core.ID) (bool, error)

	// SourcesPendingGraphPass returns COMPLETE sources that have not had the
	// source-level graph pass, oldest first.
	SourcesPendingGraphPass(ctx context.Context, limit int) ([]*core.Source, error)

	// MarkGraphPass records when the source-level graph pass ran.
	MarkGraphPass(ctx context.Context, id core.ID, at time.Time) error
}

// ChunkRepository drives the per-chunk stage state machine.
//
// Work is claimed by flipping PENDING (or IN_PROGRESS with an expired lease)
// to IN_PROGRESS under an owner id. Stage completion writes are conditional
// on that ownership and return ErrClaimLost when another owner took over.
type ChunkRepository interface {
	Repository

	// GetChunks returns a source's chunks ordered by position.
	GetChunks(ctx context.Context, sourceID core.ID) ([]*core.Chunk, error)

	// GetChunk retrieves a chunk by id.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// PendingStats counts outstanding work. Claimed chunks count as pending.
	PendingStats(ctx context.Context) (core.PendingStats, error)

	// ClaimEmbeddingBatch claims up to limit chunks awaiting embedding.
	ClaimEmbeddingBatch(ctx context.Context, owner string, limit int) ([]*core.Chunk, error)

	// ClaimConceptBatch claims up to limit chunks whose embedding is
	// COMPLETE and whose concepts await extraction.
	ClaimConceptBatch(ctx context.Context, owner string, limit int) ([]*core.Chunk, error)

	// CompleteEmbedding stores the vector and marks embedding COMPLETE.
	CompleteEmbedding(ctx context.Context, owner string, id core.ID, vector []float32) error

	// FailEmbedding marks embedding FAILED with reason. The chunk's concept
	// stage is marked FAILED too, since extraction requires an embedding.
	FailEmbedding(ctx context.Context, owner string, id core.ID, reason string) error

	// CompleteExtraction increments extraction_attempts and marks the concept
	// stage EXTRACTED.
	CompleteExtraction(ctx context.Context, owner string, id core.ID) error

	// FailExtraction increments extraction_attempts and records reason. The
	// chunk returns to PENDING, or becomes FAILED once attempts reach
	// maxAttempts. Returns the resulting status.
	FailExtraction(ctx context.Context, owner string, id core.ID, reason string, maxAttempts int) (core.StageStatus, error)

	// ReleaseClaims returns owner's unfinished claims to PENDING.
	ReleaseClaims(ctx context.Context, owner string) (int, error)
}

// SharedConcept is a concept covered by more than one source.
type SharedConcept struct {
	Concept      *core.Concept
	SourceTitles []string
}

// GraphRepository manages concepts and edges.
// Concept and edge writes are idempotent and safe under concurrent writers.
type GraphRepository interface {
	Repository

	// UpsertConcept inserts a concept or merges it into the existing concept
	// with the same normalized name. Empty description or category on the
	// existing row are filled; non-empty values are kept.
	UpsertConcept(ctx context.Context, concept *core.Concept) (*core.Concept, error)

	// GetConcept retrieves a concept by id.
	// Returns ErrNotFound if the concept doesn't exist.
	GetConcept(ctx context.Context, id core.ID) (*core.Concept, error)

	// FindConceptByName looks a concept up by name, case-insensitively.
	// Returns ErrNotFound if no concept matches.
	FindConceptByName(ctx context.Context, name string) (*core.Concept, error)

	// ListConcepts returns all concepts ordered by id.
	ListConcepts(ctx context.Context) ([]*core.Concept, error)

	// ConceptsForSource returns the concepts mentioned by a source's chunks.
	ConceptsForSource(ctx context.Context, sourceID core.ID) ([]*core.Concept, error)

	// SharedConcepts returns concepts covered by at least minSources sources.
	SharedConcepts(ctx context.Context, minSources int) ([]*SharedConcept, error)

	// ConceptsWithoutEmbedding returns up to limit concepts with no vector.
	ConceptsWithoutEmbedding(ctx context.Context, limit int) ([]*core.Concept, error)

	// SetConceptEmbedding stores a concept's vector.
	SetConceptEmbedding(ctx context.Context, id core.ID, vector []float32) error

	// AddMention inserts a mentions edge. Reports whether a new edge was created.
	AddMention(ctx context.Context, mention core.Mention) (bool, error)

	// AddRelation inserts a related_to edge unless one with the same
	// (from, to, type) exists. Reports whether a new edge was created.
	AddRelation(ctx context.Context, relation core.Relation) (bool, error)

	// MentionsForConcept returns the mentions edges pointing at a concept.
	MentionsForConcept(ctx context.Context, conceptID core.ID) ([]core.Mention, error)

	// ListRelations returns all related_to edges.
	ListRelations(ctx context.Context) ([]core.Relation, error)

	// RefreshCovers recomputes a source's covers edges from its mentions.
	RefreshCovers(ctx context.Context, sourceID core.ID) error

	// CoversForSource returns a source's covers edges, heaviest first.
	CoversForSource(ctx context.Context, sourceID core.ID) ([]core.Cover, error)
}

// Store is the complete Document Store.
type Store interface {
	SourceRepository
	ChunkRepository
	GraphRepository
}
