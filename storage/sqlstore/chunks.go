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

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// skippedReason is recorded on the concept stage of chunks whose embedding failed.
const skippedReason = "skipped: embedding failed"

var chunkColumns = []string{
	"id", "source_id", "position", "content", "start_unit", "end_unit", "section", "char_count",
	"embedding", "embedding_status", "embedding_error", "concept_status", "extraction_attempts",
	"extraction_error", "created_at", "updated_at",
}

func (s *Store) scanChunk(row rowScanner) (*core.Chunk, error) {
	var (
		c                    core.Chunk
		embedding            sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&c.Id, &c.SourceId, &c.Position, &c.Text, &c.StartUnit, &c.EndUnit, &c.Section,
		&c.CharCount, &embedding, &c.EmbeddingStatus, &c.EmbeddingError, &c.ConceptStatus,
		&c.ExtractionAttempts, &c.ExtractionError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if c.Vector, err = s.decodeVector(embedding); err != nil {
		return nil, err
	}
	c.InsertedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (s *Store) listChunks(ctx context.Context, q sq.Sqlizer) ([]*core.Chunk, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunks implements storage.ChunkRepository.
func (s *Store) GetChunks(ctx context.Context, sourceID core.ID) ([]*core.Chunk, error) {
	return s.listChunks(ctx, s.sb.Select(chunkColumns...).From("chunks").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("position"))
}

// GetChunk implements storage.ChunkRepository.
func (s *Store) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	chunks, err := s.listChunks(ctx, s.sb.Select(chunkColumns...).From("chunks").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, storage.ErrNotFound
	}
	return chunks[0], nil
}

// PendingStats implements storage.ChunkRepository.
func (s *Store) PendingStats(ctx context.Context) (core.PendingStats, error) {
	var stats core.PendingStats
	unfinished := []string{string(core.StatusPending), string(core.StatusInProgress)}

	q := s.sb.Select(
		"COALESCE(SUM(CASE WHEN embedding_status IN ('PENDING', 'IN_PROGRESS') THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN concept_status IN ('PENDING', 'IN_PROGRESS') THEN 1 ELSE 0 END), 0)",
	).From("chunks").
		Where(sq.Or{sq.Eq{"embedding_status": unfinished}, sq.Eq{"concept_status": unfinished}})
	if err := s.queryRow(ctx, q, &stats.PendingEmbeddings, &stats.PendingConcepts); err != nil {
		return stats, err
	}

	awaiting := s.sb.Select("COUNT(*)").FromSelect(s.awaitingCompletion(), "awaiting")
	if err := s.queryRow(ctx, awaiting, &stats.SourcesAwaitingCompletion); err != nil {
		return stats, err
	}
	return stats, nil
}

// claimable matches chunks whose status column is PENDING, or IN_PROGRESS
// under a lease that expired before cutoff.
func claimable(statusCol string, cutoff int64) sq.Or {
	return sq.Or{
		sq.Eq{statusCol: string(core.StatusPending)},
		sq.And{
			sq.Eq{statusCol: string(core.StatusInProgress)},
			sq.Lt{"claimed_at": cutoff},
		},
	}
}

// ClaimEmbeddingBatch implements storage.ChunkRepository.
func (s *Store) ClaimEmbeddingBatch(ctx context.Context, owner string, limit int) ([]*core.Chunk, error) {
	return s.claim(ctx, owner, limit, "embedding_status", nil)
}

// ClaimConceptBatch implements storage.ChunkRepository.
func (s *Store) ClaimConceptBatch(ctx context.Context, owner string, limit int) ([]*core.Chunk, error) {
	return s.claim(ctx, owner, limit, "concept_status",
		sq.Eq{"embedding_status": string(core.StatusComplete)})
}

func (s *Store) claim(ctx context.Context, owner string, limit int, statusCol string, extra sq.Sqlizer) ([]*core.Chunk, error) {
	if owner == "" || limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	now := s.nowMillis()
	cutoff := now - s.lease.Milliseconds()

	eligible := sq.And{claimable(statusCol, cutoff)}
	if extra != nil {
		eligible = append(eligible, extra)
	}

	// Inner query uses ? placeholders; the outer builder rewrites them.
	candidates := sq.Select("id").From("chunks").
		Where(eligible).
		OrderBy("source_id", "position").
		Limit(uint64(limit))
	if s.dialect == DialectPostgres {
		candidates = candidates.Suffix("FOR UPDATE SKIP LOCKED")
	}

	// The eligibility check is repeated on the outer UPDATE so a row taken
	// by a concurrent claimer between the two evaluations is skipped.
	q := s.sb.Update("chunks").
		Set(statusCol, string(core.StatusInProgress)).
		Set("claimed_by", owner).
		Set("claimed_at", now).
		Set("updated_at", now).
		Where(sq.Expr("id IN (?)", candidates)).
		Where(eligible).
		Suffix("RETURNING " + strings.Join(chunkColumns, ", "))

	chunks, err := s.listChunks(ctx, q)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(chunks, func(a, b *core.Chunk) int {
		if a.SourceId != b.SourceId {
			return int(a.SourceId - b.SourceId)
		}
		return a.Position - b.Position
	})
	return chunks, nil
}

// owned matches a chunk claimed by owner whose stage is IN_PROGRESS.
func owned(id core.ID, owner, statusCol string) sq.Eq {
	return sq.Eq{"id": id, "claimed_by": owner, statusCol: string(core.StatusInProgress)}
}

func (s *Store) updateOwned(ctx context.Context, q sq.UpdateBuilder) error {
	res, err := s.exec(ctx, q.Set("claimed_by", "").Set("claimed_at", 0).Set("updated_at", s.nowMillis()))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrClaimLost
	}
	return nil
}

// CompleteEmbedding implements storage.ChunkRepository.
func (s *Store) CompleteEmbedding(ctx context.Context, owner string, id core.ID, vector []float32) error {
	if len(vector) == 0 {
		return storage.ErrInvalidQuery
	}
	v, err := s.encodeVector(vector)
	if err != nil {
		return err
	}
	return s.updateOwned(ctx, s.sb.Update("chunks").
		Set("embedding", v).
		Set("embedding_status", string(core.StatusComplete)).
		Set("embedding_error", "").
		Where(owned(id, owner, "embedding_status")))
}

// FailEmbedding implements storage.ChunkRepository.
func (s *Store) FailEmbedding(ctx context.Context, owner string, id core.ID, reason string) error {
	return s.updateOwned(ctx, s.sb.Update("chunks").
		Set("embedding_status", string(core.StatusFailed)).
		Set("embedding_error", reason).
		Set("concept_status", string(core.StatusFailed)).
		Set("extraction_error", skippedReason).
		Where(owned(id, owner, "embedding_status")))
}

// CompleteExtraction implements storage.ChunkRepository.
func (s *Store) CompleteExtraction(ctx context.Context, owner string, id core.ID) error {
	return s.updateOwned(ctx, s.sb.Update("chunks").
		Set("concept_status", string(core.StatusExtracted)).
		Set("extraction_attempts", sq.Expr("extraction_attempts + 1")).
		Set("extraction_error", "").
		Where(owned(id, owner, "concept_status")))
}

// FailExtraction implements storage.ChunkRepository.
func (s *Store) FailExtraction(ctx context.Context, owner string, id core.ID, reason string, maxAttempts int) (core.StageStatus, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	q := s.sb.Update("chunks").
		Set("concept_status", sq.Expr("CASE WHEN extraction_attempts + 1 >= ? THEN ? ELSE ? END",
			maxAttempts, string(core.StatusFailed), string(core.StatusPending))).
		Set("extraction_attempts", sq.Expr("extraction_attempts + 1")).
		Set("extraction_error", reason).
		Set("claimed_by", "").
		Set("claimed_at", 0).
		Set("updated_at", s.nowMillis()).
		Where(owned(id, owner, "concept_status")).
		Suffix("RETURNING concept_status")

	var status core.StageStatus
	if err := s.queryRow(ctx, q, &status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", storage.ErrClaimLost
		}
		return "", err
	}
	return status, nil
}

// ReleaseClaims implements storage.ChunkRepository.
func (s *Store) ReleaseClaims(ctx context.Context, owner string) (int, error) {
	var released int64
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		for _, col := range []string{"embedding_status", "concept_status"} {
			res, err := s.exec(ctx, s.sb.Update("chunks").
				Set(col, string(core.StatusPending)).
				Set("claimed_by", "").
				Set("claimed_at", 0).
				Set("updated_at", s.nowMillis()).
				Where(sq.Eq{"claimed_by": owner, col: string(core.StatusInProgress)}))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			released += n
		}
		return nil
	})
	return int(released), err
}
