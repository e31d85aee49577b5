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
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

var sourceColumns = []string{
	"id", "natural_key", "title", "author", "doc_type", "unit_count", "status",
	"error_message", "file_size", "content_hash", "metadata", "graph_pass_at",
	"created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*core.Source, error) {
	var (
		src                  core.Source
		metadata             string
		graphPassAt          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&src.Id, &src.NaturalKey, &src.Title, &src.Author, &src.Type, &src.UnitCount,
		&src.Status, &src.ErrorMessage, &src.FileSize, &src.ContentHash, &metadata, &graphPassAt,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if src.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	if graphPassAt.Valid {
		src.GraphPassAt = fromMillis(graphPassAt.Int64)
	}
	src.InsertedAt = fromMillis(createdAt)
	src.UpdatedAt = fromMillis(updatedAt)
	return &src, nil
}

// ReplaceSource implements storage.SourceRepository.
func (s *Store) ReplaceSource(ctx context.Context, src *core.Source, chunks []*core.Chunk) (*core.Source, error) {
	src.Status = core.SourceParsed
	if err := core.ValidateSource(src); err != nil {
		return nil, err
	}
	if err := core.ValidateChunks(chunks); err != nil {
		return nil, err
	}

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.deleteSourceByKey(ctx, src.NaturalKey); err != nil {
			return err
		}
		if err := s.insertSource(ctx, src); err != nil {
			return err
		}
		if err := s.insertChunks(ctx, src.Id, chunks); err != nil {
			return err
		}
		_, err := s.exec(ctx, s.sb.Insert("contains").
			Columns("chunk_id", "source_id").
			Select(sq.Select("id", "source_id").From("chunks").Where(sq.Eq{"source_id": src.Id})))
		return err
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// RecordSourceFailure implements storage.SourceRepository.
func (s *Store) RecordSourceFailure(ctx context.Context, src *core.Source) (*core.Source, error) {
	src.Status = core.SourceParseFailed
	if err := core.ValidateSource(src); err != nil {
		return nil, err
	}

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.deleteSourceByKey(ctx, src.NaturalKey); err != nil {
			return err
		}
		return s.insertSource(ctx, src)
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Store) deleteSourceByKey(ctx context.Context, key string) error {
	res, err := s.exec(ctx, s.sb.Delete("sources").Where(sq.Eq{"natural_key": key}))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("replaced prior source version", "natural_key", key)
	}
	return nil
}

func (s *Store) insertSource(ctx context.Context, src *core.Source) error {
	metadata, err := encodeMetadata(src.Metadata)
	if err != nil {
		return err
	}
	now := s.nowMillis()
	q := s.sb.Insert("sources").
		Columns("natural_key", "title", "author", "doc_type", "unit_count", "status",
			"error_message", "file_size", "content_hash", "metadata", "created_at", "updated_at").
		Values(src.NaturalKey, src.Title, src.Author, string(src.Type), src.UnitCount, string(src.Status),
			src.ErrorMessage, src.FileSize, src.ContentHash, metadata, now, now).
		Suffix("RETURNING id")
	if err := s.queryRow(ctx, q, &src.Id); err != nil {
		return fmt.Errorf("insert source %q: %w", src.NaturalKey, err)
	}
	src.InsertedAt = fromMillis(now)
	src.UpdatedAt = src.InsertedAt
	src.GraphPassAt = time.Time{}
	return nil
}

func (s *Store) insertChunks(ctx context.Context, sourceID core.ID, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := s.nowMillis()
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(chunks))
		q := s.sb.Insert("chunks").Columns(
			"source_id", "position", "content", "start_unit", "end_unit", "section", "char_count",
			"embedding_status", "concept_status", "created_at", "updated_at")
		for _, c := range chunks[start:end] {
			q = q.Values(sourceID, c.Position, c.Text, c.StartUnit, c.EndUnit, c.Section, c.CharCount,
				string(core.StatusPending), string(core.StatusPending), now, now)
		}
		if _, err := s.exec(ctx, q); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	// Read back generated ids.
	rows, err := s.query(ctx, s.sb.Select("id", "position").From("chunks").Where(sq.Eq{"source_id": sourceID}))
	if err != nil {
		return err
	}
	ids := make(map[int]core.ID, len(chunks))
	for rows.Next() {
		var (
			id  core.ID
			pos int
		)
		if err := rows.Scan(&id, &pos); err != nil {
			rows.Close()
			return err
		}
		ids[pos] = id
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range chunks {
		c.Id = ids[c.Position]
		c.SourceId = sourceID
		c.EmbeddingStatus = core.StatusPending
		c.ConceptStatus = core.StatusPending
		c.ExtractionAttempts = 0
		c.InsertedAt = fromMillis(now)
		c.UpdatedAt = c.InsertedAt
	}
	return nil
}

// GetSource implements storage.SourceRepository.
func (s *Store) GetSource(ctx context.Context, id core.ID) (*core.Source, error) {
	return s.getSource(ctx, sq.Eq{"id": id})
}

// GetSourceByKey implements storage.SourceRepository.
func (s *Store) GetSourceByKey(ctx context.Context, naturalKey string) (*core.Source, error) {
	return s.getSource(ctx, sq.Eq{"natural_key": naturalKey})
}

func (s *Store) getSource(ctx context.Context, where sq.Eq) (*core.Source, error) {
	sources, err := s.listSources(ctx, s.sb.Select(sourceColumns...).From("sources").Where(where))
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, storage.ErrNotFound
	}
	return sources[0], nil
}

// ListSources implements storage.SourceRepository.
func (s *Store) ListSources(ctx context.Context, status core.SourceStatus) ([]*core.Source, error) {
	q := s.sb.Select(sourceColumns...).From("sources").OrderBy("id")
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}
	return s.listSources(ctx, q)
}

func (s *Store) listSources(ctx context.Context, q sq.SelectBuilder) ([]*core.Source, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*core.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) awaitingCompletion() sq.SelectBuilder {
	unfinished := sq.Select("1").From("chunks c").
		Where("c.source_id = s.id").
		Where(sq.Or{
			sq.NotEq{"c.embedding_status": []string{string(core.StatusComplete), string(core.StatusFailed)}},
			sq.NotEq{"c.concept_status": []string{string(core.StatusExtracted), string(core.StatusFailed)}},
		})
	return s.sb.Select("s.id").From("sources s").
		Where(sq.Eq{"s.status": string(core.SourceParsed)}).
		Where(sq.Expr("NOT EXISTS (?)", unfinished))
}

// SourcesAwaitingCompletion implements storage.SourceRepository.
func (s *Store) SourcesAwaitingCompletion(ctx context.Context) ([]core.ID, error) {
	rows, err := s.query(ctx, s.awaitingCompletion().OrderBy("s.id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []core.ID
	for rows.Next() {
		var id core.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SourceProgress implements storage.SourceRepository.
func (s *Store) SourceProgress(ctx context.Context, id core.ID) (*core.SourceProgress, error) {
	if _, err := s.GetSource(ctx, id); err != nil {
		return nil, err
	}
	count := func(col string, status core.StageStatus) string {
		return fmt.Sprintf("COALESCE(SUM(CASE WHEN %s = '%s' THEN 1 ELSE 0 END), 0)", col, status)
	}
	q := s.sb.Select(
		"COUNT(*)",
		count("embedding_status", core.StatusComplete),
		count("embedding_status", core.StatusFailed),
		count("concept_status", core.StatusExtracted),
		count("concept_status", core.StatusFailed),
	).From("chunks").Where(sq.Eq{"source_id": id})

	p := core.SourceProgress{SourceId: id}
	if err := s.queryRow(ctx, q, &p.Total, &p.EmbeddingComplete, &p.EmbeddingFailed,
		&p.ConceptExtracted, &p.ConceptFailed); err != nil {
		return nil, err
	}
	return &p, nil
}

// CompleteSource implements storage.SourceRepository.
func (s *Store) CompleteSource(ctx context.Context, id core.ID) (bool, error) {
	res, err := s.exec(ctx, s.sb.Update("sources").
		Set("status", string(core.SourceComplete)).
		Set("updated_at", s.nowMillis()).
		Where(sq.Eq{"id": id, "status": string(core.SourceParsed)}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SourcesPendingGraphPass implements storage.SourceRepository.
func (s *Store) SourcesPendingGraphPass(ctx context.Context, limit int) ([]*core.Source, error) {
	q := s.sb.Select(sourceColumns...).From("sources").
		Where(sq.Eq{"status": string(core.SourceComplete), "graph_pass_at": nil}).
		OrderBy("updated_at", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.listSources(ctx, q)
}

// MarkGraphPass implements storage.SourceRepository.
func (s *Store) MarkGraphPass(ctx context.Context, id core.ID, at time.Time) error {
	res, err := s.exec(ctx, s.sb.Update("sources").
		Set("graph_pass_at", at.UnixMilli()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
