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
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

var conceptColumns = []string{"id", "name", "description", "category", "embedding", "created_at", "updated_at"}

func prefixed(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return out
}

func (s *Store) scanConcept(row rowScanner, extra ...any) (*core.Concept, error) {
	var (
		c                    core.Concept
		embedding            sql.NullString
		createdAt, updatedAt int64
	)
	dest := append([]any{&c.Id, &c.Name, &c.Description, &c.Category, &embedding, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if c.Vector, err = s.decodeVector(embedding); err != nil {
		return nil, err
	}
	c.InsertedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (s *Store) listConcepts(ctx context.Context, q sq.Sqlizer) ([]*core.Concept, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var concepts []*core.Concept
	for rows.Next() {
		c, err := s.scanConcept(rows)
		if err != nil {
			return nil, err
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

// UpsertConcept implements storage.GraphRepository.
// A single INSERT ... ON CONFLICT statement resolves concurrent creation of
// the same name; the loser of the race merges into the winner's row.
func (s *Store) UpsertConcept(ctx context.Context, concept *core.Concept) (*core.Concept, error) {
	if err := core.ValidateConcept(concept); err != nil {
		return nil, err
	}
	vector, err := s.encodeVector(concept.Vector)
	if err != nil {
		return nil, err
	}
	now := s.nowMillis()

	q := s.sb.Insert("concepts").
		Columns("name", "description", "category", "embedding", "created_at", "updated_at").
		Values(core.NormalizeConceptName(concept.Name), strings.TrimSpace(concept.Description),
			strings.TrimSpace(concept.Category), vector, now, now).
		Suffix(`ON CONFLICT (name) DO UPDATE SET
			description = CASE WHEN concepts.description = '' THEN excluded.description ELSE concepts.description END,
			category = CASE WHEN concepts.category = '' THEN excluded.category ELSE concepts.category END,
			embedding = COALESCE(concepts.embedding, excluded.embedding),
			updated_at = excluded.updated_at
			RETURNING ` + strings.Join(conceptColumns, ", "))

	concepts, err := s.listConcepts(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(concepts) == 0 {
		return nil, storage.ErrNotFound
	}
	return concepts[0], nil
}

// GetConcept implements storage.GraphRepository.
func (s *Store) GetConcept(ctx context.Context, id core.ID) (*core.Concept, error) {
	return s.oneConcept(ctx, sq.Eq{"id": id})
}

// FindConceptByName implements storage.GraphRepository.
func (s *Store) FindConceptByName(ctx context.Context, name string) (*core.Concept, error) {
	return s.oneConcept(ctx, sq.Eq{"name": core.NormalizeConceptName(name)})
}

func (s *Store) oneConcept(ctx context.Context, where sq.Eq) (*core.Concept, error) {
	concepts, err := s.listConcepts(ctx, s.sb.Select(conceptColumns...).From("concepts").Where(where))
	if err != nil {
		return nil, err
	}
	if len(concepts) == 0 {
		return nil, storage.ErrNotFound
	}
	return concepts[0], nil
}

// ListConcepts implements storage.GraphRepository.
func (s *Store) ListConcepts(ctx context.Context) ([]*core.Concept, error) {
	return s.listConcepts(ctx, s.sb.Select(conceptColumns...).From("concepts").OrderBy("id"))
}

// ConceptsForSource implements storage.GraphRepository.
func (s *Store) ConceptsForSource(ctx context.Context, sourceID core.ID) ([]*core.Concept, error) {
	mentioned := sq.Select("m.concept_id").From("mentions m").
		Join("chunks ch ON ch.id = m.chunk_id").
		Where(sq.Eq{"ch.source_id": sourceID})
	return s.listConcepts(ctx, s.sb.Select(conceptColumns...).From("concepts").
		Where(sq.Expr("id IN (?)", mentioned)).
		OrderBy("id"))
}

// SharedConcepts implements storage.GraphRepository.
func (s *Store) SharedConcepts(ctx context.Context, minSources int) ([]*storage.SharedConcept, error) {
	shared := sq.Select("concept_id").From("covers").
		GroupBy("concept_id").
		Having("COUNT(DISTINCT source_id) >= ?", minSources)

	cols := append(prefixed("c", conceptColumns), "COALESCE(NULLIF(s.title, ''), s.natural_key)")
	q := s.sb.Select(cols...).From("concepts c").
		Join("covers co ON co.concept_id = c.id").
		Join("sources s ON s.id = co.source_id").
		Where(sq.Expr("c.id IN (?)", shared)).
		OrderBy("c.id", "s.id")

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*storage.SharedConcept
	for rows.Next() {
		var title string
		c, err := s.scanConcept(rows, &title)
		if err != nil {
			return nil, err
		}
		if n := len(result); n > 0 && result[n-1].Concept.Id == c.Id {
			result[n-1].SourceTitles = append(result[n-1].SourceTitles, title)
			continue
		}
		result = append(result, &storage.SharedConcept{Concept: c, SourceTitles: []string{title}})
	}
	return result, rows.Err()
}

// ConceptsWithoutEmbedding implements storage.GraphRepository.
func (s *Store) ConceptsWithoutEmbedding(ctx context.Context, limit int) ([]*core.Concept, error) {
	q := s.sb.Select(conceptColumns...).From("concepts").
		Where(sq.Eq{"embedding": nil}).
		OrderBy("id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.listConcepts(ctx, q)
}

// SetConceptEmbedding implements storage.GraphRepository.
func (s *Store) SetConceptEmbedding(ctx context.Context, id core.ID, vector []float32) error {
	v, err := s.encodeVector(vector)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, s.sb.Update("concepts").
		Set("embedding", v).
		Set("updated_at", s.nowMillis()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddMention implements storage.GraphRepository.
func (s *Store) AddMention(ctx context.Context, m core.Mention) (bool, error) {
	return s.insertEdge(ctx, s.sb.Insert("mentions").
		Columns("chunk_id", "concept_id", "relevance", "context", "created_at").
		Values(m.ChunkId, m.ConceptId, m.Relevance, m.Context, s.nowMillis()).
		Suffix("ON CONFLICT (chunk_id, concept_id) DO NOTHING"))
}

// AddRelation implements storage.GraphRepository.
// Self-relations are ignored.
func (s *Store) AddRelation(ctx context.Context, r core.Relation) (bool, error) {
	if r.FromId == r.ToId {
		return false, nil
	}
	return s.insertEdge(ctx, s.sb.Insert("relations").
		Columns("from_concept_id", "to_concept_id", "relationship_type", "strength", "source_id", "created_at").
		Values(r.FromId, r.ToId, r.Type, r.Strength, nullIfZero(int64(r.SourceId)), s.nowMillis()).
		Suffix("ON CONFLICT (from_concept_id, to_concept_id, relationship_type) DO NOTHING"))
}

func (s *Store) insertEdge(ctx context.Context, q sq.InsertBuilder) (bool, error) {
	res, err := s.exec(ctx, q)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MentionsForConcept implements storage.GraphRepository.
func (s *Store) MentionsForConcept(ctx context.Context, conceptID core.ID) ([]core.Mention, error) {
	rows, err := s.query(ctx, s.sb.Select("chunk_id", "concept_id", "relevance", "context").
		From("mentions").
		Where(sq.Eq{"concept_id": conceptID}).
		OrderBy("chunk_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mentions []core.Mention
	for rows.Next() {
		var m core.Mention
		if err := rows.Scan(&m.ChunkId, &m.ConceptId, &m.Relevance, &m.Context); err != nil {
			return nil, err
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// ListRelations implements storage.GraphRepository.
func (s *Store) ListRelations(ctx context.Context) ([]core.Relation, error) {
	rows, err := s.query(ctx, s.sb.Select(
		"from_concept_id", "to_concept_id", "relationship_type", "strength", "COALESCE(source_id, 0)").
		From("relations").
		OrderBy("from_concept_id", "to_concept_id", "relationship_type"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []core.Relation
	for rows.Next() {
		var r core.Relation
		if err := rows.Scan(&r.FromId, &r.ToId, &r.Type, &r.Strength, &r.SourceId); err != nil {
			return nil, err
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

// RefreshCovers implements storage.GraphRepository.
// Weight is the fraction of the source's chunks that mention the concept.
func (s *Store) RefreshCovers(ctx context.Context, sourceID core.ID) error {
	now := s.nowMillis()
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, s.sb.Delete("covers").Where(sq.Eq{"source_id": sourceID})); err != nil {
			return err
		}
		aggregate := sq.Select(
			"ch.source_id",
			"m.concept_id",
			"CAST(COUNT(DISTINCT m.chunk_id) AS DOUBLE PRECISION) / (SELECT COUNT(*) FROM chunks t WHERE t.source_id = ch.source_id)",
			"COUNT(*)",
		).
			Column(sq.Expr("CAST(? AS BIGINT)", now)).
			Column(sq.Expr("CAST(? AS BIGINT)", now)).
			From("mentions m").
			Join("chunks ch ON ch.id = m.chunk_id").
			Where(sq.Eq{"ch.source_id": sourceID}).
			GroupBy("ch.source_id", "m.concept_id")

		_, err := s.exec(ctx, s.sb.Insert("covers").
			Columns("source_id", "concept_id", "weight", "mention_count", "created_at", "updated_at").
			Select(aggregate))
		return err
	})
}

// CoversForSource implements storage.GraphRepository.
func (s *Store) CoversForSource(ctx context.Context, sourceID core.ID) ([]core.Cover, error) {
	rows, err := s.query(ctx, s.sb.Select("source_id", "concept_id", "weight", "mention_count").
		From("covers").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("weight DESC", "concept_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var covers []core.Cover
	for rows.Next() {
		var c core.Cover
		if err := rows.Scan(&c.SourceId, &c.ConceptId, &c.Weight, &c.MentionCount); err != nil {
			return nil, err
		}
		covers = append(covers, c)
	}
	return covers, rows.Err()
}
