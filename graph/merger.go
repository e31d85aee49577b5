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
	"log/slog"
	"unicode"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

const (
	// MentionRelevance is the relevance recorded on every mentions edge.
	MentionRelevance = 0.8

	// ContextWidth is the length in characters of a mention's context snippet.
	ContextWidth = 200

	// ChunkStrength is the strength of relationships stated within a chunk.
	ChunkStrength = 0.8

	// SourceStrength is the strength of relationships from the source pass.
	SourceStrength = 0.7

	// CrossSourceStrength is the strength of relationships from the
	// cross-source pass.
	CrossSourceStrength = 0.6
)

// ErrStoreRequired is returned when no document store is provided.
var ErrStoreRequired = errors.New("document store required")

// MergeResult counts what one merge wrote. Edges that already existed are
// not counted.
type MergeResult struct {
	Concepts  int
	Mentions  int
	Relations int
	// Unresolved counts relationships naming a concept that does not exist.
	Unresolved int
}

// Merger writes chunk extractions into the graph.
// It is safe for concurrent use; writes to the same concept converge.
type Merger struct {
	store  storage.Store
	logger *slog.Logger
}

// NewMerger creates a Merger. A nil logger uses slog.Default().
func NewMerger(store storage.Store, logger *slog.Logger) (*Merger, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, logger: logger.With("component", "merger")}, nil
}

// Merge applies an extraction for a chunk claimed by owner and marks the
// chunk's concept stage EXTRACTED. Everything commits in one transaction;
// if owner lost the claim nothing is written and storage.ErrClaimLost is
// returned.
func (m *Merger) Merge(ctx context.Context, owner string, chunk *core.Chunk, extraction *ai.Extraction) (MergeResult, error) {
	var result MergeResult
	if extraction == nil {
		extraction = &ai.Extraction{}
	}

	err := m.store.WithTransaction(ctx, func(ctx context.Context) error {
		result = MergeResult{}
		ids := make(map[string]core.ID, len(extraction.Concepts))

		for _, c := range extraction.Concepts {
			stored, err := m.store.UpsertConcept(ctx, &core.Concept{
				Name:        c.Name,
				Description: c.Description,
				Category:    c.Category,
			})
			if err != nil {
				if errors.Is(err, core.ErrEmptyConceptName) {
					continue
				}
				return err
			}
			ids[stored.Name] = stored.Id
			result.Concepts++

			created, err := m.store.AddMention(ctx, core.Mention{
				ChunkId:   chunk.Id,
				ConceptId: stored.Id,
				Relevance: MentionRelevance,
				Context:   MentionContext(chunk.Text, stored.Name, ContextWidth),
			})
			if err != nil {
				return err
			}
			if created {
				result.Mentions++
			}
		}

		for _, rel := range extraction.Relationships {
			created, resolved, err := addRelation(ctx, m.store, ids, rel, ChunkStrength, chunk.SourceId)
			if err != nil {
				return err
			}
			if !resolved {
				result.Unresolved++
				continue
			}
			if created {
				result.Relations++
			}
		}

		return m.store.CompleteExtraction(ctx, owner, chunk.Id)
	})
	if err != nil {
		return MergeResult{}, err
	}

	m.logger.Debug("merged chunk extraction",
		"chunk_id", chunk.Id,
		"source_id", chunk.SourceId,
		"concepts", result.Concepts,
		"mentions", result.Mentions,
		"relations", result.Relations,
		"unresolved", result.Unresolved)
	return result, nil
}

// resolve finds a concept id by normalized name, first among known and then
// in the store. It reports false when no concept has the name.
func resolve(ctx context.Context, store storage.GraphRepository, known map[string]core.ID, name string) (core.ID, bool, error) {
	name = core.NormalizeConceptName(name)
	if id, ok := known[name]; ok {
		return id, true, nil
	}
	c, err := store.FindConceptByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if known != nil {
		known[name] = c.Id
	}
	return c.Id, true, nil
}

// addRelation resolves both endpoints of rel and inserts the edge.
func addRelation(ctx context.Context, store storage.GraphRepository, known map[string]core.ID,
	rel ai.ExtractedRelationship, strength float64, sourceID core.ID) (created, resolved bool, err error) {
	from, ok, err := resolve(ctx, store, known, rel.From)
	if err != nil || !ok {
		return false, false, err
	}
	to, ok, err := resolve(ctx, store, known, rel.To)
	if err != nil || !ok {
		return false, false, err
	}
	created, err = store.AddRelation(ctx, core.Relation{
		FromId:   from,
		ToId:     to,
		Type:     rel.Type,
		Strength: strength,
		SourceId: sourceID,
	})
	return created, true, err
}

// MentionContext returns up to width characters of text centred on the
// first case-insensitive occurrence of name. When name does not occur the
// snippet is the start of text.
func MentionContext(text, name string, width int) string {
	runes := []rune(text)
	if width <= 0 || len(runes) <= width {
		return text
	}

	start := 0
	if at := indexFold(runes, []rune(name)); at >= 0 {
		start = at + len([]rune(name))/2 - width/2
	}
	start = max(0, min(start, len(runes)-width))
	return string(runes[start : start+width])
}

// indexFold returns the rune offset of the first case-insensitive match of
// needle in haystack, or -1.
func indexFold(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if unicode.ToLower(haystack[i+j]) != unicode.ToLower(r) {
				continue outer
			}
		}
		return i
	}
	return -1
}
