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

package core

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is assigned by database sequences; 0 means "not yet stored".
type ID int64

// ContentHash returns a hex encoded 256-bit BLAKE2b digest of data.
// Identical content always produces the identical hash.
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DocumentType tags the format a Source was parsed from.
type DocumentType string

const (
	DocumentTypePDF      DocumentType = "pdf"
	DocumentTypeMarkdown DocumentType = "markdown"
)

// SourceStatus is the lifecycle state of a Source.
type SourceStatus string

const (
	SourceUploaded    SourceStatus = "UPLOADED"
	SourceParsing     SourceStatus = "PARSING"
	SourceParsed      SourceStatus = "PARSED"
	SourceComplete    SourceStatus = "COMPLETE"
	SourceParseFailed SourceStatus = "PARSE_FAILED"
)

// StageStatus is the state of one chunk-level processing stage.
// Embedding uses COMPLETE as its success state, concept extraction uses EXTRACTED.
type StageStatus string

const (
	StatusPending    StageStatus = "PENDING"
	StatusInProgress StageStatus = "IN_PROGRESS"
	StatusComplete   StageStatus = "COMPLETE"
	StatusExtracted  StageStatus = "EXTRACTED"
	StatusFailed     StageStatus = "FAILED"
)

// Terminal reports whether no further processing will change the status.
func (s StageStatus) Terminal() bool {
	return s == StatusComplete || s == StatusExtracted || s == StatusFailed
}

// Source is one ingested document.
type Source struct {
	Id           ID
	NaturalKey   string // origin path; unique, re-ingestion replaces by this key
	Title        string
	Author       string
	Type         DocumentType
	UnitCount    int // pages for PDF, sections for Markdown
	Status       SourceStatus
	ErrorMessage string
	FileSize     int64
	ContentHash  string
	Metadata     map[string]string
	GraphPassAt  time.Time // zero until the source-level graph pass has run
	InsertedAt   time.Time
	UpdatedAt    time.Time
}

// Chunk is one position-ordered text segment of a Source.
type Chunk struct {
	Id                 ID
	SourceId           ID
	Position           int // dense, zero-based, unique per source
	Text               string
	StartUnit          int // first page/section the text came from (1-based)
	EndUnit            int // last page/section the text came from (1-based)
	Section            string
	CharCount          int
	Vector             []float32 // populated by the embedding stage
	EmbeddingStatus    StageStatus
	EmbeddingError     string
	ConceptStatus      StageStatus
	ExtractionAttempts int
	ExtractionError    string
	InsertedAt         time.Time
	UpdatedAt          time.Time
}

// Concept is a deduplicated domain entity shared by all sources.
type Concept struct {
	Id          ID
	Name        string // canonical, see NormalizeConceptName
	Description string
	Category    string
	Vector      []float32
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

// Mention links a chunk to a concept it discusses.
type Mention struct {
	ChunkId   ID
	ConceptId ID
	Relevance float64
	Context   string
}

// Relation is a typed, directed concept-to-concept edge.
type Relation struct {
	FromId   ID
	ToId     ID
	Type     string
	Strength float64
	SourceId ID // originating source, 0 when the edge spans sources
}

// Cover aggregates how strongly a source covers a concept.
type Cover struct {
	SourceId     ID
	ConceptId    ID
	Weight       float64 // distinct chunks mentioning / total chunks
	MentionCount int
}

// PendingStats summarizes outstanding batch work.
type PendingStats struct {
	PendingEmbeddings int
	PendingConcepts   int
	// SourcesAwaitingCompletion counts PARSED sources whose chunks are all terminal.
	SourcesAwaitingCompletion int
}

// Empty reports whether there is nothing for a worker run to do.
func (s PendingStats) Empty() bool {
	return s.PendingEmbeddings == 0 && s.PendingConcepts == 0 && s.SourcesAwaitingCompletion == 0
}

// SourceProgress counts a source's chunks by sub-status.
type SourceProgress struct {
	SourceId          ID
	Total             int
	EmbeddingComplete int
	EmbeddingFailed   int
	ConceptExtracted  int
	ConceptFailed     int
}

// EmbeddingPending is the number of chunks not yet terminal for embedding.
func (p SourceProgress) EmbeddingPending() int {
	return p.Total - p.EmbeddingComplete - p.EmbeddingFailed
}

// ConceptPending is the number of chunks not yet terminal for concept extraction.
func (p SourceProgress) ConceptPending() int {
	return p.Total - p.ConceptExtracted - p.ConceptFailed
}

// Terminal reports whether every chunk is terminal on both sub-statuses.
func (p SourceProgress) Terminal() bool {
	return p.EmbeddingPending() == 0 && p.ConceptPending() == 0
}

// NormalizeConceptName returns the canonical form of a concept name:
// trimmed, inner whitespace collapsed to single spaces, lower-cased.
func NormalizeConceptName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
