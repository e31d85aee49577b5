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

// Package chunker segments parsed documents into position-ordered,
// size-bounded chunks.
//
// Whole units (pages, sections) are kept intact when they fit. Oversized
// units are split at the best available break point, in priority order:
// sentence end, paragraph break, whitespace, and finally a hard cut at the
// size limit. Adjacent pieces of a split unit overlap; pieces from different
// units never do. Output depends only on the input and the Config.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/parser"
)

const (
	DefaultChunkSize = 2000
	DefaultOverlap   = 200
)

var ErrInvalidConfig = errors.New("invalid chunker config")

// Config bounds chunk sizes, in characters (runes).
type Config struct {
	ChunkSize int
	Overlap   int
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
}

// Validate checks that overlap is smaller than half the chunk size, which
// guarantees every split makes forward progress.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap*2 >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, c.Overlap, (c.ChunkSize+1)/2)
	}
	return nil
}

// Chunker produces chunks from parsed documents.
type Chunker struct {
	cfg Config
}

// New creates a Chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Chunk segments doc into chunks with dense zero-based positions.
// Returned chunks have both sub-statuses PENDING and no SourceId.
func (c *Chunker) Chunk(doc *parser.Document) []*core.Chunk {
	var chunks []*core.Chunk
	for _, unit := range doc.Units {
		for _, piece := range c.split(unit.Text) {
			chunks = append(chunks, &core.Chunk{
				Position:        len(chunks),
				Text:            piece,
				StartUnit:       unit.Number,
				EndUnit:         unit.Number,
				Section:         unit.Label,
				CharCount:       len([]rune(piece)),
				EmbeddingStatus: core.StatusPending,
				ConceptStatus:   core.StatusPending,
			})
		}
	}
	return chunks
}

// split breaks one unit's text into pieces no longer than ChunkSize runes.
func (c *Chunker) split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.cfg.ChunkSize {
		return []string{text}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + c.cfg.ChunkSize
		if end >= len(runes) {
			if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		cut := findBreak(runes, start, end)
		if piece := strings.TrimSpace(string(runes[start:cut])); piece != "" {
			pieces = append(pieces, piece)
		}

		next := wordStart(runes, cut-c.cfg.Overlap, cut)
		if next <= start {
			next = cut
		}
		start = next
	}
	return pieces
}

// findBreak returns the exclusive end of the piece starting at start whose
// hard limit is end. Break points earlier than the window midpoint are
// ignored so pieces stay reasonably full.
func findBreak(runes []rune, start, end int) int {
	floor := start + (end-start)/2

	// Sentence end: terminal punctuation followed by whitespace.
	for i := end - 1; i > floor; i-- {
		if isSentenceEnd(runes[i-1]) && unicode.IsSpace(runes[i]) {
			return i
		}
	}
	// Paragraph break.
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i - 1
		}
	}
	// Word boundary.
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

// wordStart moves pos forward to the start of a word, not past limit.
// The overlap region then begins on a whole word.
func wordStart(runes []rune, pos, limit int) int {
	if pos <= 0 {
		return 0
	}
	if unicode.IsSpace(runes[pos-1]) && !unicode.IsSpace(runes[pos]) {
		return pos
	}
	i := pos
	for i < limit && !unicode.IsSpace(runes[i]) {
		i++
	}
	for i < limit && unicode.IsSpace(runes[i]) {
		i++
	}
	if i >= limit {
		return pos
	}
	return i
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。':
		return true
	}
	return false
}
