package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(Config{ChunkSize: size, Overlap: overlap})
	require.NoError(t, err)
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultConfig()},
		{name: "no overlap", cfg: Config{ChunkSize: 100}},
		{name: "zero size", cfg: Config{ChunkSize: 0}, wantErr: true},
		{name: "negative overlap", cfg: Config{ChunkSize: 100, Overlap: -1}, wantErr: true},
		{name: "overlap half of size", cfg: Config{ChunkSize: 100, Overlap: 50}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunker_WholeUnits(t *testing.T) {
	c := newChunker(t, 100, 10)
	doc := &parser.Document{Units: []parser.Unit{
		{Number: 1, Text: "Page one fits."},
		{Number: 2, Text: "   "},
		{Number: 3, Label: "Intro", Text: "Page three fits too."},
	}}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, "Page one fits.", chunks[0].Text)
	assert.Equal(t, 1, chunks[0].StartUnit)

	// Empty units are skipped and positions stay dense.
	assert.Equal(t, 1, chunks[1].Position)
	assert.Equal(t, 3, chunks[1].StartUnit)
	assert.Equal(t, 3, chunks[1].EndUnit)
	assert.Equal(t, "Intro", chunks[1].Section)
	assert.Equal(t, 20, chunks[1].CharCount)

	for _, ch := range chunks {
		assert.Equal(t, core.StatusPending, ch.EmbeddingStatus)
		assert.Equal(t, core.StatusPending, ch.ConceptStatus)
	}
}

func TestChunker_SplitsAtSentence(t *testing.T) {
	c := newChunker(t, 60, 10)
	text := "The first sentence is here. The second sentence follows it. A third one closes the page."
	chunks := c.Chunk(&parser.Document{Units: []parser.Unit{{Number: 1, Text: text}}})

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "The first sentence is here. The second sentence follows it.", chunks[0].Text)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 60)
	}
}

func TestChunker_SplitsAtParagraph(t *testing.T) {
	c := newChunker(t, 50, 0)
	text := "alpha beta gamma delta epsilon zeta\n\neta theta iota kappa lambda mu nu xi"
	chunks := c.Chunk(&parser.Document{Units: []parser.Unit{{Number: 1, Text: text}}})

	require.Len(t, chunks, 2)
	assert.Equal(t, "alpha beta gamma delta epsilon zeta", chunks[0].Text)
	assert.Equal(t, "eta theta iota kappa lambda mu nu xi", chunks[1].Text)
}

func TestChunker_NeverSplitsMidWord(t *testing.T) {
	c := newChunker(t, 40, 8)
	words := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	chunks := c.Chunk(&parser.Document{Units: []parser.Unit{{Number: 1, Text: words}}})

	vocab := map[string]bool{"lorem": true, "ipsum": true, "dolor": true, "sit": true, "amet": true}
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 40)
		for _, w := range strings.Fields(ch.Text) {
			assert.True(t, vocab[w], "chunk %d has partial word %q", ch.Position, w)
		}
	}
}

func TestChunker_OverlapOnlyAtSplits(t *testing.T) {
	c := newChunker(t, 40, 12)
	long := strings.Repeat("word ", 30)
	doc := &parser.Document{Units: []parser.Unit{
		{Number: 1, Text: long},
		{Number: 2, Text: "separate page"},
	}}
	chunks := c.Chunk(doc)
	require.Greater(t, len(chunks), 2)

	// Adjacent pieces of the split unit share text.
	first, second := chunks[0].Text, chunks[1].Text
	assert.True(t, strings.HasPrefix(second, "word"))
	tail := first[len(first)-len("word word"):]
	assert.Contains(t, second, tail)

	// The next unit starts fresh.
	last := chunks[len(chunks)-1]
	assert.Equal(t, "separate page", last.Text)
	assert.Equal(t, 2, last.StartUnit)
}

func TestChunker_HardCut(t *testing.T) {
	c := newChunker(t, 10, 2)
	text := strings.Repeat("x", 25)
	chunks := c.Chunk(&parser.Document{Units: []parser.Unit{{Number: 1, Text: text}}})

	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("x", 10), chunks[0].Text)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 10)
	}
	// The final piece reaches the end of the unit.
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1].Text))
}

func TestChunker_Deterministic(t *testing.T) {
	c := newChunker(t, 80, 16)
	doc := &parser.Document{Units: []parser.Unit{
		{Number: 1, Text: strings.Repeat("Sentences keep coming. ", 20)},
		{Number: 2, Text: strings.Repeat("Another page of text here. ", 15)},
	}}

	first := c.Chunk(doc)
	second := c.Chunk(doc)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].Position, second[i].Position)
	}
}

func TestChunker_PositionsDense(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	var units []parser.Unit
	for i := 1; i <= 5; i++ {
		units = append(units, parser.Unit{Number: i, Text: strings.Repeat("A sentence on a page. ", 150)})
	}
	chunks := c.Chunk(&parser.Document{Units: units})

	require.NoError(t, core.ValidateChunks(chunks))
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.CharCount, DefaultChunkSize)
	}
}

func TestChunker_Multibyte(t *testing.T) {
	c := newChunker(t, 10, 2)
	text := strings.Repeat("é", 25)
	chunks := c.Chunk(&parser.Document{Units: []parser.Unit{{Number: 1, Text: text}}})
	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text))
		assert.LessOrEqual(t, ch.CharCount, 10)
	}
}
