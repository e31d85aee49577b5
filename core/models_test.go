package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		wantSame bool
	}{
		{name: "same content produces same hash", a: "chapter one", b: "chapter one", wantSame: true},
		{name: "empty content", a: "", b: "", wantSame: true},
		{name: "different content differs", a: "chapter one", b: "chapter two", wantSame: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha := ContentHash([]byte(tt.a))
			hb := ContentHash([]byte(tt.b))
			assert.Len(t, ha, 64)
			if tt.wantSame {
				assert.Equal(t, ha, hb)
			} else {
				assert.NotEqual(t, ha, hb)
			}
		})
	}
}

func TestNormalizeConceptName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"data mesh", "data mesh"},
		{"Data Mesh", "data mesh"},
		{"DATA MESH", "data mesh"},
		{"  data\t mesh \n", "data mesh"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeConceptName(tt.in))
		})
	}
}

func TestStageStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusExtracted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestPendingStats_Empty(t *testing.T) {
	assert.True(t, PendingStats{}.Empty())
	assert.False(t, PendingStats{PendingEmbeddings: 1}.Empty())
	assert.False(t, PendingStats{PendingConcepts: 1}.Empty())
	assert.False(t, PendingStats{SourcesAwaitingCompletion: 1}.Empty())
}

func TestSourceProgress_Terminal(t *testing.T) {
	t.Run("all complete", func(t *testing.T) {
		p := SourceProgress{Total: 7, EmbeddingComplete: 7, ConceptExtracted: 7}
		assert.True(t, p.Terminal())
	})

	t.Run("failures count as terminal", func(t *testing.T) {
		p := SourceProgress{Total: 7, EmbeddingComplete: 5, EmbeddingFailed: 2, ConceptExtracted: 5, ConceptFailed: 2}
		assert.True(t, p.Terminal())
	})

	t.Run("pending concepts block", func(t *testing.T) {
		p := SourceProgress{Total: 7, EmbeddingComplete: 7, ConceptExtracted: 6}
		assert.False(t, p.Terminal())
		assert.Equal(t, 1, p.ConceptPending())
		assert.Equal(t, 0, p.EmbeddingPending())
	})
}
