package validation

import (
	"strings"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/parser"
	"github.com/stretchr/testify/assert"
)

func TestValidator_PreCheck(t *testing.T) {
	v := New(DefaultLimits())

	tests := []struct {
		name    string
		file    string
		size    int64
		head    []byte
		wantErr error
	}{
		{name: "valid pdf", file: "a.pdf", size: 1024, head: []byte("%PDF-1.7\n...")},
		{name: "upper case extension", file: "A.PDF", size: 1024, head: []byte("%PDF-1.4")},
		{name: "valid markdown", file: "notes.md", size: 10, head: []byte("# Héllo\n")},
		{name: "markdown long extension", file: "notes.markdown", size: 10, head: []byte("text")},
		{name: "empty", file: "a.pdf", size: 0, wantErr: ErrEmptyFile},
		{name: "too large", file: "a.pdf", size: 251 * 1024 * 1024, head: []byte("%PDF-"), wantErr: ErrTooLarge},
		{name: "unsupported extension", file: "a.docx", size: 10, head: []byte("PK"), wantErr: ErrUnsupportedType},
		{name: "pdf without magic", file: "a.pdf", size: 10, head: []byte("<html>"), wantErr: ErrSignatureMismatch},
		{name: "binary markdown", file: "a.md", size: 4, head: []byte{0xff, 0xfe, 0x00, 0x41}, wantErr: ErrSignatureMismatch},
		{name: "markdown with nul", file: "a.md", size: 3, head: []byte("a\x00b"), wantErr: ErrSignatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.PreCheck(tt.file, tt.size, tt.head)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidator_PostCheck(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPages = 3
	limits.MaxChunks = 2
	limits.MaxChunkSize = 200
	v := New(limits)

	text := strings.Repeat("a", 120)
	chunks := func(n int) []*core.Chunk {
		out := make([]*core.Chunk, n)
		for i := range out {
			out[i] = &core.Chunk{Position: i, Text: "chunk text"}
		}
		return out
	}
	pdf := func(pages int) *parser.Document {
		units := make([]parser.Unit, pages)
		for i := range units {
			units[i] = parser.Unit{Number: i + 1, Text: text}
		}
		return &parser.Document{Type: core.DocumentTypePDF, Units: units}
	}

	tests := []struct {
		name    string
		doc     *parser.Document
		chunks  []*core.Chunk
		wantErr error
	}{
		{name: "valid", doc: pdf(1), chunks: chunks(1)},
		{name: "too many pages", doc: pdf(4), chunks: chunks(1), wantErr: ErrTooManyPages},
		{
			name:    "markdown sections are not pages",
			doc:     &parser.Document{Type: core.DocumentTypeMarkdown, Units: make([]parser.Unit, 4)},
			chunks:  chunks(1),
			wantErr: ErrTooLittleText,
		},
		{
			name:    "too little text",
			doc:     &parser.Document{Type: core.DocumentTypePDF, Units: []parser.Unit{{Number: 1, Text: "  short  "}}},
			chunks:  chunks(1),
			wantErr: ErrTooLittleText,
		},
		{name: "no chunks", doc: pdf(1), chunks: nil, wantErr: ErrNoChunks},
		{name: "too many chunks", doc: pdf(1), chunks: chunks(3), wantErr: ErrTooManyChunks},
		{
			name:    "position gap",
			doc:     pdf(1),
			chunks:  []*core.Chunk{{Position: 0, Text: "a"}, {Position: 2, Text: "b"}},
			wantErr: ErrBadPositions,
		},
		{
			name:    "oversized chunk",
			doc:     pdf(1),
			chunks:  []*core.Chunk{{Position: 0, Text: strings.Repeat("b", 201)}},
			wantErr: ErrChunkTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.PostCheck(tt.doc, tt.chunks)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidator_PositionGapWrapsCoreError(t *testing.T) {
	v := New(DefaultLimits())
	doc := &parser.Document{Type: core.DocumentTypeMarkdown, Units: []parser.Unit{{Text: strings.Repeat("x", 200)}}}
	err := v.PostCheck(doc, []*core.Chunk{{Position: 1, Text: "a"}})
	assert.ErrorIs(t, err, core.ErrPositionGap)
}
