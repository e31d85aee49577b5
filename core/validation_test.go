package core

import (
	"errors"
	"testing"
)

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		source  *Source
		wantErr error
	}{
		{
			name:    "valid source",
			source:  &Source{NaturalKey: "books/team-topologies.pdf", Status: SourceParsed},
			wantErr: nil,
		},
		{
			name:    "valid failed source",
			source:  &Source{NaturalKey: "books/broken.pdf", Status: SourceParseFailed, ErrorMessage: "encrypted"},
			wantErr: nil,
		},
		{
			name:    "nil source",
			source:  nil,
			wantErr: ErrInvalidSource,
		},
		{
			name:    "empty natural key",
			source:  &Source{Status: SourceParsed},
			wantErr: ErrEmptyNaturalKey,
		},
		{
			name:    "unknown status",
			source:  &Source{NaturalKey: "a.md", Status: "EXTRACTING"},
			wantErr: ErrInvalidSourceStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSource(tt.source)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSource() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSource() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunks(t *testing.T) {
	chunk := func(pos int, text string) *Chunk {
		return &Chunk{Position: pos, Text: text}
	}

	tests := []struct {
		name    string
		chunks  []*Chunk
		wantErr error
	}{
		{name: "empty set", chunks: nil},
		{name: "dense positions", chunks: []*Chunk{chunk(0, "a"), chunk(1, "b"), chunk(2, "c")}},
		{name: "gap", chunks: []*Chunk{chunk(0, "a"), chunk(2, "c")}, wantErr: ErrPositionGap},
		{name: "duplicate", chunks: []*Chunk{chunk(0, "a"), chunk(0, "b")}, wantErr: ErrPositionGap},
		{name: "starts at one", chunks: []*Chunk{chunk(1, "a")}, wantErr: ErrPositionGap},
		{name: "empty text", chunks: []*Chunk{chunk(0, "")}, wantErr: ErrEmptyContent},
		{name: "nil chunk", chunks: []*Chunk{nil}, wantErr: ErrInvalidChunk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunks(tt.chunks)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunks() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunks() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConcept(t *testing.T) {
	if err := ValidateConcept(&Concept{Name: "Data Mesh"}); err != nil {
		t.Errorf("ValidateConcept() unexpected error = %v", err)
	}
	if err := ValidateConcept(&Concept{Name: "  "}); !errors.Is(err, ErrEmptyConceptName) {
		t.Errorf("ValidateConcept() error = %v, want %v", err, ErrEmptyConceptName)
	}
	if err := ValidateConcept(nil); !errors.Is(err, ErrInvalidConcept) {
		t.Errorf("ValidateConcept() error = %v, want %v", err, ErrInvalidConcept)
	}
}
