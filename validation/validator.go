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

// Package validation checks inbound documents before and after parsing.
//
// PreCheck is cheap and runs on the raw bytes. PostCheck runs on the parsed
// and chunked result, just before persistence. Every rejection is terminal
// for the document.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/parser"
)

var (
	ErrTooLarge          = errors.New("file too large")
	ErrEmptyFile         = errors.New("file is empty")
	ErrUnsupportedType   = errors.New("unsupported file type")
	ErrSignatureMismatch = errors.New("content does not match file type")
	ErrTooManyPages      = errors.New("too many pages")
	ErrTooLittleText     = errors.New("too little extractable text")
	ErrNoChunks          = errors.New("document produced no chunks")
	ErrTooManyChunks     = errors.New("too many chunks")
	ErrChunkTooLarge     = errors.New("chunk exceeds maximum size")
	ErrBadPositions      = errors.New("chunk positions not contiguous")
)

var pdfMagic = []byte("%PDF-")

// Limits bounds what the pipeline accepts.
type Limits struct {
	MaxFileSize  int64
	MaxPages     int
	MinTextChars int
	MaxChunks    int
	MaxChunkSize int
	Extensions   []string
}

// DefaultLimits returns the default acceptance limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:  250 * 1024 * 1024,
		MaxPages:     1000,
		MinTextChars: 100,
		MaxChunks:    500,
		MaxChunkSize: 4000,
		Extensions:   []string{".pdf", ".md", ".markdown"},
	}
}

// Validator applies Limits.
type Validator struct {
	limits Limits
}

// New creates a Validator.
func New(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Limits returns the limits in effect.
func (v *Validator) Limits() Limits {
	return v.limits
}

// PreCheck validates size, extension and leading bytes. head should hold at
// least the first few hundred bytes of the file; for Markdown the whole
// content is checked for valid UTF-8.
func (v *Validator) PreCheck(name string, size int64, head []byte) error {
	if size <= 0 {
		return ErrEmptyFile
	}
	if size > v.limits.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds %d byte limit", ErrTooLarge, size, v.limits.MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !v.accepts(ext) {
		return fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedType, ext, strings.Join(v.limits.Extensions, ", "))
	}

	switch ext {
	case ".pdf":
		if !bytes.HasPrefix(head, pdfMagic) {
			return fmt.Errorf("%w: missing %%PDF- header", ErrSignatureMismatch)
		}
	case ".md", ".markdown":
		if !utf8.Valid(head) || bytes.IndexByte(head, 0) >= 0 {
			return fmt.Errorf("%w: markdown is not valid UTF-8 text", ErrSignatureMismatch)
		}
	}
	return nil
}

// PostCheck validates the parsed document and its chunks.
func (v *Validator) PostCheck(doc *parser.Document, chunks []*core.Chunk) error {
	if doc.Type == core.DocumentTypePDF && len(doc.Units) > v.limits.MaxPages {
		return fmt.Errorf("%w: %d pages exceeds %d", ErrTooManyPages, len(doc.Units), v.limits.MaxPages)
	}
	if n := doc.TextLength(); n < v.limits.MinTextChars {
		return fmt.Errorf("%w: %d characters, need at least %d (scanned or image-only document?)",
			ErrTooLittleText, n, v.limits.MinTextChars)
	}
	if len(chunks) == 0 {
		return ErrNoChunks
	}
	if len(chunks) > v.limits.MaxChunks {
		return fmt.Errorf("%w: %d chunks exceeds %d", ErrTooManyChunks, len(chunks), v.limits.MaxChunks)
	}
	if err := core.ValidateChunks(chunks); err != nil {
		return fmt.Errorf("%w: %w", ErrBadPositions, err)
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c.Text); n > v.limits.MaxChunkSize {
			return fmt.Errorf("%w: chunk %d has %d characters, limit %d", ErrChunkTooLarge, c.Position, n, v.limits.MaxChunkSize)
		}
	}
	return nil
}

func (v *Validator) accepts(ext string) bool {
	for _, e := range v.limits.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
