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

// Package parser turns raw document bytes into an ordered sequence of
// structural units (PDF pages, Markdown sections).
//
// Parsers are black boxes to the rest of the pipeline: they only promise a
// Document whose Units are in reading order and numbered from 1.
package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/folio/core"
)

var (
	// ErrUnsupportedType indicates no parser is registered for a file extension.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrParseFailed indicates the document could not be read (corrupt, encrypted, scanned).
	ErrParseFailed = errors.New("parse failed")

	// ErrToolMissing indicates an external extraction tool is not installed.
	ErrToolMissing = errors.New("extraction tool not found")
)

// Unit is one structural piece of a document: a page or a section.
type Unit struct {
	Number int    // 1-based position in the document
	Label  string // section heading path; empty for pages
	Text   string
}

// Document is the structured result of parsing.
type Document struct {
	Title    string
	Author   string
	Type     core.DocumentType
	Units    []Unit
	Metadata map[string]string
}

// TextLength returns the number of characters of non-whitespace-padded text
// across all units.
func (d *Document) TextLength() int {
	n := 0
	for _, u := range d.Units {
		n += utf8.RuneCountInString(strings.TrimSpace(u.Text))
	}
	return n
}

// Parser extracts a Document from raw bytes.
// Implementations must be safe for concurrent use.
type Parser interface {
	Parse(ctx context.Context, name string, content []byte) (*Document, error)
}

// Registry selects a Parser by file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the PDF and Markdown parsers registered
// for .pdf, .md and .markdown.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(".pdf", NewPDF())
	md := NewMarkdown()
	r.Register(".md", md)
	r.Register(".markdown", md)
	return r
}

// Register associates a parser with an extension (including the dot).
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

// ForPath returns the parser for path's extension.
func (r *Registry) ForPath(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return p, nil
}

// Extensions lists the registered extensions.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	return exts
}
