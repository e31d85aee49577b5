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

package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/folio/core"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Markdown splits a document into sections at every heading.
// Each section carries its heading path ("Guide > Install") as its label.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a Markdown parser.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithParserOptions(
				gmparser.WithAutoHeadingID(),
			),
		),
	}
}

// heading is a heading located in the source.
type heading struct {
	lineStart int // offset of the first byte of the heading's line
	level     int
	title     string
	id        string
}

// Parse implements Parser.
func (m *Markdown) Parse(ctx context.Context, name string, content []byte) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := m.md.Parser().Parse(text.NewReader(content))

	tree, err := toc.Inspect(doc, content, toc.Compact(true))
	if err != nil {
		return nil, fmt.Errorf("%w: inspect headings: %w", ErrParseFailed, err)
	}
	paths := make(map[string]string)
	collectPaths(tree.Items, nil, paths)

	headings := collectHeadings(doc, content)

	result := &Document{
		Type:     core.DocumentTypeMarkdown,
		Metadata: map[string]string{"parser": "goldmark"},
	}

	// Text before the first heading becomes an unlabeled preamble section.
	end := len(content)
	if len(headings) > 0 {
		end = headings[0].lineStart
	}
	if preamble := strings.TrimSpace(string(content[:end])); preamble != "" {
		result.Units = append(result.Units, Unit{Text: preamble})
	}

	for i, h := range headings {
		end := len(content)
		if i+1 < len(headings) {
			end = headings[i+1].lineStart
		}
		label := paths[h.id]
		if label == "" {
			label = h.title
		}
		result.Units = append(result.Units, Unit{
			Label: label,
			Text:  strings.TrimSpace(string(content[h.lineStart:end])),
		})
		if result.Title == "" && h.level == 1 {
			result.Title = h.title
		}
	}

	for i := range result.Units {
		result.Units[i].Number = i + 1
	}

	return result, nil
}

// collectHeadings returns document-level headings in source order.
func collectHeadings(doc ast.Node, source []byte) []heading {
	var headings []heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		entry := heading{
			lineStart: lineStart(source, seg.Start),
			level:     h.Level,
			title:     strings.TrimSpace(string(seg.Value(source))),
		}
		if v, ok := h.AttributeString("id"); ok {
			if id, ok := v.([]byte); ok {
				entry.id = string(id)
			}
		}
		headings = append(headings, entry)
	}
	return headings
}

// collectPaths maps heading ids to their " > " joined ancestry.
func collectPaths(items toc.Items, ancestors []string, paths map[string]string) {
	for _, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))
		if len(item.ID) > 0 {
			paths[string(item.ID)] = strings.Join(path, " > ")
		}
		collectPaths(item.Items, path, paths)
	}
}

// lineStart walks back from offset to the beginning of its line.
func lineStart(source []byte, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	if i := bytes.LastIndexByte(source[:offset], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
