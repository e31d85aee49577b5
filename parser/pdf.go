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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/folio/core"
)

const defaultPDFTimeout = 60 * time.Second

// PDF extracts text page by page with poppler's pdftotext.
// Pages are separated by form feeds in pdftotext output.
type PDF struct {
	timeout  time.Duration
	textTool string
	infoTool string
}

// PDFOption configures a PDF parser.
type PDFOption func(*PDF)

// WithPDFTimeout bounds each external tool invocation.
func WithPDFTimeout(d time.Duration) PDFOption {
	return func(p *PDF) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPDFTools overrides the pdftotext and pdfinfo executables.
func WithPDFTools(textTool, infoTool string) PDFOption {
	return func(p *PDF) {
		p.textTool = textTool
		p.infoTool = infoTool
	}
}

// NewPDF creates a PDF parser.
func NewPDF(opts ...PDFOption) *PDF {
	p := &PDF{
		timeout:  defaultPDFTimeout,
		textTool: "pdftotext",
		infoTool: "pdfinfo",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse implements Parser.
func (p *PDF) Parse(ctx context.Context, name string, content []byte) (*Document, error) {
	if _, err := exec.LookPath(p.textTool); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrToolMissing, p.textTool, err)
	}

	tmpDir, err := os.MkdirTemp("", "folio-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, content, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	out, err := p.run(ctx, p.textTool, "-enc", "UTF-8", "-eol", "unix", "-q", pdfPath, "-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	doc := &Document{
		Type:     core.DocumentTypePDF,
		Units:    splitPages(string(out)),
		Metadata: map[string]string{"parser": p.textTool},
	}

	// Metadata is best effort; a missing pdfinfo never fails the parse.
	if info, err := p.info(ctx, pdfPath); err == nil {
		doc.Title = info["Title"]
		doc.Author = info["Author"]
		if producer := info["Producer"]; producer != "" {
			doc.Metadata["producer"] = producer
		}
	}

	return doc, nil
}

func (p *PDF) run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s timed out after %s", tool, p.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", tool, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

func (p *PDF) info(ctx context.Context, pdfPath string) (map[string]string, error) {
	if _, err := exec.LookPath(p.infoTool); err != nil {
		return nil, err
	}
	out, err := p.run(ctx, p.infoTool, "-enc", "UTF-8", pdfPath)
	if err != nil {
		return nil, err
	}
	return parseInfo(out), nil
}

// parseInfo reads "Key:   value" lines from pdfinfo output.
func parseInfo(out []byte) map[string]string {
	info := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		info[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return info
}

// splitPages splits pdftotext output on form feeds.
// pdftotext terminates every page (including the last) with a form feed.
func splitPages(text string) []Unit {
	text = strings.TrimSuffix(text, "\f")
	if text == "" {
		return nil
	}
	pages := strings.Split(text, "\f")
	units := make([]Unit, len(pages))
	for i, page := range pages {
		units[i] = Unit{Number: i + 1, Text: strings.TrimSpace(page)}
	}
	return units
}
