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

package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/folio/chunker"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/objectstore"
	"github.com/poiesic/folio/parser"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/validation"
)

// DefaultParseTimeout bounds a single parse.
const DefaultParseTimeout = 2 * time.Minute

// headSize is how many leading bytes the pre-check inspects for PDFs.
const headSize = 512

var (
	// ErrStoreRequired is returned when no document store is provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrRejected wraps every reason a document was recorded as PARSE_FAILED.
	ErrRejected = errors.New("document rejected")
)

// Upload is one document delivered to the stage.
type Upload struct {
	Key     string // natural key, usually the object path
	Content []byte
}

// Stage is the Intake Stage. It is safe for concurrent use; uploads of the
// same key race only at the final replace, where the last commit wins.
type Stage struct {
	store        storage.SourceRepository
	registry     *parser.Registry
	chunker      *chunker.Chunker
	validator    *validation.Validator
	parseTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithParseTimeout bounds how long a single parse may run.
// Default is DefaultParseTimeout.
func WithParseTimeout(d time.Duration) Option {
	return func(s *Stage) {
		if d > 0 {
			s.parseTimeout = d
		}
	}
}

// WithRegistry replaces the default parser registry.
func WithRegistry(r *parser.Registry) Option {
	return func(s *Stage) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(s *Stage) {
		if c != nil {
			s.chunker = c
		}
	}
}

// WithValidator replaces the default validator.
func WithValidator(v *validation.Validator) Option {
	return func(s *Stage) {
		if v != nil {
			s.validator = v
		}
	}
}

// New creates an Intake Stage writing to store.
func New(store storage.SourceRepository, opts ...Option) (*Stage, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	c, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Stage{
		store:        store,
		registry:     parser.NewRegistry(),
		chunker:      c,
		validator:    validation.New(validation.DefaultLimits()),
		parseTimeout: DefaultParseTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "intake")
	return s, nil
}

// Ingest validates, parses and chunks an upload and stores the result,
// replacing any prior version of the key.
//
// When the document is rejected the source is recorded as PARSE_FAILED and
// returned together with an error wrapping ErrRejected and the reason. Any
// other error means nothing was written.
func (s *Stage) Ingest(ctx context.Context, upload Upload) (*core.Source, error) {
	start := time.Now()
	logger := s.logger.With("key", upload.Key, "file_size", len(upload.Content))

	if upload.Key == "" {
		return nil, core.ErrEmptyNaturalKey
	}

	head := upload.Content
	if strings.EqualFold(path.Ext(upload.Key), ".pdf") && len(head) > headSize {
		head = head[:headSize]
	}
	if err := s.validator.PreCheck(upload.Key, int64(len(upload.Content)), head); err != nil {
		return s.reject(ctx, logger, upload, err)
	}

	doc, err := s.parse(ctx, upload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.reject(ctx, logger, upload, err)
	}

	chunks := s.chunker.Chunk(doc)
	if err := s.validator.PostCheck(doc, chunks); err != nil {
		return s.reject(ctx, logger, upload, err)
	}

	src := s.describe(upload, doc)
	src.Status = core.SourceParsed
	stored, err := s.store.ReplaceSource(ctx, src, chunks)
	if err != nil {
		logger.Error("error storing source", "err", err)
		return nil, err
	}

	logger.Info("source stored",
		"source_id", stored.Id,
		"title", stored.Title,
		"units", stored.UnitCount,
		"chunks", len(chunks),
		"elapsed", time.Since(start))
	return stored, nil
}

// IngestObject replays a stored object through the stage. The size limit is
// checked against the object's metadata before its body is read.
func (s *Stage) IngestObject(ctx context.Context, objects objectstore.Store, key string) (*core.Source, error) {
	obj, err := objects.Head(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("head %q: %w", key, err)
	}
	if limit := s.validator.Limits().MaxFileSize; obj.Size > limit {
		err := fmt.Errorf("%w: %d bytes exceeds %d byte limit", validation.ErrTooLarge, obj.Size, limit)
		return s.reject(ctx, s.logger.With("key", key, "file_size", obj.Size), Upload{Key: key}, err)
	}

	content, err := objects.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return s.Ingest(ctx, Upload{Key: key, Content: content})
}

func (s *Stage) parse(ctx context.Context, upload Upload) (*parser.Document, error) {
	p, err := s.registry.ForPath(upload.Key)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.parseTimeout)
	defer cancel()

	doc, err := p.Parse(ctx, upload.Key, upload.Content)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", parser.ErrParseFailed, s.parseTimeout)
		}
		return nil, err
	}
	return doc, nil
}

// describe builds the source record for an upload. doc may be nil when the
// upload was rejected before parsing.
func (s *Stage) describe(upload Upload, doc *parser.Document) *core.Source {
	src := &core.Source{
		NaturalKey:  upload.Key,
		Title:       stem(upload.Key),
		Type:        typeOf(upload.Key),
		FileSize:    int64(len(upload.Content)),
		ContentHash: core.ContentHash(upload.Content),
		Metadata:    make(map[string]string),
	}
	if doc != nil {
		if doc.Title != "" {
			src.Title = doc.Title
		}
		src.Author = doc.Author
		if doc.Type != "" {
			src.Type = doc.Type
		}
		src.UnitCount = len(doc.Units)
		for k, v := range doc.Metadata {
			src.Metadata[k] = v
		}
	}
	src.Metadata["content_hash"] = src.ContentHash
	src.Metadata["file_size"] = strconv.FormatInt(src.FileSize, 10)
	return src
}

func (s *Stage) reject(ctx context.Context, logger *slog.Logger, upload Upload, reason error) (*core.Source, error) {
	src := s.describe(upload, nil)
	src.Status = core.SourceParseFailed
	src.ErrorMessage = reason.Error()

	stored, err := s.store.RecordSourceFailure(ctx, src)
	if err != nil {
		logger.Error("error recording parse failure", "reason", reason, "err", err)
		return nil, err
	}
	logger.Warn("document rejected", "source_id", stored.Id, "reason", reason)
	return stored, fmt.Errorf("%w: %w", ErrRejected, reason)
}

// stem returns the file name of key without its extension.
func stem(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

func typeOf(key string) core.DocumentType {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return core.DocumentTypePDF
	case ".md", ".markdown":
		return core.DocumentTypeMarkdown
	}
	return ""
}
