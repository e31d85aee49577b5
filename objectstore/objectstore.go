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

// Package objectstore reads uploaded documents from object storage.
//
// The Intake Stage is fed either by an upload event carrying the bytes or by
// a key replayed from a Store. Two implementations are provided: S3 (and
// S3-compatible services such as MinIO) and Dir, a local directory.
package objectstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates no object exists under the key.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey indicates a key that is empty or escapes the store.
	ErrInvalidKey = errors.New("invalid object key")
)

// Object describes a stored object.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is read access to uploaded documents.
type Store interface {
	// Head returns the object's metadata without reading its body.
	Head(ctx context.Context, key string) (Object, error)

	// Get returns the object's content.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the objects whose keys start with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// FilterByExtension keeps objects whose key ends in one of exts
// (compared case-insensitively, each including the leading dot).
func FilterByExtension(objects []Object, exts []string) []Object {
	var out []Object
	for _, o := range objects {
		lower := strings.ToLower(o.Key)
		if slices.ContainsFunc(exts, func(ext string) bool { return strings.HasSuffix(lower, strings.ToLower(ext)) }) {
			out = append(out, o)
		}
	}
	return out
}

func sortObjects(objects []Object) {
	slices.SortFunc(objects, func(a, b Object) int { return strings.Compare(a.Key, b.Key) })
}
