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

package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/folio/storage"
)

// encodeVector converts a vector to a column value: a pgvector on
// PostgreSQL, a JSON array on SQLite. Empty vectors are stored as NULL.
func (s *Store) encodeVector(v []float32) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if s.dialect == DialectPostgres {
		return pgvector.NewVector(v), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return string(b), nil
}

// decodeVector parses a vector column scanned as text.
func (s *Store) decodeVector(col sql.NullString) ([]float32, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	if s.dialect == DialectPostgres {
		var v pgvector.Vector
		if err := v.Scan(col.String); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		return v.Slice(), nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return v, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	m := make(map[string]string)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return m, nil
}
