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

package core

import "fmt"

// ValidateSource validates a Source according to domain rules.
//
// Validation rules:
//   - NaturalKey must not be empty
//   - Status must be one of the known lifecycle states
//
// NOT validated:
//   - ID (0 is valid before insertion)
//   - ErrorMessage (only meaningful for PARSE_FAILED)
func ValidateSource(source *Source) error {
	if source == nil {
		return fmt.Errorf("%w: source is nil", ErrInvalidSource)
	}

	if source.NaturalKey == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSource, ErrEmptyNaturalKey)
	}

	switch source.Status {
	case SourceUploaded, SourceParsing, SourceParsed, SourceComplete, SourceParseFailed:
	default:
		return fmt.Errorf("%w: %w: %q", ErrInvalidSource, ErrInvalidSourceStatus, source.Status)
	}

	return nil
}

// ValidateChunks validates the chunks of one source as a set.
//
// Validation rules:
//   - every chunk has non-empty Text
//   - positions form the dense sequence 0..N-1 in slice order
func ValidateChunks(chunks []*Chunk) error {
	for i, chunk := range chunks {
		if chunk == nil {
			return fmt.Errorf("%w: chunk %d is nil", ErrInvalidChunk, i)
		}
		if chunk.Text == "" {
			return fmt.Errorf("%w: position %d: %w", ErrInvalidChunk, i, ErrEmptyContent)
		}
		if chunk.Position != i {
			return fmt.Errorf("%w: %w: want %d, got %d", ErrInvalidChunk, ErrPositionGap, i, chunk.Position)
		}
	}
	return nil
}

// ValidateConcept validates a Concept according to domain rules.
//
// Validation rules:
//   - Name must not be empty once normalized
//
// NOT validated (populated later):
//   - Vector
//   - Description and Category (may be filled by a later merge)
func ValidateConcept(concept *Concept) error {
	if concept == nil {
		return fmt.Errorf("%w: concept is nil", ErrInvalidConcept)
	}

	if NormalizeConceptName(concept.Name) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConcept, ErrEmptyConceptName)
	}

	return nil
}
