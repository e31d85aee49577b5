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

import "errors"

// Domain validation errors
var (
	// ErrInvalidSource indicates a Source failed validation.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidConcept indicates a Concept failed validation.
	ErrInvalidConcept = errors.New("invalid concept")

	// ErrEmptyNaturalKey indicates the Source natural key is empty.
	ErrEmptyNaturalKey = errors.New("natural key cannot be empty")

	// ErrInvalidSourceStatus indicates an unknown SourceStatus value.
	ErrInvalidSourceStatus = errors.New("invalid source status")

	// ErrEmptyContent indicates a chunk has no text.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrPositionGap indicates chunk positions are not a dense 0..N-1 sequence.
	ErrPositionGap = errors.New("chunk positions must be contiguous from zero")

	// ErrEmptyConceptName indicates the concept Name field is empty.
	ErrEmptyConceptName = errors.New("concept name cannot be empty")
)
