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

package worker

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds Batch Worker settings.
type Config struct {
	// EmbeddingBatchSize caps the chunks claimed for embedding per run.
	EmbeddingBatchSize int `validate:"min=1"`
	// ConceptBatchSize caps the chunks claimed for concept extraction per run.
	ConceptBatchSize int `validate:"min=1"`
	// MaxExtractionAttempts is the extraction ceiling after which a chunk is FAILED.
	MaxExtractionAttempts int `validate:"min=1"`
	// ExtractionConcurrency bounds concurrent concept extraction calls.
	ExtractionConcurrency int `validate:"min=1,max=256"`
	// EmbeddingConcurrency bounds concurrent embedding calls.
	EmbeddingConcurrency int `validate:"min=1,max=256"`
	// MaxEmbeddingTokens is the bound texts are truncated to when the
	// embedding service rejects them as too long.
	MaxEmbeddingTokens int `validate:"min=1"`
	// SoftBudget is how long a run may keep starting new work.
	SoftBudget time.Duration `validate:"gt=0"`
	// HardLimit is the deadline the Scheduler gives each run.
	HardLimit time.Duration `validate:"gtfield=SoftBudget"`
	// Interval is how often the Scheduler starts a run.
	Interval time.Duration `validate:"gt=0"`
}

// DefaultConfig returns the default worker settings.
func DefaultConfig() Config {
	return Config{
		EmbeddingBatchSize:    500,
		ConceptBatchSize:      200,
		MaxExtractionAttempts: 3,
		ExtractionConcurrency: 20,
		EmbeddingConcurrency:  8,
		MaxEmbeddingTokens:    8191,
		SoftBudget:            9 * time.Minute,
		HardLimit:             10 * time.Minute,
		Interval:              5 * time.Minute,
	}
}

var validate = validator.New()

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
