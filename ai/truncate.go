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

package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used to bound embedding input.
const DefaultEncoding = "cl100k_base"

// charsPerToken approximates token length when no tokenizer is available.
const charsPerToken = 4

// Truncator cuts text to a token bound. When the tokenizer cannot be loaded
// it falls back to a character bound of charsPerToken per token.
type Truncator struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTruncator creates a truncator for the named tiktoken encoding.
func NewTruncator(encoding string) *Truncator {
	return &Truncator{encoding: encoding}
}

func (t *Truncator) tokenizer() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	return t.enc
}

// Truncate returns text cut to at most maxTokens tokens.
// Text within the bound is returned unchanged.
func (t *Truncator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if enc := t.tokenizer(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens])
	}
	runes := []rune(text)
	if limit := maxTokens * charsPerToken; len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}
