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

// Package graph writes extracted knowledge into the concept graph.
//
// The Merger applies one chunk's extraction: concepts are upserted by
// normalized name, the chunk gets a mentions edge to each, and stated
// relationships become related_to edges. The merge and the chunk's status
// update commit together.
//
// Passes enrich the graph after sources complete:
//
//   - SourcePass asks for relationships among the concepts of one source
//   - CrossSourcePass asks for relationships among concepts shared by sources
//   - SimilarityPass links concepts whose embeddings are close
//
// Relation strength records where an edge came from: 0.8 for chunk
// extraction, 0.7 for the source pass, 0.6 for the cross-source pass and the
// cosine score for the similarity pass.
package graph
