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

// Package storage provides the storage abstraction layer for folio.
//
// This package defines repository interfaces that decouple the pipeline from
// the relational store that holds all progress. Nothing in the pipeline keeps
// state in memory between worker invocations: every status transition is a
// single conditional write here.
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces:
//
//	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: path})  // storage.Store
//
// Internal helpers inside implementation packages may return concrete types.
//
// # Architecture
//
//   - Repository: transactions and lifecycle shared by all repositories
//   - SourceRepository: sources, replace-by-natural-key, completion
//   - ChunkRepository: claim/lease state machine for embedding and extraction
//   - GraphRepository: concept upsert and idempotent edges
//   - Store: all of the above
//
// # Transactions
//
// WithTransaction places the transaction in the context it hands to fn.
// Every repository method looks for a transaction in its context first, so
// calls made inside fn commit or roll back together:
//
//	err := store.WithTransaction(ctx, func(ctx context.Context) error {
//	    c, err := store.UpsertConcept(ctx, concept)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = store.AddMention(ctx, core.Mention{ChunkId: id, ConceptId: c.Id})
//	    return err
//	})
//
// # Thread Safety
//
// All repository implementations must be thread-safe. Uniqueness is enforced
// by store constraints, never by application-side check-then-insert.
package storage
