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

// Package worker implements the Batch Worker.
//
// Each Run claims a bounded batch of chunks awaiting embedding and a bounded
// batch awaiting concept extraction, processes them through worker pools and
// writes every result back from a single goroutine. Each chunk's status
// transition is one atomic, ownership-checked write, so a run can stop at any
// point and the next run resumes where it left off. Sources whose chunks are
// all terminal are then marked COMPLETE.
//
// Runs are bounded by a soft budget: once it is spent no new work is started,
// in-flight calls finish, and unprocessed claims are released. The Scheduler
// invokes Run on a fixed interval with a hard deadline and never overlaps
// runs.
package worker
