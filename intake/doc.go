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

// Package intake turns uploaded documents into stored sources and chunks.
//
// A Stage validates, parses and chunks one upload, then replaces any prior
// version of the same key in a single transaction. Documents that are
// rejected or fail to parse are recorded as PARSE_FAILED with the reason.
// No AI calls are made here; embedding and concept extraction happen later
// in the worker.
//
// A Poller watches an object store and feeds new or changed keys to a Stage.
package intake
