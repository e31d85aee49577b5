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
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/folio/core"
)

// dispatch runs fn for each chunk on pool and delivers the results on the
// returned channel, which is closed once every submitted task has finished.
// Before each submission stop is consulted; once it reports true the
// remaining chunks are not submitted. Submission blocks while the pool is
// at capacity, which bounds concurrent calls to the pool size.
func dispatch[T any](ctx context.Context, pool *ants.Pool, chunks []*core.Chunk, stop func() bool,
	fn func(context.Context, *core.Chunk) T) <-chan T {
	results := make(chan T)

	go func() {
		defer close(results)

		var wg sync.WaitGroup
		for _, chunk := range chunks {
			if ctx.Err() != nil || stop() {
				break
			}
			wg.Add(1)
			err := pool.Submit(func() {
				defer wg.Done()
				results <- fn(ctx, chunk)
			})
			if err != nil {
				wg.Done()
				break
			}
		}
		wg.Wait()
	}()

	return results
}

// drain stops further submissions and waits for in-flight tasks, discarding
// their results. It lets a consumer return early without leaking tasks.
func drain[T any](cancel context.CancelFunc, results <-chan T) {
	cancel()
	for range results {
	}
}
