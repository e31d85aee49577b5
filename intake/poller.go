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

package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/folio/objectstore"
	"github.com/poiesic/folio/storage"
)

// DefaultPollInterval is how often a Poller lists the object store.
const DefaultPollInterval = time.Minute

// PollResult summarizes one pass over the object store.
type PollResult struct {
	Seen     int
	Ingested int
	Rejected int
	Skipped  int
}

// Poller feeds new or changed objects to a Stage. An object is ingested when
// no source exists for its key, its size differs from the recorded version,
// or it was modified after that version was ingested. Later writes to the
// source, such as completion, do not count.
type Poller struct {
	stage    *Stage
	objects  objectstore.Store
	prefix   string
	interval time.Duration
}

// NewPoller creates a Poller over the objects under prefix.
func NewPoller(stage *Stage, objects objectstore.Store, prefix string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{stage: stage, objects: objects, prefix: prefix, interval: interval}
}

// Run polls until ctx is done. Errors from a pass are logged and polling
// continues.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.stage.logger.Error("error polling object store", "prefix", p.prefix, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce makes a single pass. Per-object failures do not stop the pass;
// they are returned joined.
func (p *Poller) PollOnce(ctx context.Context) (PollResult, error) {
	var result PollResult

	objects, err := p.objects.List(ctx, p.prefix)
	if err != nil {
		return result, fmt.Errorf("list %q: %w", p.prefix, err)
	}
	objects = objectstore.FilterByExtension(objects, p.stage.validator.Limits().Extensions)
	result.Seen = len(objects)

	var errs []error
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fresh, err := p.needsIngest(ctx, obj)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", obj.Key, err))
			continue
		}
		if !fresh {
			result.Skipped++
			continue
		}

		_, err = p.stage.IngestObject(ctx, p.objects, obj.Key)
		switch {
		case err == nil:
			result.Ingested++
		case errors.Is(err, ErrRejected):
			result.Rejected++
		default:
			errs = append(errs, fmt.Errorf("%s: %w", obj.Key, err))
		}
	}

	if result.Ingested > 0 || result.Rejected > 0 {
		p.stage.logger.Info("object store poll complete",
			"prefix", p.prefix,
			"seen", result.Seen,
			"ingested", result.Ingested,
			"rejected", result.Rejected,
			"skipped", result.Skipped)
	}
	return result, errors.Join(errs...)
}

func (p *Poller) needsIngest(ctx context.Context, obj objectstore.Object) (bool, error) {
	src, err := p.stage.store.GetSourceByKey(ctx, obj.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if src.FileSize > 0 && obj.Size != src.FileSize {
		return true, nil
	}
	return obj.ModTime.After(src.InsertedAt), nil
}
