// Copyright 2023 Telefonica Investigación y Desarrollo, S.A.U
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

// Package aggregate implements C4, the Aggregate Engine: it maintains
// one bucket per (namespace, resolution, origin) via in-place updates
// on ingest (each call applies one more delta to its slot), and answers
// point-lookup queries over those buckets.
package aggregate

import (
	"context"
	"time"

	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/obs/metrics"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Engine is the aggregate engine.
type Engine struct {
	docs types.DocStore
}

// New constructs an Engine backed by docs.
func New(docs types.DocStore) *Engine {
	return &Engine{docs: docs}
}

// UpdateOne applies the update protocol for exactly one resolution:
// compute the bucket origin and slot index for ev.RecvTime, then issue
// one atomic upsert-then-update store call. Called once per enabled
// resolution per retained attribute by the ingestion coordinator.
func (e *Engine) UpdateOne(ctx context.Context, h *collection.Handle, r types.Resolution, ev types.Event) error {
	origin := r.ParentTruncate(ev.RecvTime)
	slot := r.SlotIndex(ev.RecvTime)

	start := time.Now()
	var err error
	if f, ok := ev.NumericValue(); ok {
		err = e.docs.UpsertBucketSlot(ctx, h.Schema, h.Name, h.Namespace, r, origin, slot, &f, nil)
	} else if sv, ok := ev.StringValue(); ok {
		err = e.docs.UpsertBucketSlot(ctx, h.Schema, h.Name, h.Namespace, r, origin, slot, nil, &sv)
	} else {
		return types.ErrTypeMismatch
	}

	labels := []string{h.Namespace.EntityType, h.Namespace.AttrName, string(r)}
	metrics.BucketUpdateDurations.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BucketUpdateErrors.WithLabelValues(labels...).Inc()
		return types.NewStoreError(err)
	}
	return nil
}

// UpdateAll applies ev to every resolution in types.AllResolutions,
// stopping at the first error. Per §5, raw write and aggregate update
// for a single attribute are independent of one another, but the five
// resolutions within the aggregate update share no ordering
// requirement either: each is a disjoint bucket document.
func (e *Engine) UpdateAll(ctx context.Context, h *collection.Handle, ev types.Event) error {
	for _, r := range types.AllResolutions {
		if err := e.UpdateOne(ctx, h, r, ev); err != nil {
			return err
		}
	}
	return nil
}

// Query answers an aggregate point-lookup: every bucket whose origin
// lies in [truncate(from), truncate(to)]. spec.Method is only checked
// against the bucket kind (ErrTypeMismatch on a mismatch); buckets are
// returned unprojected, with every slot field, and projection to the
// method happens in the presentation layer.
// Buckets are always returned at their full, fixed sub-unit width: a
// slot's position in Numeric/String is its true second/minute/hour/
// day/month offset, and dropping samples=0 slots (per FilterEmpty) is
// left to the presentation layer, which can still compute that true
// offset before any slot is discarded.
func (e *Engine) Query(ctx context.Context, h *collection.Handle, spec types.AggregateQuerySpec) ([]types.Bucket, error) {
	from := spec.Resolution.ParentTruncate(spec.From)
	to := spec.Resolution.ParentTruncate(spec.To)

	buckets, err := e.docs.QueryBuckets(ctx, h.Schema, h.Name, h.Namespace, spec.Resolution, from, to)
	if err != nil {
		return nil, types.NewStoreError(err)
	}

	for _, b := range buckets {
		if spec.Method == types.MethodOccur && b.IsNumeric() {
			return nil, types.ErrTypeMismatch
		}
		if spec.Method != types.MethodOccur && !b.IsNumeric() {
			return nil, types.ErrTypeMismatch
		}
	}

	return buckets, nil
}
