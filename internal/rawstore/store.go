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

// Package rawstore implements C3, the append-only raw event store: a
// thin wrapper over types.DocStore that shapes the three disjoint
// query modes (last-N, window, CSV) and times every call.
package rawstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/obs/metrics"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Store is the raw event store.
type Store struct {
	docs types.DocStore
}

// New constructs a Store backed by docs.
func New(docs types.DocStore) *Store {
	return &Store{docs: docs}
}

// Append writes a single raw event. Concurrent appends are independent
// and require no deduplication.
func (s *Store) Append(ctx context.Context, h *collection.Handle, ev types.Event) error {
	start := time.Now()
	err := s.docs.InsertEvent(ctx, h.Schema, h.Name, ev)
	metrics.RawWriteDurations.WithLabelValues(h.Namespace.EntityType, h.Namespace.AttrName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RawWriteErrors.WithLabelValues(h.Namespace.EntityType, h.Namespace.AttrName).Inc()
		return types.NewStoreError(err)
	}
	return nil
}

// Query executes spec against h, producing the tagged RawResult shape
// appropriate to spec.Mode. An empty match is not an error.
func (s *Store) Query(ctx context.Context, h *collection.Handle, spec types.RawQuerySpec) (types.RawResult, error) {
	start := time.Now()
	defer func() {
		metrics.RawQueryDurations.WithLabelValues(h.Namespace.EntityType, h.Namespace.AttrName).Observe(time.Since(start).Seconds())
	}()

	switch spec.Mode {
	case types.LastN, types.Window:
		events, err := s.docs.QueryEvents(ctx, h.Schema, h.Name, spec)
		if err != nil {
			return types.RawResult{}, types.NewStoreError(err)
		}
		return types.RawResult{Kind: types.Inline, Events: events}, nil

	case types.CSV:
		events, err := s.docs.QueryEvents(ctx, h.Schema, h.Name, spec)
		if err != nil {
			return types.RawResult{}, types.NewStoreError(err)
		}
		path, err := writeCSV(events)
		if err != nil {
			return types.RawResult{}, types.NewStoreError(err)
		}
		return types.RawResult{
			Kind:    types.File,
			Path:    path,
			Cleanup: func() { _ = os.Remove(path) },
		}, nil

	default:
		return types.RawResult{}, fmt.Errorf("unrecognised raw query mode %d", spec.Mode)
	}
}

// writeCSV streams events into a newly created temp file and returns
// its path; the caller owns cleanup via the returned RawResult.
func writeCSV(events []types.Event) (string, error) {
	f, err := os.CreateTemp("", "sth-raw-*.csv")
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"recvTime", "entityId", "entityType", "attrName", "attrType", "attrValue"}); err != nil {
		return "", err
	}
	for _, ev := range events {
		row := []string{
			ev.RecvTime.UTC().Format(time.RFC3339Nano),
			ev.EntityID, ev.EntityType, ev.AttrName, ev.AttrType,
			formatValue(ev.AttrValue),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
