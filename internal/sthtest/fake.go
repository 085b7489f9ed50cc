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

// Package sthtest provides an in-memory types.DocStore fake, adapted
// from the fixture style the teacher uses for its own sink tests: a
// single struct holding every collaborator a test needs, constructed
// once per test and passed around by reference. Unlike the production
// store it keeps no SQL, no JSON round-trip and no locking beyond a
// single mutex, so unit tests never depend on a live database.
package sthtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

type rawKey struct {
	schema, collection string
}

type bucketKey struct {
	schema, collection, entityID, entityType, attrName string
	resolution                                         types.Resolution
	origin                                              time.Time
}

// Fake is an in-memory types.DocStore.
type Fake struct {
	mu sync.Mutex

	rawCollections map[rawKey]bool
	aggCollections map[rawKey]bool
	events         map[rawKey][]types.Event
	buckets        map[bucketKey]types.Bucket
	hashOrigins    map[string]types.HashOriginRecord

	// PingErr, when set, is returned by Ping; tests use it to exercise
	// the health endpoint's failure path.
	PingErr error
}

// New constructs an empty Fake.
func New() *Fake {
	return &Fake{
		rawCollections: make(map[rawKey]bool),
		aggCollections: make(map[rawKey]bool),
		events:         make(map[rawKey][]types.Event),
		buckets:        make(map[bucketKey]types.Bucket),
		hashOrigins:    make(map[string]types.HashOriginRecord),
	}
}

var _ types.DocStore = (*Fake)(nil)

func (f *Fake) Ping(ctx context.Context) error { return f.PingErr }

func (f *Fake) EnsureRawCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy types.TruncationPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCollections[rawKey{schema.Raw(), name.Raw()}] = true
	return nil
}

func (f *Fake) EnsureAggregateCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy types.TruncationPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggCollections[rawKey{schema.Raw(), name.Raw()}] = true
	return nil
}

func (f *Fake) CollectionExists(ctx context.Context, schema ident.Schema, name ident.Collection, family types.Family) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rawKey{schema.Raw(), name.Raw()}
	if family == types.AggregatedFamily {
		return f.aggCollections[k], nil
	}
	return f.rawCollections[k], nil
}

func (f *Fake) InsertEvent(ctx context.Context, schema ident.Schema, name ident.Collection, ev types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rawKey{schema.Raw(), name.Raw()}
	f.events[k] = append(f.events[k], ev)
	return nil
}

func (f *Fake) QueryEvents(ctx context.Context, schema ident.Schema, name ident.Collection, spec types.RawQuerySpec) ([]types.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rawKey{schema.Raw(), name.Raw()}

	var matched []types.Event
	for _, ev := range f.events[k] {
		if ev.EntityID != spec.EntityID || ev.EntityType != spec.EntityType || ev.AttrName != spec.AttrName {
			continue
		}
		if spec.From != nil && ev.RecvTime.Before(*spec.From) {
			continue
		}
		if spec.To != nil && ev.RecvTime.After(*spec.To) {
			continue
		}
		matched = append(matched, ev)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].RecvTime.Before(matched[j].RecvTime) })

	switch spec.Mode {
	case types.LastN:
		if len(matched) > spec.LastN {
			matched = matched[len(matched)-spec.LastN:]
		}
	case types.Window:
		end := spec.HOffset + spec.HLimit
		if spec.HOffset >= len(matched) {
			return nil, nil
		}
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[spec.HOffset:end]
	case types.CSV:
		// full match set returned, as with the production driver.
	}
	return matched, nil
}

func (f *Fake) UpsertBucketSlot(ctx context.Context, schema ident.Schema, name ident.Collection, ns types.NamespaceTuple, r types.Resolution, origin time.Time, slotIndex int, numeric *float64, str *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	bk := bucketKey{schema.Raw(), name.Raw(), ns.EntityID, ns.EntityType, ns.AttrName, r, origin.UTC()}
	b, ok := f.buckets[bk]
	if !ok {
		b = types.NewBucketSkeleton(ns, r, origin.UTC(), numeric != nil)
	}

	if numeric != nil {
		b.Numeric[slotIndex].Apply(*numeric)
	} else {
		b.String[slotIndex].Apply(*str)
	}
	f.buckets[bk] = b
	return nil
}

func (f *Fake) QueryBuckets(ctx context.Context, schema ident.Schema, name ident.Collection, ns types.NamespaceTuple, r types.Resolution, from, to time.Time) ([]types.Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Bucket
	for k, b := range f.buckets {
		if k.schema != schema.Raw() || k.collection != name.Raw() {
			continue
		}
		if k.entityID != ns.EntityID || k.entityType != ns.EntityType || k.attrName != ns.AttrName || k.resolution != r {
			continue
		}
		if k.origin.Before(from) || k.origin.After(to) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin.Before(out[j].Origin) })
	return out, nil
}

func (f *Fake) RecordHashOrigin(ctx context.Context, schema ident.Schema, rec types.HashOriginRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := schema.Raw() + "/" + rec.Hash
	if _, exists := f.hashOrigins[key]; !exists {
		f.hashOrigins[key] = rec
	}
	return nil
}

func (f *Fake) LookupHashOrigin(ctx context.Context, schema ident.Schema, hash string) (types.HashOriginRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.hashOrigins[schema.Raw()+"/"+hash]
	return rec, ok, nil
}

func (f *Fake) ListAttributeNames(ctx context.Context, schema ident.Schema, entityID, entityType string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)
	var names []string
	collect := func(collections map[rawKey]bool) {
		for k := range collections {
			if k.schema != schema.Raw() {
				continue
			}
			if !strings.Contains(k.collection, entityType) || !strings.Contains(k.collection, entityID) {
				continue
			}
			parts := strings.Split(strings.TrimSuffix(k.collection, ident.AggregateSuffix), "_")
			attr := parts[len(parts)-1]
			if !seen[attr] {
				seen[attr] = true
				names = append(names, attr)
			}
		}
	}
	collect(f.rawCollections)
	collect(f.aggCollections)
	sort.Strings(names)
	return names, nil
}
