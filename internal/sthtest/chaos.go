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

package sthtest

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// ErrChaos is injected by Chaos at the probability it was constructed
// with, standing in for a flaky document store in tests that exercise
// error handling (e.g. the ingestion coordinator's first-error
// semantics under partial subtask failure).
var ErrChaos = errors.New("chaos")

// Chaos wraps a types.DocStore, injecting ErrChaos into each method at
// a fixed probability. A probability of zero returns the delegate
// unwrapped.
func Chaos(delegate types.DocStore, prob float32) types.DocStore {
	if prob <= 0 {
		return delegate
	}
	return &chaosStore{delegate: delegate, prob: prob}
}

type chaosStore struct {
	delegate types.DocStore
	prob     float32
}

var _ types.DocStore = (*chaosStore)(nil)

func (c *chaosStore) roll(op string) error {
	if rand.Float32() < c.prob {
		return errors.WithMessage(ErrChaos, op)
	}
	return nil
}

func (c *chaosStore) EnsureRawCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy types.TruncationPolicy) error {
	if err := c.roll("EnsureRawCollection"); err != nil {
		return err
	}
	return c.delegate.EnsureRawCollection(ctx, schema, name, policy)
}

func (c *chaosStore) EnsureAggregateCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy types.TruncationPolicy) error {
	if err := c.roll("EnsureAggregateCollection"); err != nil {
		return err
	}
	return c.delegate.EnsureAggregateCollection(ctx, schema, name, policy)
}

func (c *chaosStore) CollectionExists(ctx context.Context, schema ident.Schema, name ident.Collection, family types.Family) (bool, error) {
	if err := c.roll("CollectionExists"); err != nil {
		return false, err
	}
	return c.delegate.CollectionExists(ctx, schema, name, family)
}

func (c *chaosStore) InsertEvent(ctx context.Context, schema ident.Schema, name ident.Collection, ev types.Event) error {
	if err := c.roll("InsertEvent"); err != nil {
		return err
	}
	return c.delegate.InsertEvent(ctx, schema, name, ev)
}

func (c *chaosStore) QueryEvents(ctx context.Context, schema ident.Schema, name ident.Collection, spec types.RawQuerySpec) ([]types.Event, error) {
	if err := c.roll("QueryEvents"); err != nil {
		return nil, err
	}
	return c.delegate.QueryEvents(ctx, schema, name, spec)
}

func (c *chaosStore) UpsertBucketSlot(ctx context.Context, schema ident.Schema, name ident.Collection, ns types.NamespaceTuple, r types.Resolution, origin time.Time, slotIndex int, numeric *float64, str *string) error {
	if err := c.roll("UpsertBucketSlot"); err != nil {
		return err
	}
	return c.delegate.UpsertBucketSlot(ctx, schema, name, ns, r, origin, slotIndex, numeric, str)
}

func (c *chaosStore) QueryBuckets(ctx context.Context, schema ident.Schema, name ident.Collection, ns types.NamespaceTuple, r types.Resolution, from, to time.Time) ([]types.Bucket, error) {
	if err := c.roll("QueryBuckets"); err != nil {
		return nil, err
	}
	return c.delegate.QueryBuckets(ctx, schema, name, ns, r, from, to)
}

func (c *chaosStore) RecordHashOrigin(ctx context.Context, schema ident.Schema, rec types.HashOriginRecord) error {
	if err := c.roll("RecordHashOrigin"); err != nil {
		return err
	}
	return c.delegate.RecordHashOrigin(ctx, schema, rec)
}

func (c *chaosStore) LookupHashOrigin(ctx context.Context, schema ident.Schema, hash string) (types.HashOriginRecord, bool, error) {
	if err := c.roll("LookupHashOrigin"); err != nil {
		return types.HashOriginRecord{}, false, err
	}
	return c.delegate.LookupHashOrigin(ctx, schema, hash)
}

func (c *chaosStore) ListAttributeNames(ctx context.Context, schema ident.Schema, entityID, entityType string) ([]string, error) {
	if err := c.roll("ListAttributeNames"); err != nil {
		return nil, err
	}
	return c.delegate.ListAttributeNames(ctx, schema, entityID, entityType)
}

func (c *chaosStore) Ping(ctx context.Context) error {
	if err := c.roll("Ping"); err != nil {
		return err
	}
	return c.delegate.Ping(ctx)
}
