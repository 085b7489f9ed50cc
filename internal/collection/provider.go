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

// Package collection implements C2, the Collection Provider: it turns
// a namespace tuple into a located-or-created collection handle,
// delegating identifier derivation to internal/namespace and physical
// creation to a types.DocStore.
package collection

import (
	"context"
	"sync"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/namespace"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Options parameterises Get.
type Options struct {
	Family    types.Family
	Create    bool
	StoreHash bool
	Truncate  types.TruncationPolicy
}

// Handle identifies a located collection along with the namespace it
// was resolved from, so callers can still address individual events
// and buckets within it.
type Handle struct {
	Namespace types.NamespaceTuple
	Schema    ident.Schema
	Name      ident.Collection
	Family    types.Family
}

// PolicyEntry records one collection's truncation policy, for the
// janitor to enforce periodically.
type PolicyEntry struct {
	Schema ident.Schema
	Name   ident.Collection
	Family types.Family
	Policy types.TruncationPolicy
}

// Provider locates or creates collections for a namespace tuple.
type Provider struct {
	store    types.DocStore
	resolver *namespace.Resolver

	mu       sync.Mutex
	policies map[string]PolicyEntry
}

// New constructs a Provider backed by store, deriving identifiers with
// resolver.
func New(store types.DocStore, resolver *namespace.Resolver) *Provider {
	return &Provider{store: store, resolver: resolver, policies: make(map[string]PolicyEntry)}
}

// Policies returns every collection created so far with a non-trivial
// truncation policy, for the janitor to walk.
func (p *Provider) Policies() []PolicyEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PolicyEntry, 0, len(p.policies))
	for _, e := range p.policies {
		out = append(out, e)
	}
	return out
}

func (p *Provider) rememberPolicy(e PolicyEntry) {
	if e.Policy.None() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies[e.Schema.Raw()+"."+e.Name.Raw()] = e
}

// Get locates, or optionally creates, the collection for tuple in the
// requested family. With Create=false, an absent collection yields
// types.ErrNotFound, which callers on the query path treat as "no
// data" rather than propagating it as a failure.
func (p *Provider) Get(ctx context.Context, schema ident.Schema, tuple types.NamespaceTuple, opts Options) (*Handle, error) {
	name, hashed, err := p.resolver.Resolve(tuple, opts.Family)
	if err != nil {
		return nil, err
	}

	if !opts.Create {
		exists, err := p.store.CollectionExists(ctx, schema, name, opts.Family)
		if err != nil {
			return nil, types.NewStoreError(err)
		}
		if !exists {
			return nil, types.ErrNotFound
		}
		return &Handle{Namespace: tuple, Schema: schema, Name: name, Family: opts.Family}, nil
	}

	switch opts.Family {
	case types.AggregatedFamily:
		if err := p.store.EnsureAggregateCollection(ctx, schema, name, opts.Truncate); err != nil {
			return nil, types.NewStoreError(err)
		}
	default:
		if err := p.store.EnsureRawCollection(ctx, schema, name, opts.Truncate); err != nil {
			return nil, types.NewStoreError(err)
		}
	}

	p.rememberPolicy(PolicyEntry{Schema: schema, Name: name, Family: opts.Family, Policy: opts.Truncate})

	if opts.StoreHash && hashed {
		rec := types.HashOriginRecord{
			Hash:      name.Raw(),
			Namespace: tuple,
			Service:   schema.Raw(),
			Family:    opts.Family,
		}
		if err := p.store.RecordHashOrigin(ctx, schema, rec); err != nil {
			return nil, types.NewStoreError(err)
		}
	}

	return &Handle{Namespace: tuple, Schema: schema, Name: name, Family: opts.Family}, nil
}
