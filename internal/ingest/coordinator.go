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

// Package ingest implements C5, the Ingestion Coordinator: it parses a
// notification, filters non-aggregatable attribute values, and fans
// out the retained attributes to the raw store and aggregate engine in
// parallel, synchronizing on a single reply.
package ingest

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pasquy73/fiware-sth-comet/internal/aggregate"
	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/obs/metrics"
	"github.com/pasquy73/fiware-sth-comet/internal/rawstore"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Attribute is one attribute of a flattened context element.
type Attribute struct {
	Name        string
	Type        string
	Value       any
	TimeInstant *time.Time // from metadata.TimeInstant, if present
}

// ContextElement is one element of a notification's contextResponses.
type ContextElement struct {
	ID         string
	Type       string
	Attributes []Attribute
}

// ErrValidation reports a malformed notification; Keys names the
// offending field(s) in the "payload" source, per the HTTP error body
// shape.
type ErrValidation struct {
	Keys []string
}

func (e *ErrValidation) Error() string {
	return "validation error in payload: " + strings.Join(e.Keys, ", ")
}

// Coordinator is the ingestion coordinator.
type Coordinator struct {
	provider *collection.Provider
	raw      *rawstore.Store
	agg      *aggregate.Engine

	mode              types.StoreMode
	ignoreBlankSpaces bool
	storeHash         bool
	truncate          types.TruncationPolicy
}

// Options configures a Coordinator.
type Options struct {
	Mode              types.StoreMode
	IgnoreBlankSpaces bool
	StoreHash         bool
	Truncate          types.TruncationPolicy
}

// New constructs a Coordinator.
func New(provider *collection.Provider, raw *rawstore.Store, agg *aggregate.Engine, opts Options) *Coordinator {
	return &Coordinator{
		provider:          provider,
		raw:               raw,
		agg:               agg,
		mode:              opts.Mode,
		ignoreBlankSpaces: opts.IgnoreBlankSpaces,
		storeHash:         opts.StoreHash,
		truncate:          opts.Truncate,
	}
}

// flatten drops attributes whose value is neither string nor number,
// and (when ignoreBlankSpaces is set) whose trimmed string value is
// empty, then resolves duplicate attribute names within the same
// element to the one with the latest effective timestamp.
func (c *Coordinator) flatten(attrs []Attribute, recvTime time.Time) []Attribute {
	kept := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case float64:
			kept = append(kept, a)
		case string:
			if c.ignoreBlankSpaces && strings.TrimSpace(v) == "" {
				continue
			}
			kept = append(kept, a)
		default:
			// Neither string nor number: dropped.
		}
	}
	return uniqueByName(kept, recvTime)
}

// uniqueByName resolves duplicate attribute names to the one with the
// latest effective timestamp (its own metadata.TimeInstant, or recvTime
// when absent), a "last one wins" rule adapted from the mutation
// deduplication the teacher applies to batched changefeed rows.
func uniqueByName(attrs []Attribute, recvTime time.Time) []Attribute {
	effective := func(a Attribute) time.Time {
		if a.TimeInstant != nil {
			return *a.TimeInstant
		}
		return recvTime
	}

	seenIdx := make(map[string]int, len(attrs))
	dest := len(attrs)
	for src := len(attrs) - 1; src >= 0; src-- {
		name := attrs[src].Name
		if curIdx, found := seenIdx[name]; found {
			if effective(attrs[src]).After(effective(attrs[curIdx])) {
				attrs[curIdx] = attrs[src]
			}
			continue
		}
		dest--
		seenIdx[name] = dest
		attrs[dest] = attrs[src]
	}
	return attrs[dest:]
}

// Ingest processes one notification. recvTime is the server-side
// receive time used for every attribute that carries no
// metadata.TimeInstant override. The returned error, if any, is the
// first subtask error observed; every subtask still runs to
// completion regardless of ctx cancellation; only the reply is
// suppressed on a second completion.
func (c *Coordinator) Ingest(ctx context.Context, schema ident.Schema, service, servicePath string, el ContextElement, recvTime time.Time) error {
	retained := c.flatten(el.Attributes, recvTime)
	if len(retained) == 0 {
		return &ErrValidation{Keys: []string{"attributes"}}
	}

	// Every subtask runs against one shared detached context that none of
	// them can cancel, rather than an errgroup.WithContext cancellation
	// context: one attribute's
	// raw or aggregate write failing must not abort the sibling
	// subtasks writing the other attributes of this same notification
	// (each is an independent slot update against a disjoint bucket or
	// row). An errgroup.Group with no shared context still gives us
	// concurrent fan-out plus "wait for all, return the first error".
	var g errgroup.Group
	subCtx := detach(ctx)

	for _, a := range retained {
		a := a
		ts := recvTime
		if a.TimeInstant != nil {
			ts = *a.TimeInstant
		}
		ev := types.Event{
			RecvTime:   ts,
			EntityID:   el.ID,
			EntityType: el.Type,
			AttrName:   a.Name,
			AttrType:   a.Type,
			AttrValue:  a.Value,
		}
		tuple := types.NamespaceTuple{
			Service: service, ServicePath: servicePath,
			EntityID: el.ID, EntityType: el.Type, AttrName: a.Name,
		}

		if c.mode == types.OnlyRaw || c.mode == types.Both {
			g.Go(func() error {
				err := c.writeRaw(subCtx, schema, tuple, ev)
				metrics.IngestSubtasks.WithLabelValues(outcome(err)).Inc()
				return err
			})
		}
		if c.mode == types.OnlyAggregated || c.mode == types.Both {
			g.Go(func() error {
				err := c.writeAggregate(subCtx, schema, tuple, ev)
				metrics.IngestSubtasks.WithLabelValues(outcome(err)).Inc()
				return err
			})
		}
	}

	return g.Wait()
}

func (c *Coordinator) writeRaw(ctx context.Context, schema ident.Schema, tuple types.NamespaceTuple, ev types.Event) error {
	h, err := c.provider.Get(ctx, schema, tuple, collection.Options{
		Family: types.RawFamily, Create: true, StoreHash: c.storeHash, Truncate: c.truncate,
	})
	if err != nil {
		return err
	}
	return c.raw.Append(ctx, h, ev)
}

func (c *Coordinator) writeAggregate(ctx context.Context, schema ident.Schema, tuple types.NamespaceTuple, ev types.Event) error {
	h, err := c.provider.Get(ctx, schema, tuple, collection.Options{
		Family: types.AggregatedFamily, Create: true, StoreHash: c.storeHash, Truncate: c.truncate,
	})
	if err != nil {
		return err
	}
	return c.agg.UpdateAll(ctx, h, ev)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

// detach strips cancellation from ctx while preserving its values, so
// that a client disconnect does not abort in-flight store operations
// (§5's cancellation contract). Every subtask shares this same detached
// context, but none of them can cancel it: Ingest's errgroup.Group has
// no cancellable context of its own, so one subtask's failure never
// propagates to its siblings.
type detachedContext struct{ context.Context }

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }

func detach(ctx context.Context) context.Context { return detachedContext{ctx} }
