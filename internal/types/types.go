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

// Package types contains the data types and narrow store interfaces
// shared by the namespace, collection, raw store and aggregate engine
// packages. Keeping them together lets those packages depend on
// interfaces here rather than on the concrete pgx-backed driver in
// internal/store.
package types

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
)

// Family distinguishes the raw and aggregated collection namespaces
// that exist per namespace tuple.
type Family int

const (
	// RawFamily names the append-only raw-event collection.
	RawFamily Family = iota
	// AggregatedFamily names the bucketed aggregate collection.
	AggregatedFamily
)

func (f Family) String() string {
	if f == AggregatedFamily {
		return "aggregated"
	}
	return "raw"
}

// StoreMode selects which families the ingestion coordinator writes to.
type StoreMode int

const (
	// OnlyRaw writes only raw events.
	OnlyRaw StoreMode = iota
	// OnlyAggregated writes only pre-aggregates.
	OnlyAggregated
	// Both writes raw events and pre-aggregates.
	Both
)

// ParseStoreMode parses the SHOULD_STORE configuration value.
func ParseStoreMode(s string) (StoreMode, error) {
	switch s {
	case "ONLY_RAW":
		return OnlyRaw, nil
	case "ONLY_AGGREGATED":
		return OnlyAggregated, nil
	case "BOTH", "":
		return Both, nil
	default:
		return 0, errors.Errorf("unrecognised SHOULD_STORE value %q", s)
	}
}

// Resolution is one of the five fixed aggregate granularities.
type Resolution string

// The fixed set of resolutions supported by the aggregate engine.
const (
	Second Resolution = "second"
	Minute Resolution = "minute"
	Hour   Resolution = "hour"
	Day    Resolution = "day"
	Month  Resolution = "month"
)

// AllResolutions lists every resolution the aggregate engine updates
// on each ingest, in the order buckets should be written.
var AllResolutions = []Resolution{Second, Minute, Hour, Day, Month}

// ParseResolution validates an aggrPeriod query parameter.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case Second, Minute, Hour, Day, Month:
		return Resolution(s), nil
	default:
		return "", errors.Errorf("unrecognised resolution %q", s)
	}
}

// SlotCount returns the fixed number of sub-unit slots a bucket of
// this resolution holds.
func (r Resolution) SlotCount() int {
	switch r {
	case Second, Minute:
		return 60
	case Hour:
		return 24
	case Day:
		return 31
	case Month:
		return 12
	default:
		return 0
	}
}

// ParentTruncate truncates t to the start of the parent unit of r, the
// instant that keys the bucket document origin.
func (r Resolution) ParentTruncate(t time.Time) time.Time {
	t = t.UTC()
	switch r {
	case Second:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	case Minute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Day:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// SlotIndex returns the 0-based sub-unit offset of t within its bucket.
func (r Resolution) SlotIndex(t time.Time) int {
	t = t.UTC()
	switch r {
	case Second:
		return t.Second()
	case Minute:
		return t.Minute()
	case Hour:
		return t.Hour()
	case Day:
		return t.Day() - 1
	case Month:
		return int(t.Month()) - 1
	default:
		return 0
	}
}

// Method is the aggregate projection requested by a query.
type Method string

// The fixed set of aggregate methods.
const (
	MethodMin   Method = "min"
	MethodMax   Method = "max"
	MethodSum   Method = "sum"
	MethodSum2  Method = "sum2"
	MethodOccur Method = "occur"
)

// ParseMethod validates an aggrMethod query parameter.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodMin, MethodMax, MethodSum, MethodSum2, MethodOccur:
		return Method(s), nil
	default:
		return "", errors.Errorf("unrecognised aggregation method %q", s)
	}
}

// IsNumeric reports whether the method applies to numeric slots.
func (m Method) IsNumeric() bool { return m != MethodOccur }

// NamespaceTuple identifies one time series: the tenant scoping headers
// plus the entity/attribute coordinates of a single context attribute.
type NamespaceTuple struct {
	Service     string
	ServicePath string
	EntityID    string
	EntityType  string
	AttrName    string
}

// Event is a single raw observation as persisted by the raw store.
// RecvTime is the server-side receive time, except for an attribute
// carrying metadata.TimeInstant, whose timestamp the ingestion
// coordinator uses instead.
type Event struct {
	RecvTime   time.Time
	EntityID   string
	EntityType string
	AttrName   string
	AttrType   string
	AttrValue  any // string or float64, enforced by the ingestion coordinator
}

// NumericValue extracts ev.AttrValue as a float64, reporting whether it
// was in fact numeric.
func (ev Event) NumericValue() (float64, bool) {
	f, ok := ev.AttrValue.(float64)
	return f, ok
}

// StringValue extracts ev.AttrValue as a string, reporting whether it
// was in fact a string.
func (ev Event) StringValue() (string, bool) {
	s, ok := ev.AttrValue.(string)
	return s, ok
}

// NumericSlot is the per-sub-unit aggregate cell for a numeric
// attribute.
type NumericSlot struct {
	Samples int64   `json:"samples"`
	Sum     float64 `json:"sum"`
	Sum2    float64 `json:"sum2"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Apply folds one observed value into the slot, per the update
// protocol in the aggregate engine's component design.
func (s *NumericSlot) Apply(v float64) {
	if s.Samples == 0 {
		s.Min = v
		s.Max = v
	} else {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Samples++
	s.Sum += v
	s.Sum2 += v * v
}

// StringSlot is the per-sub-unit aggregate cell for a string attribute.
type StringSlot struct {
	Samples int64            `json:"samples"`
	Occur   map[string]int64 `json:"occur"`
}

// Apply folds one observed value into the slot.
func (s *StringSlot) Apply(v string) {
	if s.Occur == nil {
		s.Occur = make(map[string]int64, 1)
	}
	s.Samples++
	s.Occur[v]++
}

// Bucket is one aggregate document: all sub-unit slots of a single
// resolution for a single parent-unit origin.
type Bucket struct {
	Namespace  NamespaceTuple
	Resolution Resolution
	Origin     time.Time
	Numeric    []NumericSlot // populated when the attribute is numeric
	String     []StringSlot  // populated when the attribute is a string
}

// IsNumeric reports whether this bucket tracks a numeric attribute.
func (b Bucket) IsNumeric() bool { return b.Numeric != nil }

// NewBucketSkeleton allocates an empty bucket of the right shape for
// resolution r, matching whichever value kind isNumeric selects.
func NewBucketSkeleton(ns NamespaceTuple, r Resolution, origin time.Time, isNumeric bool) Bucket {
	b := Bucket{Namespace: ns, Resolution: r, Origin: origin}
	if isNumeric {
		b.Numeric = make([]NumericSlot, r.SlotCount())
	} else {
		b.String = make([]StringSlot, r.SlotCount())
	}
	return b
}

// ErrNotFound is returned by collection.Provider.Get when create is
// false and no collection exists for the tuple.
var ErrNotFound = errors.New("collection not found")

// ErrTypeMismatch is returned when an aggregation method is requested
// against an attribute of the wrong kind (e.g. occur on a numeric
// attribute).
var ErrTypeMismatch = errors.New("aggregation method incompatible with attribute type")

// StoreError wraps any failure returned by the underlying document
// store driver, so that the HTTP layer can map it to a 500 regardless
// of which concrete driver error caused it.
type StoreError struct {
	cause error
}

// NewStoreError wraps err as a StoreError, or returns nil if err is nil.
func NewStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{cause: err}
}

func (e *StoreError) Error() string { return "store error: " + e.cause.Error() }
func (e *StoreError) Unwrap() error { return e.cause }

// IsStoreError reports whether err is, or wraps, a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// Collection identifies a physical collection: its name plus whether
// it holds raw events or aggregate buckets.
type Collection struct {
	Schema ident.Schema
	Name   ident.Collection
	Family Family
}

// HashOriginRecord is one row of the hash-to-origin reverse lookup
// table, recorded whenever hash-mode naming is used.
type HashOriginRecord struct {
	Hash      string
	Namespace NamespaceTuple
	Service   string
	Family    Family
}

// TruncationPolicy bounds how large a raw or aggregate collection is
// allowed to grow. The collection provider remembers it when the
// collection is created, and the collection janitor enforces it
// periodically from then on.
type TruncationPolicy struct {
	MaxAge  time.Duration // zero disables age-based truncation
	MaxSize int64         // zero disables size-based truncation (document count)
}

// None reports whether the policy imposes no bound at all.
func (p TruncationPolicy) None() bool { return p.MaxAge == 0 && p.MaxSize == 0 }

// RawQueryMode selects one of the three disjoint raw-query shapes.
type RawQueryMode int

const (
	// LastN returns the most recent N events, ascending.
	LastN RawQueryMode = iota
	// Window returns hLimit events starting at hOffset, ascending.
	Window
	// CSV streams all matching events to a file.
	CSV
)

// RawQuerySpec parameterises a raw-store query; exactly one of the
// LastN/Window/CSV branches is active, selected by Mode.
type RawQuerySpec struct {
	Mode       RawQueryMode
	EntityID   string
	EntityType string
	AttrName   string
	From, To   *time.Time // optional window bound, either may be nil

	LastN   int
	HLimit  int
	HOffset int
}

// AggregateQuerySpec parameterises an aggregate-store query. Buckets
// are always returned at full sub-unit width; whether to drop
// samples=0 slots from the response is a presentation concern, not a
// store-query concern (see httpapi.bucketValues).
type AggregateQuerySpec struct {
	EntityID   string
	EntityType string
	AttrName   string
	Method     Method
	Resolution Resolution
	From, To   time.Time
}

// RawResultKind tags which variant of RawResult is populated: an
// in-memory list or a file. There is no streaming-cursor variant.
type RawResultKind int

const (
	// Inline carries an in-memory slice of events.
	Inline RawResultKind = iota
	// File carries a filesystem path to a freshly written CSV file.
	File
)

// RawResult is the tagged result of a raw-store query.
type RawResult struct {
	Kind    RawResultKind
	Events  []Event
	Path    string
	Cleanup func() // removes the file backing Path; nil unless Kind == File
}

// DocStore is the narrow interface the core depends on; internal/store
// provides the only production implementation, backed by pgx/pgxpool.
// internal/sthtest provides an in-memory fake used by unit tests.
type DocStore interface {
	// EnsureRawCollection creates (if absent) the physical table
	// backing a raw collection. Neither implementation enforces policy
	// here; truncation is left to the collection janitor.
	EnsureRawCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy TruncationPolicy) error
	// EnsureAggregateCollection is the aggregate-family analogue.
	EnsureAggregateCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy TruncationPolicy) error
	// CollectionExists reports whether a collection has already been
	// created, without creating it.
	CollectionExists(ctx context.Context, schema ident.Schema, name ident.Collection, family Family) (bool, error)

	// InsertEvent appends one raw event.
	InsertEvent(ctx context.Context, schema ident.Schema, name ident.Collection, ev Event) error
	// QueryEvents executes a RawQuerySpec in any mode; for CSV it
	// returns the full matching set, which the raw store then writes to
	// a file.
	QueryEvents(ctx context.Context, schema ident.Schema, name ident.Collection, spec RawQuerySpec) ([]Event, error)

	// UpsertBucketSlot atomically inserts-or-patches exactly one slot
	// of the bucket keyed by (namespace, resolution, origin), applying
	// delta to whichever slot kind the bucket already holds (or
	// establishes, on first write).
	UpsertBucketSlot(ctx context.Context, schema ident.Schema, name ident.Collection, ns NamespaceTuple, r Resolution, origin time.Time, slotIndex int, numeric *float64, str *string) error
	// QueryBuckets returns every bucket whose origin lies in
	// [from, to] for the given namespace and resolution.
	QueryBuckets(ctx context.Context, schema ident.Schema, name ident.Collection, ns NamespaceTuple, r Resolution, from, to time.Time) ([]Bucket, error)

	// RecordHashOrigin idempotently inserts a hash->origin mapping row.
	RecordHashOrigin(ctx context.Context, schema ident.Schema, rec HashOriginRecord) error
	// LookupHashOrigin reverses a hash back to its origin tuple.
	LookupHashOrigin(ctx context.Context, schema ident.Schema, hash string) (HashOriginRecord, bool, error)
	// ListAttributeNames backs the supplementary attribute-listing
	// endpoint: every distinct attrName with at least one raw or
	// aggregated collection for (entityID, entityType).
	ListAttributeNames(ctx context.Context, schema ident.Schema, entityID, entityType string) ([]string, error)

	// Ping verifies connectivity, for the health endpoint.
	Ping(ctx context.Context) error
}
