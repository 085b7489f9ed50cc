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

// Package query implements C6, the Query Planner: it dispatches an
// incoming query to the raw or aggregated path based on which
// parameter combination is present. It returns raw events or buckets;
// the fixed response envelope is shaped by internal/httpapi.
package query

import (
	"context"
	"time"

	"github.com/pasquy73/fiware-sth-comet/internal/aggregate"
	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/rawstore"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// ErrValidation names the failing query keys, per the fixed dispatch
// rule's error branch.
type ErrValidation struct {
	Keys []string
}

func (e *ErrValidation) Error() string { return "no recognised query parameter combination" }

// failingKeys is returned verbatim as ErrValidation.Keys whenever
// dispatch falls through to the error branch.
var failingKeys = []string{"lastN", "hLimit", "hOffset", "filetype", "aggrMethod", "aggrPeriod"}

// Params carries every recognised query parameter, already parsed; the
// HTTP layer is responsible for type conversion and reports its own
// validation errors before calling into the planner.
type Params struct {
	LastN        *int
	HLimit, HOffset *int
	AggrMethod   *types.Method
	AggrPeriod   *types.Resolution
	From, To     *time.Time
	IsCSV        bool
	// FilterEmpty is nil when the request omitted the filterEmpty query
	// parameter, leaving the caller to apply its own configured default.
	FilterEmpty *bool
}

// Path identifies which of the two read paths a query dispatched to.
type Path int

const (
	// RawPath serves a raw last-N/window/CSV query.
	RawPath Path = iota
	// AggregatedPath serves an aggregate point-lookup query.
	AggregatedPath
)

// Dispatch applies the fixed, order-sensitive dispatch rule: raw
// parameters win if present, then aggregate parameters, otherwise the
// validation error branch.
func Dispatch(p Params) (Path, error) {
	if p.LastN != nil || (p.HLimit != nil && p.HOffset != nil) || p.IsCSV {
		return RawPath, nil
	}
	if p.AggrMethod != nil && p.AggrPeriod != nil {
		return AggregatedPath, nil
	}
	return 0, &ErrValidation{Keys: failingKeys}
}

// Planner resolves collections and executes the dispatched path.
type Planner struct {
	provider *collection.Provider
	raw      *rawstore.Store
	agg      *aggregate.Engine
}

// New constructs a Planner.
func New(provider *collection.Provider, raw *rawstore.Store, agg *aggregate.Engine) *Planner {
	return &Planner{provider: provider, raw: raw, agg: agg}
}

// Result is the outcome of a dispatched query: exactly one of Raw or
// Aggregated is meaningful, selected by Path.
type Result struct {
	Path       Path
	Raw        types.RawResult
	Aggregated []types.Bucket
}

// Execute resolves the collection for tuple and runs the query
// selected by Dispatch. An absent collection (types.ErrNotFound) is
// translated into an empty result, never propagated as an error: "no
// data" is a successful empty envelope, not a 404.
func (pl *Planner) Execute(ctx context.Context, schema ident.Schema, tuple types.NamespaceTuple, p Params) (Result, error) {
	path, err := Dispatch(p)
	if err != nil {
		return Result{}, err
	}

	switch path {
	case RawPath:
		h, err := pl.provider.Get(ctx, schema, tuple, collection.Options{Family: types.RawFamily})
		if err != nil {
			if err == types.ErrNotFound {
				return Result{Path: RawPath, Raw: types.RawResult{Kind: types.Inline, Events: nil}}, nil
			}
			return Result{}, err
		}
		spec := buildRawSpec(tuple, p)
		res, err := pl.raw.Query(ctx, h, spec)
		if err != nil {
			return Result{}, err
		}
		return Result{Path: RawPath, Raw: res}, nil

	default:
		h, err := pl.provider.Get(ctx, schema, tuple, collection.Options{Family: types.AggregatedFamily})
		if err != nil {
			if err == types.ErrNotFound {
				return Result{Path: AggregatedPath, Aggregated: nil}, nil
			}
			return Result{}, err
		}
		spec := types.AggregateQuerySpec{
			EntityID: tuple.EntityID, EntityType: tuple.EntityType, AttrName: tuple.AttrName,
			Method: *p.AggrMethod, Resolution: *p.AggrPeriod,
		}
		if p.From != nil {
			spec.From = *p.From
		}
		if p.To != nil {
			spec.To = *p.To
		} else {
			spec.To = time.Now().UTC()
		}
		buckets, err := pl.agg.Query(ctx, h, spec)
		if err != nil {
			return Result{}, err
		}
		return Result{Path: AggregatedPath, Aggregated: buckets}, nil
	}
}

func buildRawSpec(tuple types.NamespaceTuple, p Params) types.RawQuerySpec {
	spec := types.RawQuerySpec{
		EntityID: tuple.EntityID, EntityType: tuple.EntityType, AttrName: tuple.AttrName,
		From: p.From, To: p.To,
	}
	switch {
	case p.IsCSV:
		spec.Mode = types.CSV
	case p.LastN != nil:
		spec.Mode = types.LastN
		spec.LastN = *p.LastN
	default:
		spec.Mode = types.Window
		spec.HLimit = *p.HLimit
		spec.HOffset = *p.HOffset
	}
	return spec
}
