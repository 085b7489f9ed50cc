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

// Package catalog backs the supplementary attribute-listing endpoint:
// given an entity, report which attribute names have at least one raw
// or aggregated collection.
package catalog

import (
	"context"
	"sort"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Lister lists known attribute names for an entity.
type Lister struct {
	docs types.DocStore
}

// New constructs a Lister backed by docs.
func New(docs types.DocStore) *Lister {
	return &Lister{docs: docs}
}

// List returns the sorted, deduplicated attribute names known for
// (entityID, entityType) within service.
func (l *Lister) List(ctx context.Context, service, entityID, entityType string) ([]string, error) {
	schema, err := ident.NewSchema(service)
	if err != nil {
		return nil, err
	}
	names, err := l.docs.ListAttributeNames(ctx, schema, entityID, entityType)
	if err != nil {
		return nil, types.NewStoreError(err)
	}
	sort.Strings(names)
	return names, nil
}
