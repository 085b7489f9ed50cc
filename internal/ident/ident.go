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

// Package ident defines validated identifier types used to name
// collections and databases within the store. Keeping identifiers as a
// distinct type (rather than passing bare strings around) prevents a
// raw, un-length-checked name from reaching the store driver.
package ident

import (
	"fmt"

	"github.com/pkg/errors"
)

// MaxCollectionName is the identifier-length limit enforced by the
// namespace resolver. CockroachDB and PostgreSQL both cap identifiers
// at 128 bytes; we use the same bound so the hash-mode fallback
// behaves identically regardless of which product backs the pool.
const MaxCollectionName = 128

// AggregateSuffix is appended to the identifier of the aggregated
// family, in path mode and hash mode alike.
const AggregateSuffix = ".aggr"

// ErrIdentifierTooLong is returned (wrapped) by New and NewSchema
// whenever the candidate exceeds MaxCollectionName; the namespace
// resolver decides whether to fall back to hash mode.
var ErrIdentifierTooLong = errors.New("identifier too long")

// Collection is a validated collection identifier. The zero value is
// not a valid Collection; always construct one with New.
type Collection struct {
	raw string
}

// New validates and wraps a candidate identifier. It never mutates or
// hashes its input; callers that need the hash-mode fallback should
// compute the hashed string themselves and pass it in here, so that
// New remains a single point of length enforcement.
func New(raw string) (Collection, error) {
	if raw == "" {
		return Collection{}, errors.New("empty identifier")
	}
	if len(raw) > MaxCollectionName {
		return Collection{}, errors.Wrapf(ErrIdentifierTooLong, "%q is %d bytes", raw, len(raw))
	}
	return Collection{raw: raw}, nil
}

// Raw returns the underlying string form of the identifier.
func (c Collection) Raw() string { return c.raw }

// String implements fmt.Stringer.
func (c Collection) String() string { return c.raw }

// IsZero reports whether c is the unconstructed zero value.
func (c Collection) IsZero() bool { return c.raw == "" }

// WithSuffix returns a new Collection with suffix appended, re-running
// length validation.
func (c Collection) WithSuffix(suffix string) (Collection, error) {
	return New(c.raw + suffix)
}

// Schema names the logical database selected by a namespace tuple's
// service field.
type Schema struct {
	raw string
}

// NewSchema validates a database/schema name.
func NewSchema(raw string) (Schema, error) {
	if raw == "" {
		return Schema{}, errors.New("empty schema name")
	}
	if len(raw) > MaxCollectionName {
		return Schema{}, errors.Wrapf(ErrIdentifierTooLong, "%q is %d bytes", raw, len(raw))
	}
	return Schema{raw: raw}, nil
}

// Raw returns the underlying string.
func (s Schema) Raw() string { return s.raw }

// String implements fmt.Stringer.
func (s Schema) String() string { return s.raw }

// Qualify joins the schema and a collection name the way the store
// driver expects fully-qualified table references to look.
func (s Schema) Qualify(c Collection) string {
	return fmt.Sprintf("%s.%s", s.raw, c.raw)
}
