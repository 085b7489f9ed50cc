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

// Package namespace implements C1, the mapping from a namespace tuple
// to a stable collection identifier.
package namespace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Mode selects how Resolver derives collection identifiers.
type Mode int

const (
	// PathMode concatenates tuple fields with a separator, transparently
	// falling back to HashMode when the concatenated form overflows
	// ident.MaxCollectionName.
	PathMode Mode = iota
	// HashMode always hashes the tuple, regardless of length.
	HashMode
	// PathStrictMode concatenates tuple fields like PathMode but never
	// falls back to hashing: an overflow is reported to the caller as
	// ident.ErrIdentifierTooLong instead of being silently absorbed.
	PathStrictMode
)

// separator joins tuple fields in path mode.
const separator = "_"

// Resolver is a pure function of its configuration and inputs: given
// the same tuple, family and mode it always returns the same
// identifier.
type Resolver struct {
	mode Mode
}

// New constructs a Resolver for the given naming mode.
func New(mode Mode) *Resolver {
	return &Resolver{mode: mode}
}

// Resolve maps tuple and family to a collection identifier. When mode
// is PathMode and the concatenated form would exceed
// ident.MaxCollectionName, it transparently falls back to hash mode.
// When mode is PathStrictMode, that same overflow is returned to the
// caller as ident.ErrIdentifierTooLong instead: an operator who has
// disabled the hash fallback wants overflow surfaced, not absorbed.
// ErrIdentifierTooLong out of hash mode itself is only possible if
// AggregateSuffix is made absurdly long, since the digest is
// fixed-width.
func (r *Resolver) Resolve(tuple types.NamespaceTuple, family types.Family) (ident.Collection, bool, error) {
	if r.mode == PathMode || r.mode == PathStrictMode {
		name, err := ident.New(pathName(tuple))
		if err == nil {
			if family == types.AggregatedFamily {
				withSuffix, err2 := name.WithSuffix(ident.AggregateSuffix)
				if err2 == nil {
					return withSuffix, false, nil
				}
				if r.mode == PathStrictMode {
					return ident.Collection{}, false, err2
				}
				// Falls through to hash mode if the suffixed form alone
				// overflows the limit.
			} else {
				return name, false, nil
			}
		} else if r.mode == PathStrictMode {
			return ident.Collection{}, false, err
		} else if !errors.Is(err, ident.ErrIdentifierTooLong) {
			return ident.Collection{}, false, err
		}
	}

	name, err := ident.New(HashName(tuple))
	if err != nil {
		return ident.Collection{}, false, err
	}
	if family == types.AggregatedFamily {
		name, err = name.WithSuffix(ident.AggregateSuffix)
		if err != nil {
			return ident.Collection{}, false, err
		}
	}
	return name, true, nil
}

func pathName(t types.NamespaceTuple) string {
	return fmt.Sprintf("%s%s%s%s%s%s%s%s%s",
		t.Service, separator, t.ServicePath, separator,
		t.EntityType, separator, t.EntityID, separator, t.AttrName)
}

// HashName computes the fixed-length digest used by hash mode. The
// collection provider does not call it: it records the resolved name
// (including any AggregateSuffix) as the hash-origin key.
func HashName(t types.NamespaceTuple) string {
	sum := sha256.Sum256([]byte(pathName(t)))
	return hex.EncodeToString(sum[:])
}
