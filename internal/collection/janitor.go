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

package collection

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Truncator is implemented by document-store drivers that can enforce
// a collection's age/size cap on demand; internal/store's pgx driver
// implements it, internal/sthtest's in-memory fake does not, since
// unit tests never need truncation to run.
type Truncator interface {
	TruncateCollection(ctx context.Context, schema ident.Schema, name ident.Collection, family types.Family, policy types.TruncationPolicy) error
}

// Janitor periodically re-applies each known collection's truncation
// policy. Size/age caps are only meaningful as an ongoing enforcement,
// so the janitor is the component that actually deletes aged-out or
// overflow documents. At creation time the Provider only remembers the
// policy (Policies); internal/store.EnsureRawCollection /
// EnsureAggregateCollection do not act on it.
type Janitor struct {
	provider *Provider
	docs     types.DocStore
	interval time.Duration
}

// NewJanitor constructs a Janitor that wakes every interval.
func NewJanitor(provider *Provider, docs types.DocStore, interval time.Duration) *Janitor {
	return &Janitor{provider: provider, docs: docs, interval: interval}
}

// Run blocks, sweeping every interval until ctx is done. Intended to be
// launched as a single background goroutine via stopper.Context.Go.
func (j *Janitor) Run(ctx context.Context) error {
	truncator, ok := j.docs.(Truncator)
	if !ok {
		log.Warn("sth: document store does not support truncation; janitor idling")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.sweep(ctx, truncator)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context, truncator Truncator) {
	for _, e := range j.provider.Policies() {
		if err := truncator.TruncateCollection(ctx, e.Schema, e.Name, e.Family, e.Policy); err != nil {
			log.WithError(err).WithField("collection", e.Name.Raw()).Warn("sth: truncation sweep failed")
		}
	}
}
