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

// Package httpapi is C9's transport: a chi router translating HTTP
// requests into calls against the ingestion coordinator and query
// planner, and shaping their results into the fixed response envelope.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pasquy73/fiware-sth-comet/internal/ingest"
	"github.com/pasquy73/fiware-sth-comet/internal/kpi"
	"github.com/pasquy73/fiware-sth-comet/internal/obs/diag"
	"github.com/pasquy73/fiware-sth-comet/internal/query"
)

// Deps bundles every collaborator a handler needs. Its fields are
// unexported; NewRouter builds it from a Config.
type Deps struct {
	coordinator        *ingest.Coordinator
	planner            *query.Planner
	counters           *kpi.Counters
	diag               *diag.Registry
	attributeLister    AttributeLister
	defaultService     string
	defaultServicePath string
	correlatorHeader   string
	attributeListing   bool
	filterEmptyDefault bool
}

// Config configures NewRouter; every field mirrors a resolved
// internal/config.Config value.
type Config struct {
	Coordinator        *ingest.Coordinator
	Planner            *query.Planner
	Counters           *kpi.Counters
	Diagnostics        *diag.Registry
	AttributeLister    AttributeLister
	DefaultService     string
	DefaultServicePath string
	CorrelatorHeader   string
	EnableAttributeListing bool
	// FilterOutEmpty is the default applied to an aggregate query's
	// filterEmpty behavior when the request omits the query parameter.
	FilterOutEmpty bool
}

// NewRouter builds the full route tree.
func NewRouter(cfg Config) http.Handler {
	d := &Deps{
		coordinator:        cfg.Coordinator,
		planner:            cfg.Planner,
		counters:           cfg.Counters,
		diag:               cfg.Diagnostics,
		attributeLister:    cfg.AttributeLister,
		defaultService:     cfg.DefaultService,
		defaultServicePath: cfg.DefaultServicePath,
		correlatorHeader:   cfg.CorrelatorHeader,
		attributeListing:   cfg.EnableAttributeListing,
		filterEmptyDefault: cfg.FilterOutEmpty,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(echoCorrelator(d.correlatorHeader))
	r.Use(countAttended(d.counters))

	r.Get("/version", d.handleVersion)
	r.Get("/health", d.handleHealth)

	r.Route("/STH/v1/contextEntities/type/{entityType}/id/{entityId}", func(r chi.Router) {
		r.With(requireTenantHeaders).Route("/attributes/{attrName}", func(r chi.Router) {
			r.Get("/", d.handleQuery)
		})
		if d.attributeListing {
			r.With(requireTenantHeaders).Get("/attributes", d.handleAttributes)
		}
	})

	r.With(defaultTenantHeaders(d.defaultService, d.defaultServicePath)).Post("/notify", d.handleNotify)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	return r
}
