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

// Package diag is a small health-check registry: each named check is a
// func(ctx) error, and Run reports whether every check passed along
// with each check's outcome, mirroring the
// diagnostic-registry shape the teacher keeps for its target/staging
// pool health probes.
package diag

import (
	"context"
	"sync"
)

// Check is one named health probe.
type Check func(ctx context.Context) error

// Registry holds the named checks polled by the health endpoint.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds or replaces the check named name.
func (r *Registry) Register(name string, c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = c
}

// Result is one check's outcome.
type Result struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Run executes every registered check and reports whether all passed,
// alongside the per-check detail.
func (r *Registry) Run(ctx context.Context) (bool, []Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]Result, 0, len(r.checks))
	healthy := true
	for name, check := range r.checks {
		err := check(ctx)
		res := Result{Name: name, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
			healthy = false
		}
		results = append(results, res)
	}
	return healthy, results
}
