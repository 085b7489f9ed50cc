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

// Package kpi implements C7: the process-wide attended-request counter
// and the graceful start/stop sequencing around the HTTP listener and
// the document-store pool.
package kpi

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pasquy73/fiware-sth-comet/internal/obs/metrics"
	"github.com/pasquy73/fiware-sth-comet/internal/util/stopper"
)

// Counters tracks the small set of process-wide KPIs the server
// exposes; today that's just attendedRequests, but it is kept as a
// struct so a future counter doesn't need a new top-level API.
type Counters struct {
	attendedRequests atomic.Uint64
}

// Attend increments attendedRequests and mirrors the value onto the
// prometheus counter for scraping.
func (c *Counters) Attend() {
	c.attendedRequests.Add(1)
	metrics.AttendedRequests.Inc()
}

// AttendedRequests returns the current count.
func (c *Counters) AttendedRequests() uint64 {
	return c.attendedRequests.Load()
}

// Reset zeroes the counter on demand.
func (c *Counters) Reset() {
	c.attendedRequests.Store(0)
}

// Server binds the graceful start/stop sequence around an
// *http.Server: bind the listener, then accept; on stop, stop
// accepting and drain in-flight requests before the caller disconnects
// the store.
type Server struct {
	httpServer *http.Server
	stopper    *stopper.Context
}

// NewServer wraps httpServer with graceful lifecycle control. ctx
// should be the process's stopper.Context, shared with any other
// background work (e.g. a truncation janitor) that must also drain on
// shutdown.
func NewServer(httpServer *http.Server, ctx *stopper.Context) *Server {
	return &Server{httpServer: httpServer, stopper: ctx}
}

// Start binds the listener and begins accepting connections. It
// returns once the listener is bound, not once the server stops;
// serve errors other than a graceful shutdown are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.WithField("addr", s.httpServer.Addr).Info("sth: listening")

	s.stopper.Go(func() error {
		err := s.httpServer.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	return nil
}

// Stop closes the listener, drains in-flight requests, then stops the
// stopper.Context and waits for its other background work, all bounded
// by the supplied timeout. It does not disconnect the document store;
// callers close that separately once Stop returns.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return s.stopper.Stop(ctx)
}
