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

// Package stopper provides a context that coordinates graceful
// shutdown across a group of background goroutines, in the same shape
// the store pool and ingestion background jobs expect: Go registers a
// unit of work, Stopping signals that shutdown has begun (in-flight
// work should wrap up), and Stop blocks until every registered unit has
// returned or its deadline passes.
package stopper

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Context decorates a context.Context with a goroutine group and a
// distinct "stopping" signal that fires before the context itself is
// canceled, giving registered work a chance to flush before Done().
type Context struct {
	context.Context

	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once

	wg      sync.WaitGroup
	mu      sync.Mutex
	firstErr error
}

// WithContext wraps parent with a new stopper Context.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Context: ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
}

// Go registers fn as a unit of background work. Its error, if any, is
// logged and retained as the first error observed by the group.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			log.WithError(err).Warn("background task returned an error")
			c.mu.Lock()
			if c.firstErr == nil {
				c.firstErr = err
			}
			c.mu.Unlock()
		}
	}()
}

// Stopping returns a channel that closes when Stop is first called.
// Registered work should select on this to begin winding down.
func (c *Context) Stopping() <-chan struct{} { return c.stop }

// Stop begins graceful shutdown: it closes Stopping() immediately, then
// cancels the underlying context once every Go'd goroutine returns (or
// the supplied deadline context is itself canceled, whichever is
// first).
func (c *Context) Stop(deadline context.Context) error {
	c.once.Do(func() { close(c.stop) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-deadline.Done():
	}
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr
}
