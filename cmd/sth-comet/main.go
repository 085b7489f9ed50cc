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

// Command sth-comet runs the Short Time Historic server: it listens
// for context-attribute notifications, persists raw events and rolling
// aggregates, and answers query requests over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	log "github.com/sirupsen/logrus"

	"github.com/pasquy73/fiware-sth-comet/internal/aggregate"
	"github.com/pasquy73/fiware-sth-comet/internal/catalog"
	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/config"
	"github.com/pasquy73/fiware-sth-comet/internal/httpapi"
	"github.com/pasquy73/fiware-sth-comet/internal/ingest"
	"github.com/pasquy73/fiware-sth-comet/internal/kpi"
	"github.com/pasquy73/fiware-sth-comet/internal/namespace"
	"github.com/pasquy73/fiware-sth-comet/internal/obs/diag"
	"github.com/pasquy73/fiware-sth-comet/internal/query"
	"github.com/pasquy73/fiware-sth-comet/internal/rawstore"
	"github.com/pasquy73/fiware-sth-comet/internal/store"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
	"github.com/pasquy73/fiware-sth-comet/internal/util/stopper"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("sth: fatal startup error")
	}
}

func run() error {
	log.SetFormatter(&log.JSONFormatter{})

	cfg := config.New()
	applyEnv := cfg.Bind(pflag.CommandLine, viper.GetViper())
	pflag.Parse()
	if err := applyEnv(); err != nil {
		return fmt.Errorf("binding configuration: %w", err)
	}
	if err := cfg.Preflight(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := stopper.WithContext(context.Background())

	pool, closePool, err := store.Open(ctx, cfg.DBURI, cfg.PoolSize)
	if err != nil {
		return err
	}
	defer closePool()

	namingMode := namespace.PathMode
	switch config.NamingMode(cfg.NamingMode) {
	case config.HashNaming:
		namingMode = namespace.HashMode
	case config.PathStrictNaming:
		namingMode = namespace.PathStrictMode
	}
	resolver := namespace.New(namingMode)
	provider := collection.New(pool, resolver)
	raw := rawstore.New(pool)
	agg := aggregate.New(pool)

	truncate := types.TruncationPolicy{MaxAge: cfg.TruncationMaxAge, MaxSize: cfg.TruncationMaxSize}
	coordinator := ingest.New(provider, raw, agg, ingest.Options{
		Mode:              cfg.StoreMode(),
		IgnoreBlankSpaces: cfg.IgnoreBlankSpaces,
		StoreHash:         namingMode == namespace.HashMode,
		Truncate:          truncate,
	})
	planner := query.New(provider, raw, agg)

	counters := &kpi.Counters{}
	diagnostics := diag.New()
	diagnostics.Register("document-store", pool.Ping)
	lister := catalog.New(pool)

	router := httpapi.NewRouter(httpapi.Config{
		Coordinator:            coordinator,
		Planner:                planner,
		Counters:               counters,
		Diagnostics:            diagnostics,
		AttributeLister:        lister,
		DefaultService:         cfg.DefaultService,
		DefaultServicePath:     cfg.DefaultServicePath,
		CorrelatorHeader:       cfg.UnicaCorrelatorHeader,
		EnableAttributeListing: cfg.EnableAttributeListing,
		FilterOutEmpty:         cfg.FilterOutEmpty,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.STHHost, cfg.STHPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := kpi.NewServer(httpServer, ctx)
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}

	if !truncate.None() {
		janitor := collection.NewJanitor(provider, pool, 5*time.Minute)
		ctx.Go(func() error { return janitor.Run(ctx) })
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.WithField("signal", s).Info("sth: shutting down")
	case <-ctx.Stopping():
	}

	return server.Stop(30 * time.Second)
}
