//go:build wireinject

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

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/pasquy73/fiware-sth-comet/internal/aggregate"
	"github.com/pasquy73/fiware-sth-comet/internal/catalog"
	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/config"
	"github.com/pasquy73/fiware-sth-comet/internal/ingest"
	"github.com/pasquy73/fiware-sth-comet/internal/namespace"
	"github.com/pasquy73/fiware-sth-comet/internal/query"
	"github.com/pasquy73/fiware-sth-comet/internal/rawstore"
	"github.com/pasquy73/fiware-sth-comet/internal/store"
)

// serverSet mirrors the provider sets the teacher declares per logical
// component; `wire gen` over this file produces wire_gen.go, which
// run() in main.go follows by hand since code generation isn't part of
// this build.
var serverSet = wire.NewSet(
	namespace.New,
	collection.New,
	rawstore.New,
	aggregate.New,
	ingest.New,
	query.New,
	catalog.New,
)

func injectServer(ctx context.Context, cfg *config.Config) (*ingest.Coordinator, *query.Planner, error) {
	panic(wire.Build(
		serverSet,
		store.Open,
	))
}
