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

// Package metrics declares the prometheus vectors shared by the raw
// store, aggregate engine and ingestion coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is the shared histogram bucket boundary set for all
// store-operation latencies.
var LatencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// NamespaceLabels names the label set attached to per-namespace
// counters: every metric below is broken down by entity type and
// attribute name, not by full tuple, to keep cardinality bounded.
var NamespaceLabels = []string{"entity_type", "attr_name"}

var (
	// RawWriteDurations times InsertEvent calls.
	RawWriteDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sth_raw_write_duration_seconds",
		Help:    "the length of time it took to append a raw event",
		Buckets: LatencyBuckets,
	}, NamespaceLabels)
	// RawWriteErrors counts failed InsertEvent calls.
	RawWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sth_raw_write_errors_total",
		Help: "the number of times an error was encountered while appending a raw event",
	}, NamespaceLabels)

	// RawQueryDurations times QueryEvents calls.
	RawQueryDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sth_raw_query_duration_seconds",
		Help:    "the length of time it took to execute a raw query",
		Buckets: LatencyBuckets,
	}, NamespaceLabels)

	// BucketUpdateDurations times one resolution's UpsertBucketSlot call.
	BucketUpdateDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sth_bucket_update_duration_seconds",
		Help:    "the length of time it took to apply one aggregate delta",
		Buckets: LatencyBuckets,
	}, append(append([]string{}, NamespaceLabels...), "resolution"))
	// BucketUpdateErrors counts failed bucket updates.
	BucketUpdateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sth_bucket_update_errors_total",
		Help: "the number of times an error was encountered while updating a bucket",
	}, append(append([]string{}, NamespaceLabels...), "resolution"))

	// IngestSubtasks counts completed per-attribute ingest subtasks.
	IngestSubtasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sth_ingest_subtasks_total",
		Help: "the number of ingest subtasks that completed, by outcome",
	}, []string{"outcome"})

	// AttendedRequests mirrors the KPI counter for scraping.
	AttendedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sth_attended_requests_total",
		Help: "the number of inbound HTTP requests accepted for processing",
	})
)
