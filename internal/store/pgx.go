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

// Package store is the one production implementation of
// types.DocStore: a CockroachDB/PostgreSQL-backed document collection
// driver built on pgx/pgxpool. Everything above this package talks to
// types.DocStore, never to pgx directly, so the core stays portable to
// a different document store should one replace this driver.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// Pool wraps a pgxpool.Pool with the connection metadata the rest of
// the server occasionally needs to log or report.
type Pool struct {
	*pgxpool.Pool
	ConnectionString string
}

// Open connects to the document store and returns a Pool along with a
// cancel function that closes it; callers should register the cancel
// with their stopper.Context.
func Open(ctx context.Context, connString string, poolSize int) (*Pool, func(), error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing document store connection string")
	}
	cfg.MaxConns = int32(poolSize)
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening document store pool")
	}
	if err := waitForReady(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.WithField("poolSize", poolSize).Info("sth: document store pool open")
	ret := &Pool{Pool: pool, ConnectionString: connString}
	return ret, pool.Close, nil
}

// waitForReady pings pool, retrying on any ping error (up to maxAttempts,
// retryDelay apart) so the server can start concurrently with a document store that is
// still booting (common under docker-compose/CI), rather than failing
// on the first attempt.
func waitForReady(ctx context.Context, pool *pgxpool.Pool) error {
	const retryDelay = 2 * time.Second
	const maxAttempts = 10

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		log.WithError(err).WithField("attempt", attempt).Warn("sth: waiting for document store to become ready")
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for document store")
		case <-time.After(retryDelay):
		}
	}
	return errors.Wrap(err, "document store never became ready")
}

var _ types.DocStore = (*Pool)(nil)

// Ping verifies connectivity, used by the health endpoint.
func (p *Pool) Ping(ctx context.Context) error {
	return errors.WithStack(p.Pool.Ping(ctx))
}

// quoteIdent escapes name for use as a double-quoted SQL identifier.
// Table/column names cannot be bound as query parameters, and
// collection names are ultimately derived from untrusted notification
// fields (entityId, attrName, ...), so every identifier that reaches a
// DDL or DML statement must be quoted here rather than interpolated
// raw.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualify(schema ident.Schema, name ident.Collection) string {
	return quoteIdent(schema.Raw()) + "." + quoteIdent(name.Raw())
}

const rawSchemaDDL = `
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	recv_time TIMESTAMPTZ NOT NULL,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	attr_name TEXT NOT NULL,
	attr_type TEXT,
	attr_value JSONB
)`

const rawIndexDDL = `
CREATE INDEX IF NOT EXISTS %s ON %s (entity_id, entity_type, attr_name, recv_time)`

const aggregateSchemaDDL = `
CREATE TABLE IF NOT EXISTS %s (
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	attr_name TEXT NOT NULL,
	resolution TEXT NOT NULL,
	origin TIMESTAMPTZ NOT NULL,
	is_numeric BOOL NOT NULL,
	points JSONB NOT NULL,
	PRIMARY KEY (entity_id, entity_type, attr_name, resolution, origin)
)`

const hashOriginDDL = `
CREATE TABLE IF NOT EXISTS %s (
	hash TEXT PRIMARY KEY,
	service TEXT NOT NULL,
	service_path TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	attr_name TEXT NOT NULL,
	is_aggregated BOOL NOT NULL
)`

// hashOriginTable is the well-known name of the reverse lookup
// collection within a schema, per the data model's "optional mapping
// collection".
const hashOriginTable = "_sth_hash_origin"

// EnsureRawCollection implements types.DocStore.
func (p *Pool) EnsureRawCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy types.TruncationPolicy) error {
	q := qualify(schema, name)
	if _, err := p.Pool.Exec(ctx, fmt.Sprintf(rawSchemaDDL, q)); err != nil {
		return errors.Wrapf(err, "creating raw collection %s", q)
	}
	idxName := quoteIdent(name.Raw() + "_lookup_idx")
	if _, err := p.Pool.Exec(ctx, fmt.Sprintf(rawIndexDDL, idxName, q)); err != nil {
		return errors.Wrapf(err, "creating raw collection index on %s", q)
	}
	return p.applyTruncation(ctx, q, "recv_time", policy)
}

// EnsureAggregateCollection implements types.DocStore.
func (p *Pool) EnsureAggregateCollection(ctx context.Context, schema ident.Schema, name ident.Collection, policy types.TruncationPolicy) error {
	q := qualify(schema, name)
	if _, err := p.Pool.Exec(ctx, fmt.Sprintf(aggregateSchemaDDL, q)); err != nil {
		return errors.Wrapf(err, "creating aggregate collection %s", q)
	}
	return p.applyTruncation(ctx, q, "origin", policy)
}

// applyTruncation installs nothing at collection-creation time: both
// age- and size-based truncation are enforced by the collection janitor
// (internal/collection) through TruncateCollection.
func (p *Pool) applyTruncation(ctx context.Context, qualifiedTable, timeColumn string, policy types.TruncationPolicy) error {
	if policy.MaxAge <= 0 {
		return nil
	}
	// CockroachDB/Postgres row-level TTL is product-specific; rather
	// than depend on that, the janitor issues periodic DELETEs. This
	// call does nothing; the policy itself is remembered by the
	// collection provider.
	return nil
}

// CollectionExists implements types.DocStore.
func (p *Pool) CollectionExists(ctx context.Context, schema ident.Schema, name ident.Collection, family types.Family) (bool, error) {
	var exists bool
	err := p.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schema.Raw(), name.Raw(),
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "checking existence of %s", qualify(schema, name))
	}
	return exists, nil
}

// InsertEvent implements types.DocStore.
func (p *Pool) InsertEvent(ctx context.Context, schema ident.Schema, name ident.Collection, ev types.Event) error {
	value, err := json.Marshal(ev.AttrValue)
	if err != nil {
		return errors.Wrap(err, "encoding attribute value")
	}
	q := qualify(schema, name)
	_, err = p.Pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (recv_time, entity_id, entity_type, attr_name, attr_type, attr_value) VALUES ($1,$2,$3,$4,$5,$6)`, q),
		ev.RecvTime.UTC(), ev.EntityID, ev.EntityType, ev.AttrName, ev.AttrType, value)
	if err != nil {
		return errors.Wrapf(err, "inserting event into %s", q)
	}
	return nil
}

// QueryEvents implements types.DocStore.
func (p *Pool) QueryEvents(ctx context.Context, schema ident.Schema, name ident.Collection, spec types.RawQuerySpec) ([]types.Event, error) {
	q := qualify(schema, name)

	var sb strings.Builder
	args := []any{spec.EntityID, spec.EntityType, spec.AttrName}
	fmt.Fprintf(&sb, `SELECT recv_time, entity_id, entity_type, attr_name, attr_type, attr_value FROM %s WHERE entity_id = $1 AND entity_type = $2 AND attr_name = $3`, q)
	if spec.From != nil {
		args = append(args, spec.From.UTC())
		fmt.Fprintf(&sb, " AND recv_time >= $%d", len(args))
	}
	if spec.To != nil {
		args = append(args, spec.To.UTC())
		fmt.Fprintf(&sb, " AND recv_time <= $%d", len(args))
	}

	descending := spec.Mode == types.LastN
	if descending {
		sb.WriteString(" ORDER BY recv_time DESC, id DESC")
	} else {
		sb.WriteString(" ORDER BY recv_time ASC, id ASC")
	}

	switch spec.Mode {
	case types.LastN:
		args = append(args, spec.LastN)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	case types.Window:
		args = append(args, spec.HLimit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
		args = append(args, spec.HOffset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	case types.CSV:
		// No limit: the full matching range is streamed out.
	}

	rows, err := p.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying events from %s", q)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var raw []byte
		if err := rows.Scan(&ev.RecvTime, &ev.EntityID, &ev.EntityType, &ev.AttrName, &ev.AttrType, &raw); err != nil {
			return nil, errors.Wrap(err, "scanning event row")
		}
		if err := json.Unmarshal(raw, &ev.AttrValue); err != nil {
			return nil, errors.Wrap(err, "decoding attribute value")
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating event rows")
	}

	if descending {
		reverse(events)
	}
	return events, nil
}

func reverse(events []types.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

// UpsertBucketSlot implements types.DocStore. It performs the
// insert-skeleton-if-absent-then-patch-one-slot sequence described in
// the aggregate engine's update protocol as a single transaction: a
// conflict-tolerant insert establishes the bucket row if this is its
// first write, then a row lock (SELECT ... FOR UPDATE) makes the
// read-modify-write of one slot atomic with respect to every other
// concurrent writer touching the same bucket.
func (p *Pool) UpsertBucketSlot(
	ctx context.Context, schema ident.Schema, name ident.Collection, ns types.NamespaceTuple,
	r types.Resolution, origin time.Time, slotIndex int, numeric *float64, str *string,
) error {
	q := qualify(schema, name)
	isNumeric := numeric != nil

	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning bucket transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	skeleton, err := marshalSkeleton(r, isNumeric)
	if err != nil {
		return err
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (entity_id, entity_type, attr_name, resolution, origin, is_numeric, points)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (entity_id, entity_type, attr_name, resolution, origin) DO NOTHING`, q)
	if _, err := tx.Exec(ctx, insertSQL,
		ns.EntityID, ns.EntityType, ns.AttrName, string(r), origin.UTC(), isNumeric, skeleton,
	); err != nil {
		return errors.Wrapf(err, "inserting bucket skeleton into %s", q)
	}

	selectSQL := fmt.Sprintf(`
		SELECT points FROM %s
		WHERE entity_id = $1 AND entity_type = $2 AND attr_name = $3 AND resolution = $4 AND origin = $5
		FOR UPDATE`, q)
	var raw []byte
	if err := tx.QueryRow(ctx, selectSQL, ns.EntityID, ns.EntityType, ns.AttrName, string(r), origin.UTC()).Scan(&raw); err != nil {
		return errors.Wrapf(err, "locking bucket in %s", q)
	}

	patched, err := applySlotDelta(raw, isNumeric, slotIndex, numeric, str)
	if err != nil {
		return err
	}

	updateSQL := fmt.Sprintf(`
		UPDATE %s SET points = $1
		WHERE entity_id = $2 AND entity_type = $3 AND attr_name = $4 AND resolution = $5 AND origin = $6`, q)
	if _, err := tx.Exec(ctx, updateSQL, patched, ns.EntityID, ns.EntityType, ns.AttrName, string(r), origin.UTC()); err != nil {
		return errors.Wrapf(err, "patching bucket slot in %s", q)
	}

	return errors.Wrap(tx.Commit(ctx), "committing bucket transaction")
}

func marshalSkeleton(r types.Resolution, isNumeric bool) ([]byte, error) {
	if isNumeric {
		return json.Marshal(make([]types.NumericSlot, r.SlotCount()))
	}
	return json.Marshal(make([]types.StringSlot, r.SlotCount()))
}

func applySlotDelta(raw []byte, isNumeric bool, slotIndex int, numeric *float64, str *string) ([]byte, error) {
	if isNumeric {
		var slots []types.NumericSlot
		if err := json.Unmarshal(raw, &slots); err != nil {
			return nil, errors.Wrap(err, "decoding numeric bucket")
		}
		if slotIndex < 0 || slotIndex >= len(slots) {
			return nil, errors.Errorf("slot index %d out of range for %d slots", slotIndex, len(slots))
		}
		slots[slotIndex].Apply(*numeric)
		return json.Marshal(slots)
	}

	var slots []types.StringSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, errors.Wrap(err, "decoding string bucket")
	}
	if slotIndex < 0 || slotIndex >= len(slots) {
		return nil, errors.Errorf("slot index %d out of range for %d slots", slotIndex, len(slots))
	}
	slots[slotIndex].Apply(*str)
	return json.Marshal(slots)
}

// QueryBuckets implements types.DocStore.
func (p *Pool) QueryBuckets(ctx context.Context, schema ident.Schema, name ident.Collection, ns types.NamespaceTuple, r types.Resolution, from, to time.Time) ([]types.Bucket, error) {
	q := qualify(schema, name)
	rows, err := p.Pool.Query(ctx, fmt.Sprintf(`
		SELECT origin, is_numeric, points FROM %s
		WHERE entity_id = $1 AND entity_type = $2 AND attr_name = $3 AND resolution = $4
		  AND origin BETWEEN $5 AND $6
		ORDER BY origin ASC`, q),
		ns.EntityID, ns.EntityType, ns.AttrName, string(r), from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "querying buckets from %s", q)
	}
	defer rows.Close()

	var buckets []types.Bucket
	for rows.Next() {
		var origin time.Time
		var isNumeric bool
		var raw []byte
		if err := rows.Scan(&origin, &isNumeric, &raw); err != nil {
			return nil, errors.Wrap(err, "scanning bucket row")
		}
		b := types.Bucket{Namespace: ns, Resolution: r, Origin: origin}
		if isNumeric {
			if err := json.Unmarshal(raw, &b.Numeric); err != nil {
				return nil, errors.Wrap(err, "decoding numeric bucket")
			}
		} else {
			if err := json.Unmarshal(raw, &b.String); err != nil {
				return nil, errors.Wrap(err, "decoding string bucket")
			}
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating bucket rows")
	}
	return buckets, nil
}

// RecordHashOrigin implements types.DocStore.
func (p *Pool) RecordHashOrigin(ctx context.Context, schema ident.Schema, rec types.HashOriginRecord) error {
	name, err := ident.New(hashOriginTable)
	if err != nil {
		return err
	}
	q := qualify(schema, name)
	if _, err := p.Pool.Exec(ctx, fmt.Sprintf(hashOriginDDL, q)); err != nil {
		return errors.Wrapf(err, "creating hash-origin table %s", q)
	}
	_, err = p.Pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (hash, service, service_path, entity_id, entity_type, attr_name, is_aggregated) VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (hash) DO NOTHING`, q),
		rec.Hash, rec.Namespace.Service, rec.Namespace.ServicePath, rec.Namespace.EntityID, rec.Namespace.EntityType, rec.Namespace.AttrName, rec.Family == types.AggregatedFamily,
	)
	if err != nil {
		return errors.Wrapf(err, "recording hash origin in %s", q)
	}
	return nil
}

// LookupHashOrigin implements types.DocStore.
func (p *Pool) LookupHashOrigin(ctx context.Context, schema ident.Schema, hash string) (types.HashOriginRecord, bool, error) {
	name, err := ident.New(hashOriginTable)
	if err != nil {
		return types.HashOriginRecord{}, false, err
	}
	q := qualify(schema, name)

	var rec types.HashOriginRecord
	var isAggregated bool
	err = p.Pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT hash, service, service_path, entity_id, entity_type, attr_name, is_aggregated FROM %s WHERE hash = $1`, q),
		hash,
	).Scan(&rec.Hash, &rec.Namespace.Service, &rec.Namespace.ServicePath, &rec.Namespace.EntityID, &rec.Namespace.EntityType, &rec.Namespace.AttrName, &isAggregated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.HashOriginRecord{}, false, nil
		}
		return types.HashOriginRecord{}, false, errors.Wrapf(err, "looking up hash origin in %s", q)
	}
	if isAggregated {
		rec.Family = types.AggregatedFamily
	}
	rec.Service = rec.Namespace.Service
	return rec, true, nil
}

// TruncateCollection implements collection.Truncator: it deletes
// documents older than policy.MaxAge and, if policy.MaxSize is set,
// the oldest excess rows beyond that count. Called periodically by the
// collection janitor, never at creation time.
func (p *Pool) TruncateCollection(ctx context.Context, schema ident.Schema, name ident.Collection, family types.Family, policy types.TruncationPolicy) error {
	if policy.None() {
		return nil
	}
	q := qualify(schema, name)
	timeColumn := "origin"
	if family == types.RawFamily {
		timeColumn = "recv_time"
	}

	if policy.MaxAge > 0 {
		cutoff := time.Now().Add(-policy.MaxAge).UTC()
		if _, err := p.Pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, q, timeColumn), cutoff); err != nil {
			return errors.Wrapf(err, "age-truncating %s", q)
		}
	}

	if policy.MaxSize > 0 {
		deleteSQL := fmt.Sprintf(`
			DELETE FROM %s WHERE ctid IN (
				SELECT ctid FROM %s ORDER BY %s DESC OFFSET $1
			)`, q, q, timeColumn)
		if _, err := p.Pool.Exec(ctx, deleteSQL, policy.MaxSize); err != nil {
			return errors.Wrapf(err, "size-truncating %s", q)
		}
	}
	return nil
}

// ListAttributeNames implements types.DocStore. It is a best-effort
// scan of information_schema for path-mode collection names, not a
// dedicated index: the naming resolver's path-mode format
// (service_servicePath_entityType_entityID_attrName) is parsed back
// apart rather than queried structurally, since the schema carries no
// column for it. Hash-mode collections are invisible to this scan by
// construction (their physical names carry no tuple structure); the
// hash-origin table would need a per-tuple secondary index to support
// listing in that mode, which is out of scope for this supplementary
// endpoint.
func (p *Pool) ListAttributeNames(ctx context.Context, schema ident.Schema, entityID, entityType string) ([]string, error) {
	rows, err := p.Pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1`, schema.Raw())
	if err != nil {
		return nil, errors.Wrap(err, "listing tables for attribute scan")
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var names []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, errors.Wrap(err, "scanning table name")
		}
		attr, ok := attrNameFromTable(table, schema.Raw(), entityType, entityID)
		if ok && !seen[attr] {
			seen[attr] = true
			names = append(names, attr)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating table names")
	}
	return names, nil
}

// attrNameFromTable reverses the path-mode naming convention
// "service_servicePath_entityType_entityID_attrName[.aggr]" for one
// fixed service/entityType/entityID, returning the trailing attrName
// segment when the table matches.
func attrNameFromTable(table, service, entityType, entityID string) (string, bool) {
	table = strings.TrimSuffix(table, ident.AggregateSuffix)
	prefix := service + "_"
	if !strings.HasPrefix(table, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(table, prefix)

	marker := "_" + entityType + "_" + entityID + "_"
	idx := strings.Index(rest, marker)
	if idx < 0 {
		return "", false
	}
	attr := rest[idx+len(marker):]
	if attr == "" {
		return "", false
	}
	return attr, true
}
