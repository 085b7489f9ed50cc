package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasquy73/fiware-sth-comet/internal/aggregate"
	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/namespace"
	"github.com/pasquy73/fiware-sth-comet/internal/rawstore"
	"github.com/pasquy73/fiware-sth-comet/internal/sthtest"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func newCoordinator(t *testing.T, mode types.StoreMode) (*Coordinator, *sthtest.Fake) {
	t.Helper()
	fake := sthtest.New()
	provider := collection.New(fake, namespace.New(namespace.PathMode))
	raw := rawstore.New(fake)
	agg := aggregate.New(fake)
	c := New(provider, raw, agg, Options{Mode: mode, IgnoreBlankSpaces: true})
	return c, fake
}

func TestIngestDropsNonStringNonNumericAttributes(t *testing.T) {
	c, _ := newCoordinator(t, types.Both)
	schema, err := ident.NewSchema("smartcity")
	require.NoError(t, err)

	el := ContextElement{
		ID: "bus-1", Type: "Bus",
		Attributes: []Attribute{
			{Name: "speed", Type: "Number", Value: 42.0},
			{Name: "route", Type: "object", Value: map[string]any{"a": 1}},
		},
	}
	err = c.Ingest(context.Background(), schema, "smartcity", "/", el, time.Now().UTC())
	assert.NoError(t, err)
}

func TestIngestEmptyAfterFlattenIsValidationError(t *testing.T) {
	c, _ := newCoordinator(t, types.Both)
	schema, _ := ident.NewSchema("smartcity")

	el := ContextElement{
		ID: "bus-1", Type: "Bus",
		Attributes: []Attribute{{Name: "blob", Type: "object", Value: []any{1, 2}}},
	}
	err := c.Ingest(context.Background(), schema, "smartcity", "/", el, time.Now().UTC())
	require.Error(t, err)
	var ve *ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Keys, "attributes")
}

func TestIngestDropsBlankStringWhenConfigured(t *testing.T) {
	c, fake := newCoordinator(t, types.OnlyRaw)
	schema, _ := ident.NewSchema("smartcity")

	el := ContextElement{
		ID: "bus-1", Type: "Bus",
		Attributes: []Attribute{
			{Name: "label", Type: "Text", Value: "   "},
			{Name: "speed", Type: "Number", Value: 10.0},
		},
	}
	require.NoError(t, c.Ingest(context.Background(), schema, "smartcity", "/", el, time.Now().UTC()))

	names, err := fake.ListAttributeNames(context.Background(), schema, "bus-1", "Bus")
	require.NoError(t, err)
	assert.Contains(t, names, "speed")
	assert.NotContains(t, names, "label")
}

// failingRawInsert wraps a Fake, failing InsertEvent for one attribute
// name while every other method (including UpsertBucketSlot) delegates
// straight to the embedded Fake.
type failingRawInsert struct {
	*sthtest.Fake
	failAttr string
}

func (f *failingRawInsert) InsertEvent(ctx context.Context, schema ident.Schema, name ident.Collection, ev types.Event) error {
	if ev.AttrName == f.failAttr {
		return sthtest.ErrChaos
	}
	return f.Fake.InsertEvent(ctx, schema, name, ev)
}

// TestIngestSubtaskFailureDoesNotAbortSiblings confirms one attribute's
// raw-store failure doesn't cancel the concurrent subtasks writing a
// different attribute's raw event or this same attribute's aggregate
// buckets: every subtask runs against one shared detached context that
// no subtask can cancel, rather than an errgroup cancellation context.
func TestIngestSubtaskFailureDoesNotAbortSiblings(t *testing.T) {
	fake := sthtest.New()
	failing := &failingRawInsert{Fake: fake, failAttr: "speed"}
	provider := collection.New(failing, namespace.New(namespace.PathMode))
	raw := rawstore.New(failing)
	agg := aggregate.New(failing)
	c := New(provider, raw, agg, Options{Mode: types.Both, IgnoreBlankSpaces: true})

	schema, err := ident.NewSchema("smartcity")
	require.NoError(t, err)

	el := ContextElement{
		ID: "bus-1", Type: "Bus",
		Attributes: []Attribute{
			{Name: "speed", Type: "Number", Value: 10.0},
			{Name: "label", Type: "Text", Value: "ok"},
		},
	}
	recvTime := time.Now().UTC()
	err = c.Ingest(context.Background(), schema, "smartcity", "/", el, recvTime)
	require.Error(t, err, "speed's raw-store subtask must report its failure")

	labelTuple := types.NamespaceTuple{Service: "smartcity", ServicePath: "/", EntityID: "bus-1", EntityType: "Bus", AttrName: "label"}
	labelName, _, err := namespace.New(namespace.PathMode).Resolve(labelTuple, types.RawFamily)
	require.NoError(t, err)
	labelEvents, err := fake.QueryEvents(context.Background(), schema, labelName, types.RawQuerySpec{
		Mode: types.LastN, EntityID: "bus-1", EntityType: "Bus", AttrName: "label", LastN: 10,
	})
	require.NoError(t, err)
	assert.Len(t, labelEvents, 1, "label's sibling raw-write subtask must still have completed")

	speedTuple := types.NamespaceTuple{Service: "smartcity", ServicePath: "/", EntityID: "bus-1", EntityType: "Bus", AttrName: "speed"}
	speedAggName, _, err := namespace.New(namespace.PathMode).Resolve(speedTuple, types.AggregatedFamily)
	require.NoError(t, err)
	origin := types.Second.ParentTruncate(recvTime)
	buckets, err := fake.QueryBuckets(context.Background(), schema, speedAggName, speedTuple, types.Second, origin, origin)
	require.NoError(t, err)
	require.Len(t, buckets, 1, "speed's sibling aggregate-write subtask must still have completed")
	assert.EqualValues(t, 1, buckets[0].Numeric[recvTime.Second()].Samples)
}

func TestIngestOnlyAggregatedSkipsRawStore(t *testing.T) {
	c, fake := newCoordinator(t, types.OnlyAggregated)
	schema, _ := ident.NewSchema("smartcity")

	el := ContextElement{
		ID: "bus-1", Type: "Bus",
		Attributes: []Attribute{{Name: "speed", Type: "Number", Value: 10.0}},
	}
	require.NoError(t, c.Ingest(context.Background(), schema, "smartcity", "/", el, time.Now().UTC()))

	tuple := types.NamespaceTuple{Service: "smartcity", ServicePath: "/", EntityID: "bus-1", EntityType: "Bus", AttrName: "speed"}
	name, _, err := namespace.New(namespace.PathMode).Resolve(tuple, types.RawFamily)
	require.NoError(t, err)

	exists, err := fake.CollectionExists(context.Background(), schema, name, types.RawFamily)
	require.NoError(t, err)
	assert.False(t, exists, "raw collection must not be created in OnlyAggregated mode")
}
