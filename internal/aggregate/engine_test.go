package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/sthtest"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func testHandle(t *testing.T) *collection.Handle {
	t.Helper()
	schema, err := ident.NewSchema("smartcity")
	require.NoError(t, err)
	name, err := ident.New("bus_speed_aggr")
	require.NoError(t, err)
	return &collection.Handle{
		Namespace: types.NamespaceTuple{Service: "smartcity", EntityID: "bus-42", EntityType: "Bus", AttrName: "speed"},
		Schema:    schema, Name: name, Family: types.AggregatedFamily,
	}
}

func TestUpdateOneNumericSlotInvariants(t *testing.T) {
	fake := sthtest.New()
	e := New(fake)
	h := testHandle(t)

	base := time.Date(2026, 7, 29, 10, 15, 0, 0, time.UTC)
	for _, v := range []float64{10, 20, 30} {
		ev := types.Event{RecvTime: base, EntityID: h.Namespace.EntityID, EntityType: h.Namespace.EntityType, AttrName: h.Namespace.AttrName, AttrValue: v}
		require.NoError(t, e.UpdateOne(context.Background(), h, types.Minute, ev))
	}

	buckets, err := fake.QueryBuckets(context.Background(), h.Schema, h.Name, h.Namespace, types.Minute, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	slot := buckets[0].Numeric[base.Minute()]
	assert.EqualValues(t, 3, slot.Samples)
	assert.Equal(t, 60.0, slot.Sum)
	assert.Equal(t, 10.0, slot.Min)
	assert.Equal(t, 30.0, slot.Max)
	assert.GreaterOrEqual(t, slot.Sum2, slot.Sum*slot.Sum/float64(slot.Samples))
}

func TestUpdateAllWritesEveryResolution(t *testing.T) {
	fake := sthtest.New()
	e := New(fake)
	h := testHandle(t)

	ev := types.Event{RecvTime: time.Now().UTC(), EntityID: h.Namespace.EntityID, EntityType: h.Namespace.EntityType, AttrName: h.Namespace.AttrName, AttrValue: 1.0}
	require.NoError(t, e.UpdateAll(context.Background(), h, ev))

	for _, r := range types.AllResolutions {
		origin := r.ParentTruncate(ev.RecvTime)
		buckets, err := fake.QueryBuckets(context.Background(), h.Schema, h.Name, h.Namespace, r, origin, origin)
		require.NoError(t, err)
		require.Lenf(t, buckets, 1, "expected a bucket for resolution %s", r)
	}
}

func TestQueryRejectsMismatchedMethod(t *testing.T) {
	fake := sthtest.New()
	e := New(fake)
	h := testHandle(t)

	ev := types.Event{RecvTime: time.Now().UTC(), EntityID: h.Namespace.EntityID, EntityType: h.Namespace.EntityType, AttrName: h.Namespace.AttrName, AttrValue: 5.0}
	require.NoError(t, e.UpdateOne(context.Background(), h, types.Hour, ev))

	_, err := e.Query(context.Background(), h, types.AggregateQuerySpec{
		Method: types.MethodOccur, Resolution: types.Hour,
		From: ev.RecvTime.Add(-time.Hour), To: ev.RecvTime.Add(time.Hour),
	})
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
}

func TestQueryAlwaysReturnsFullSubUnitWidth(t *testing.T) {
	fake := sthtest.New()
	e := New(fake)
	h := testHandle(t)

	ev := types.Event{RecvTime: time.Now().UTC(), EntityID: h.Namespace.EntityID, EntityType: h.Namespace.EntityType, AttrName: h.Namespace.AttrName, AttrValue: 5.0}
	require.NoError(t, e.UpdateOne(context.Background(), h, types.Hour, ev))

	buckets, err := e.Query(context.Background(), h, types.AggregateQuerySpec{
		Method: types.MethodSum, Resolution: types.Hour,
		From: ev.RecvTime.Add(-time.Hour), To: ev.RecvTime.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	// Every slot is present, whether or not it has samples, so that the
	// slot's index always equals its true sub-unit offset; dropping
	// samples=0 slots is left to the presentation layer.
	assert.Len(t, buckets[0].Numeric, types.Hour.SlotCount())
	assert.EqualValues(t, 1, buckets[0].Numeric[ev.RecvTime.UTC().Hour()].Samples)
}
