package rawstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/sthtest"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func handle(t *testing.T) *collection.Handle {
	t.Helper()
	schema, err := ident.NewSchema("smartcity")
	require.NoError(t, err)
	name, err := ident.New("bus_speed")
	require.NoError(t, err)
	return &collection.Handle{
		Namespace: types.NamespaceTuple{EntityID: "bus-1", EntityType: "Bus", AttrName: "speed"},
		Schema:    schema, Name: name, Family: types.RawFamily,
	}
}

func TestAppendThenQueryLastN(t *testing.T) {
	s := New(sthtest.New())
	h := handle(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ev := types.Event{
			RecvTime: base.Add(time.Duration(i) * time.Minute),
			EntityID: h.Namespace.EntityID, EntityType: h.Namespace.EntityType, AttrName: h.Namespace.AttrName,
			AttrValue: float64(i),
		}
		require.NoError(t, s.Append(ctx, h, ev))
	}

	res, err := s.Query(ctx, h, types.RawQuerySpec{Mode: types.LastN, EntityID: "bus-1", EntityType: "Bus", AttrName: "speed", LastN: 2})
	require.NoError(t, err)
	require.Equal(t, types.Inline, res.Kind)
	require.Len(t, res.Events, 2)
	assert.Equal(t, 3.0, res.Events[0].AttrValue)
	assert.Equal(t, 4.0, res.Events[1].AttrValue)
}

func TestQueryWindowRespectsOffsetAndLimit(t *testing.T) {
	s := New(sthtest.New())
	h := handle(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ev := types.Event{
			RecvTime: base.Add(time.Duration(i) * time.Minute),
			EntityID: h.Namespace.EntityID, EntityType: h.Namespace.EntityType, AttrName: h.Namespace.AttrName,
			AttrValue: float64(i),
		}
		require.NoError(t, s.Append(ctx, h, ev))
	}

	res, err := s.Query(ctx, h, types.RawQuerySpec{Mode: types.Window, EntityID: "bus-1", EntityType: "Bus", AttrName: "speed", HLimit: 2, HOffset: 1})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, 1.0, res.Events[0].AttrValue)
	assert.Equal(t, 2.0, res.Events[1].AttrValue)
}

func TestQueryCSVWritesCleanableFile(t *testing.T) {
	s := New(sthtest.New())
	h := handle(t)
	ctx := context.Background()

	ev := types.Event{RecvTime: time.Now().UTC(), EntityID: "bus-1", EntityType: "Bus", AttrName: "speed", AttrValue: 12.5}
	require.NoError(t, s.Append(ctx, h, ev))

	res, err := s.Query(ctx, h, types.RawQuerySpec{Mode: types.CSV, EntityID: "bus-1", EntityType: "Bus", AttrName: "speed"})
	require.NoError(t, err)
	require.Equal(t, types.File, res.Kind)

	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "12.5")

	res.Cleanup()
	_, err = os.Stat(res.Path)
	assert.True(t, os.IsNotExist(err))
}
