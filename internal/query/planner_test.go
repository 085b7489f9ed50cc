package query

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

func TestDispatchRulePrecedence(t *testing.T) {
	n := 10
	method := types.MethodSum
	period := types.Hour

	path, err := Dispatch(Params{LastN: &n, AggrMethod: &method, AggrPeriod: &period})
	require.NoError(t, err)
	assert.Equal(t, RawPath, path, "raw parameters win over aggregate ones")

	path, err = Dispatch(Params{AggrMethod: &method, AggrPeriod: &period})
	require.NoError(t, err)
	assert.Equal(t, AggregatedPath, path)

	_, err = Dispatch(Params{})
	require.Error(t, err)
	var ve *ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Keys, "aggrMethod")
}

func newPlanner(t *testing.T) (*Planner, ident.Schema) {
	t.Helper()
	fake := sthtest.New()
	provider := collection.New(fake, namespace.New(namespace.PathMode))
	raw := rawstore.New(fake)
	agg := aggregate.New(fake)
	schema, err := ident.NewSchema("smartcity")
	require.NoError(t, err)
	return New(provider, raw, agg), schema
}

func TestExecuteRawPathOnAbsentCollectionIsEmptyNotError(t *testing.T) {
	pl, schema := newPlanner(t)
	tuple := types.NamespaceTuple{Service: "smartcity", EntityID: "bus-1", EntityType: "Bus", AttrName: "speed"}
	n := 5

	result, err := pl.Execute(context.Background(), schema, tuple, Params{LastN: &n})
	require.NoError(t, err)
	assert.Equal(t, RawPath, result.Path)
	assert.Empty(t, result.Raw.Events)
}

func TestExecuteAggregatedPathOnAbsentCollectionIsEmptyNotError(t *testing.T) {
	pl, schema := newPlanner(t)
	tuple := types.NamespaceTuple{Service: "smartcity", EntityID: "bus-1", EntityType: "Bus", AttrName: "speed"}
	method := types.MethodSum
	period := types.Hour

	result, err := pl.Execute(context.Background(), schema, tuple, Params{AggrMethod: &method, AggrPeriod: &period})
	require.NoError(t, err)
	assert.Equal(t, AggregatedPath, result.Path)
	assert.Empty(t, result.Aggregated)
}

func TestExecuteAggregatedPathDefaultsToNow(t *testing.T) {
	pl, schema := newPlanner(t)
	tuple := types.NamespaceTuple{Service: "smartcity", EntityID: "bus-1", EntityType: "Bus", AttrName: "speed"}
	method := types.MethodSum
	period := types.Hour
	from := time.Now().Add(-time.Hour)

	result, err := pl.Execute(context.Background(), schema, tuple, Params{AggrMethod: &method, AggrPeriod: &period, From: &from})
	require.NoError(t, err)
	assert.Equal(t, AggregatedPath, result.Path)
}
