package namespace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func tuple() types.NamespaceTuple {
	return types.NamespaceTuple{
		Service: "smartcity", ServicePath: "/transport",
		EntityID: "bus-42", EntityType: "Bus", AttrName: "speed",
	}
}

func TestResolvePathModeIsDeterministic(t *testing.T) {
	r := New(PathMode)
	a, hashedA, err := r.Resolve(tuple(), types.RawFamily)
	require.NoError(t, err)
	b, hashedB, err := r.Resolve(tuple(), types.RawFamily)
	require.NoError(t, err)

	assert.Equal(t, a.Raw(), b.Raw())
	assert.False(t, hashedA)
	assert.False(t, hashedB)
}

func TestResolvePathModeAggregatedSuffix(t *testing.T) {
	r := New(PathMode)
	raw, _, err := r.Resolve(tuple(), types.RawFamily)
	require.NoError(t, err)
	aggr, _, err := r.Resolve(tuple(), types.AggregatedFamily)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(aggr.Raw(), raw.Raw()))
	assert.True(t, strings.HasSuffix(aggr.Raw(), ".aggr"))
}

func TestResolveHashModeAlwaysHashes(t *testing.T) {
	r := New(HashMode)
	name, hashed, err := r.Resolve(tuple(), types.RawFamily)
	require.NoError(t, err)
	assert.True(t, hashed)
	assert.Len(t, name.Raw(), 64) // sha256 hex digest
}

func TestResolvePathModeFallsBackToHashOnOverflow(t *testing.T) {
	r := New(PathMode)
	huge := tuple()
	huge.ServicePath = strings.Repeat("x", 200)

	name, hashed, err := r.Resolve(huge, types.RawFamily)
	require.NoError(t, err)
	assert.True(t, hashed)
	assert.LessOrEqual(t, len(name.Raw()), 128)
}

func TestHashNameIsStableForSameTuple(t *testing.T) {
	assert.Equal(t, HashName(tuple()), HashName(tuple()))
}

func TestResolvePathStrictModeMatchesPathModeUnderLimit(t *testing.T) {
	r := New(PathStrictMode)
	name, hashed, err := r.Resolve(tuple(), types.RawFamily)
	require.NoError(t, err)
	assert.False(t, hashed)

	plain := New(PathMode)
	plainName, _, err := plain.Resolve(tuple(), types.RawFamily)
	require.NoError(t, err)
	assert.Equal(t, plainName.Raw(), name.Raw())
}

func TestResolvePathStrictModeReportsOverflowInsteadOfHashing(t *testing.T) {
	r := New(PathStrictMode)
	huge := tuple()
	huge.ServicePath = strings.Repeat("x", 200)

	_, _, err := r.Resolve(huge, types.RawFamily)
	require.ErrorIs(t, err, ident.ErrIdentifierTooLong)
}
