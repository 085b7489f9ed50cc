package sthtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func TestChaosZeroProbabilityIsTransparent(t *testing.T) {
	fake := New()
	wrapped := Chaos(fake, 0)
	assert.Same(t, fake, wrapped)
}

func TestChaosInjectsErrorsAtFullProbability(t *testing.T) {
	wrapped := Chaos(New(), 1)
	schema, err := ident.NewSchema("smartcity")
	require.NoError(t, err)

	err = wrapped.Ping(context.Background())
	require.ErrorIs(t, err, ErrChaos)

	_, err = wrapped.CollectionExists(context.Background(), schema, ident.Collection{}, types.RawFamily)
	require.ErrorIs(t, err, ErrChaos)
}
