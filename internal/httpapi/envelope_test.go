package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func TestBucketValuesOffsetSurvivesFilterEmpty(t *testing.T) {
	origin := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	slots := make([]types.NumericSlot, types.Minute.SlotCount())
	slots[0].Apply(1) // kept; the empty slots 1-39 before slot 40 are dropped
	slots[40].Apply(2)

	bucket := types.Bucket{Resolution: types.Minute, Origin: origin, Numeric: slots}

	values := bucketValues([]types.Bucket{bucket}, types.MethodSum, true)
	if assert.Len(t, values, 1) {
		points := values[0].Points
		assert.Len(t, points, 2)
		assert.Equal(t, 0, points[0].Offset)
		assert.Equal(t, 40, points[1].Offset)
	}
}

func TestBucketValuesWithoutFilterEmptyKeepsEverySlot(t *testing.T) {
	origin := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	slots := make([]types.NumericSlot, types.Hour.SlotCount())
	slots[5].Apply(1)

	bucket := types.Bucket{Resolution: types.Hour, Origin: origin, Numeric: slots}

	values := bucketValues([]types.Bucket{bucket}, types.MethodSum, false)
	if assert.Len(t, values, 1) {
		assert.Len(t, values[0].Points, types.Hour.SlotCount())
		assert.Equal(t, 5, values[0].Points[5].Offset)
	}
}
