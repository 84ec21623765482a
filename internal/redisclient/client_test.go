package redisclient

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationFieldOrdersLikeNumbers(t *testing.T) {
	base := int64(1717243200000000000)

	// a nanosecond apart, well below float64 precision at this magnitude
	assert.Less(t, generationField(base), generationField(base+1))
	assert.Less(t, generationField(base+255), generationField(base+256))
	assert.Less(t, generationField(9), generationField(10))
	assert.Less(t, generationField(0), generationField(math.MaxInt64))
}

func TestGenerationFieldIsFixedWidth(t *testing.T) {
	for _, gen := range []int64{0, 1, 1717243200000000000, math.MaxInt64} {
		assert.Len(t, generationField(gen), 20, gen)
	}
}

func TestStoreScriptComparesStrings(t *testing.T) {
	assert.NotContains(t, storeSnapshotScript, "tonumber(ARGV[1])")
	assert.True(t, strings.Contains(storeSnapshotScript, "incoming <= current"))
}
