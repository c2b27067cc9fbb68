package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineIdentity(t *testing.T) {
	vec := []float32{0.3, -1.2, 4.5, 0.01}
	score, err := Cosine(vec, vec)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestCosineBounds(t *testing.T) {
	pairs := [][2][]float32{
		{{1, 0}, {0, 1}},
		{{1, 2, 3}, {-1, -2, -3}},
		{{0.5, 0.5}, {100, -3}},
		{{-7, 2, 0.1}, {3, 3, 3}},
	}
	for _, pair := range pairs {
		score, err := Cosine(pair[0], pair[1])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, -1.0-1e-9)
		assert.LessOrEqual(t, score, 1.0+1e-9)
	}
}

func TestCosineOpposite(t *testing.T) {
	score, err := Cosine([]float32{1, 2, 3}, []float32{-1, -2, -3})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, score, 1e-9)
}

func TestCosineZeroVector(t *testing.T) {
	score, err := Cosine([]float32{0, 0, 0}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)

	var mismatch *DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.LenA)
	assert.Equal(t, 3, mismatch.LenB)
}

func TestTopMatchesStableTies(t *testing.T) {
	matches := []Match{
		{Score: 0.5},
		{Score: 0.9},
		{Score: 0.5},
		{Score: 0.7},
	}
	matches[0].Chunk.ID = "a"
	matches[1].Chunk.ID = "b"
	matches[2].Chunk.ID = "c"
	matches[3].Chunk.ID = "d"

	top := topMatches(matches, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "b", top[0].Chunk.ID)
	assert.Equal(t, "d", top[1].Chunk.ID)
	// Equal scores keep their original order.
	assert.Equal(t, "a", top[2].Chunk.ID)
}
