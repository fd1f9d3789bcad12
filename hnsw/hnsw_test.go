package hnsw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	idx := New(2)

	require.NoError(t, idx.Insert("a", []float32{0, 0}, 0))
	require.NoError(t, idx.Insert("b", []float32{10, 10}, 1))
	require.NoError(t, idx.Insert("c", []float32{1, 1}, 2))

	results, err := idx.Search([]float32{0, 0}, 1, 50)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Key)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Insert("a", []float32{0, 0}, 0))
	err := idx.Insert("a", []float32{1, 1}, 1)
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	idx := New(3)
	err := idx.Insert("a", []float32{0, 0}, 0)
	var dimErr *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
}

func TestRemoveTombstonesNotPhysical(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Insert("a", []float32{0, 0}, 0))
	require.NoError(t, idx.Insert("b", []float32{5, 5}, 1))

	assert.True(t, idx.Remove("a"))
	assert.Equal(t, 1, idx.Size())

	_, _, ok := idx.Get("a")
	assert.False(t, ok)

	results, err := idx.Search([]float32{0, 0}, 2, 50)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.Key)
	}
}

func TestSearchOnEmptyIndex(t *testing.T) {
	idx := New(4)
	results, err := idx.Search([]float32{1, 2, 3, 4}, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchReturnsKNearestOrdered(t *testing.T) {
	idx := New(1)
	for i, v := range []float32{10, 1, 5, 20, 2} {
		require.NoError(t, idx.Insert(string(rune('a'+i)), []float32{v}, int64(i)))
	}

	results, err := idx.Search([]float32{0}, 3, 50)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestCosineMetricZeroNormIsMaximalDistance(t *testing.T) {
	idx := New(2, func(o *Options) { o.DistanceMetric = Cosine })
	require.NoError(t, idx.Insert("zero", []float32{0, 0}, 0))

	results, err := idx.Search([]float32{1, 1}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Distance, 1e-6)
}
