package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine_IdenticalVectorsAreOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosine(v, v), 1e-6)
}

func TestCosine_OrthogonalVectorsAreZero(t *testing.T) {
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestCosine_OppositeVectorsAreNegativeOne(t *testing.T) {
	assert.InDelta(t, -1.0, cosine([]float32{1, 2}, []float32{-1, -2}), 1e-6)
}

func TestCosine_MismatchedLengthsReturnsSentinel(t *testing.T) {
	assert.Equal(t, float32(-1), cosine([]float32{1, 2}, []float32{1}))
}

func TestCosine_EmptyVectorReturnsSentinel(t *testing.T) {
	assert.Equal(t, float32(-1), cosine(nil, []float32{1}))
}

func TestCosine_ZeroVectorReturnsZeroNotNaN(t *testing.T) {
	assert.Equal(t, float32(0), cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestNextID_MonotonicallyIncreases(t *testing.T) {
	a := nextID()
	b := nextID()
	assert.Less(t, a, b)
}

func TestEncodeDecodeEmbedding_RoundTrips(t *testing.T) {
	v := []float32{0.1, -0.25, 3.5}
	encoded := encodeEmbedding(v)
	decoded := decodeEmbedding(encoded)
	assert.InDeltaSlice(t, v, decoded, 1e-6)
}
