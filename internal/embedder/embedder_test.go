package embedder

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCache_GetReturnsCopy verifies cached vectors cannot be mutated by callers
func TestCache_GetReturnsCopy(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1, 2, 3})

	got, ok := c.Get("a")
	require.True(t, ok)
	got[0] = 99

	again, _ := c.Get("a")
	assert.Equal(t, float32(1), again[0])
}

// TestCache_Eviction verifies the least recently used entry is evicted
func TestCache_Eviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	_, _ = c.Get("a")
	c.Set("c", []float32{3})

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

// TestComputeHash_ModelScoped verifies the same text hashes differently per model
func TestComputeHash_ModelScoped(t *testing.T) {
	assert.Equal(t, ComputeHash("m1", "hello"), ComputeHash("m1", "hello"))
	assert.NotEqual(t, ComputeHash("m1", "hello"), ComputeHash("m2", "hello"))
	assert.Len(t, ComputeHash("m", "x"), 64)
}

// TestValidateTexts_Errors covers empty, oversized and blank inputs
func TestValidateTexts_Errors(t *testing.T) {
	assert.ErrorIs(t, ValidateTexts(nil, 10), ErrInvalidInput)
	assert.ErrorIs(t, ValidateTexts([]string{"a", "b", "c"}, 2), ErrBatchTooLarge)
	assert.ErrorIs(t, ValidateTexts([]string{"a", ""}, 10), ErrEmptyText)
	assert.NoError(t, ValidateTexts([]string{"a"}, 10))
}

// TestAPIError_Temporary verifies throttling and server errors are transient
func TestAPIError_Temporary(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Temporary())
	assert.True(t, (&APIError{StatusCode: 503}).Temporary())
	assert.False(t, (&APIError{StatusCode: 400}).Temporary())
	assert.False(t, (&APIError{StatusCode: 401}).Temporary())
}

// TestLocalProvider_Deterministic verifies equal texts give equal unit vectors
func TestLocalProvider_Deterministic(t *testing.T) {
	p := NewLocalProvider(0)
	ctx := context.Background()

	a, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "goodbye")
	require.NoError(t, err)

	assert.Len(t, a, LocalDimension)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

// TestLocalProvider_EmbedBatch verifies batch output matches single calls
func TestLocalProvider_EmbedBatch(t *testing.T) {
	p := NewLocalProvider(16)
	ctx := context.Background()

	vecs, err := p.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	single, err := p.Embed(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
	assert.Equal(t, 16, p.Dimension())

	_, err = p.EmbedBatch(ctx, []string{"a", ""})
	assert.True(t, errors.Is(err, ErrEmptyText))
}

// TestLocalProvider_Cancelled verifies a cancelled context is honoured
func TestLocalProvider_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalProvider(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNormalizeVector_Zero verifies a zero vector is returned unchanged
func TestNormalizeVector_Zero(t *testing.T) {
	v := []float32{0, 0}
	assert.Equal(t, v, NormalizeVector(v))
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}), 1e-6)
}
