package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBasic(t *testing.T) {
	r := New[string](5)
	require.NotNil(t, r)

	v, ok := r.Dequeue()
	require.False(t, ok)
	require.Empty(t, v)
	require.Zero(t, r.Len())

	r.Enqueue("one")
	require.Equal(t, 1, r.Len())

	v, ok = r.Dequeue()
	require.True(t, ok)
	require.Equal(t, "one", v)
	require.Zero(t, r.Len())

	r.Enqueue("one")
	r.Enqueue("two")
	require.Equal(t, 2, r.Len())

	v, ok = r.Dequeue()
	require.True(t, ok)
	require.Equal(t, "one", v)

	v, ok = r.Dequeue()
	require.True(t, ok)
	require.Equal(t, "two", v)
	require.Zero(t, r.Len())
}

func TestRingWrapsAround(t *testing.T) {
	const size = 4
	r := New[int](size)

	// offset head so subsequent enqueues wrap past the end of the buffer.
	r.Enqueue(-1)
	r.Enqueue(-2)
	_, _ = r.Dequeue()
	_, _ = r.Dequeue()

	for i := 1; i <= size; i++ {
		r.Enqueue(i)
	}
	require.Equal(t, size, r.Len())

	for i := 1; i <= size; i++ {
		v, ok := r.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	require.Zero(t, r.Len())
}

func TestRingGrowsPreservingOrder(t *testing.T) {
	const size = 3
	r := New[int](size)

	// wrap, then overfill so grow() has to unwrap a split ring.
	r.Enqueue(-1)
	_, _ = r.Dequeue()

	for i := 1; i <= size*3; i++ {
		r.Enqueue(i)
	}
	require.Equal(t, size*3, r.Len())

	for i := 1; i <= size*3; i++ {
		v, ok := r.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	_, ok := r.Dequeue()
	require.False(t, ok)
}

func TestRingDropsDequeuedReferences(t *testing.T) {
	r := New[*int](2)
	n := 7
	r.Enqueue(&n)

	v, ok := r.Dequeue()
	require.True(t, ok)
	require.Equal(t, &n, v)

	// the vacated slot no longer pins the element.
	require.Nil(t, r.buf[0])
}

func TestRingMinimumCapacity(t *testing.T) {
	r := New[int](0)
	r.Enqueue(1)
	r.Enqueue(2)

	v, ok := r.Dequeue()
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = r.Dequeue()
	require.True(t, ok)
	require.Equal(t, 2, v)
}
