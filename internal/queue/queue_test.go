package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushPop(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 1, q.Pop())
	assert.Equal(t, 2, q.Pop())
	assert.Equal(t, 3, q.Pop())
	assert.True(t, q.Empty())
}

func TestQueue_PopEmptyReturnsZero(t *testing.T) {
	q := New[string]()
	assert.Equal(t, "", q.Pop())
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[int]()
	q.Push(10, 20)

	got := q.GetAndEmpty()
	require.Equal(t, []int{10, 20}, got)
	assert.True(t, q.Empty())

	// Queue remains usable after draining.
	q.Push(30)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			q.Push(n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, q.Len())
}
