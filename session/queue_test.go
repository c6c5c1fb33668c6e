package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_RunsInOrder(t *testing.T) {
	q := newTaskQueue()
	defer q.stop()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, q.sync(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestTaskQueue_PostFromTaskRunsLater(t *testing.T) {
	q := newTaskQueue()
	defer q.stop()

	var order []string
	done := make(chan struct{})
	q.post(func() {
		q.post(func() {
			order = append(order, "deferred")
			close(done)
		})
		order = append(order, "current")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deferred task did not run")
	}
	assert.Equal(t, []string{"current", "deferred"}, order)
}

func TestTaskQueue_Stop(t *testing.T) {
	q := newTaskQueue()
	q.stop()
	q.stop()

	assert.False(t, q.post(func() {}))
	assert.ErrorIs(t, q.sync(context.Background()), ErrClosed)
}

func TestTaskQueue_SyncHonoursContext(t *testing.T) {
	q := newTaskQueue()
	defer q.stop()

	block := make(chan struct{})
	q.post(func() { <-block })
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.sync(ctx), context.DeadlineExceeded)
}
