package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickQueuePreservesOrder(t *testing.T) {
	q := NewTickQueue(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []float64
	)
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, func(_ context.Context, tk Tick) {
			mu.Lock()
			got = append(got, tk.Price)
			n := len(got)
			mu.Unlock()
			if n == 50 {
				close(done)
			}
		})
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Push(ctx, Tick{Interval: "MINUTE_1", Price: float64(i)}))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain queue")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		assert.Equal(t, float64(i), p)
	}
}

func TestTickQueuePushHonorsCancel(t *testing.T) {
	q := NewTickQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Push(ctx, Tick{Price: 1}))
	cancel()
	assert.ErrorIs(t, q.Push(ctx, Tick{Price: 2}), context.Canceled)
	assert.Equal(t, 1, q.Len())
}
