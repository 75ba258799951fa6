package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolSubmitWait(t *testing.T) {
	pool, err := NewWorkerPool(&WorkerPoolOptions{Size: 4})
	require.NoError(t, err)
	defer pool.Shutdown()

	var sum atomic.Int64
	for i := 1; i <= 100; i++ {
		n := int64(i)
		require.NoError(t, pool.Submit(func() { sum.Add(n) }))
	}
	pool.Wait()

	assert.Equal(t, int64(5050), sum.Load())
	stats := pool.Stats()
	assert.Equal(t, int64(100), stats.Submitted)
	assert.Equal(t, int64(100), stats.Completed)
	assert.Equal(t, 4, stats.Capacity)
}

func TestWorkerPoolCountsErrors(t *testing.T) {
	pool, err := NewWorkerPool(nil)
	require.NoError(t, err)
	defer pool.Shutdown()

	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, pool.SubmitWithError(func() error {
			if i%2 == 0 {
				return errors.New("even")
			}
			return nil
		}))
	}
	pool.Wait()
	assert.Equal(t, int64(5), pool.Stats().Errors)
}

func TestSubmitAfterShutdown(t *testing.T) {
	pool, err := NewWorkerPool(nil)
	require.NoError(t, err)
	pool.Shutdown()

	assert.Error(t, pool.Submit(func() {}))
}

func TestMapKeepsIndexOrder(t *testing.T) {
	pool, err := NewWorkerPool(&WorkerPoolOptions{Size: 3})
	require.NoError(t, err)
	defer pool.Shutdown()

	errBad := errors.New("bad index")
	out := make([]int, 20)
	errs := pool.Map(context.Background(), len(out), func(_ context.Context, i int) error {
		out[i] = i * i
		if i == 7 {
			return errBad
		}
		return nil
	})

	require.Len(t, errs, 20)
	for i, err := range errs {
		if i == 7 {
			assert.ErrorIs(t, err, errBad)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, i*i, out[i])
	}
}

func TestMapCancelled(t *testing.T) {
	pool, err := NewWorkerPool(&WorkerPoolOptions{Size: 2})
	require.NoError(t, err)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Int32
	errs := pool.Map(ctx, 5, func(context.Context, int) error {
		ran.Add(1)
		return nil
	})
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Zero(t, ran.Load())
}
