package memory

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func TestPoolGetSizes(t *testing.T) {
	pool := NewPool()

	for _, size := range []int{0, 5, 32, 100, 3000, 20000} {
		sb := pool.Get(size)
		require.NotNil(t, sb)
		assert.Len(t, sb.Bytes(), size)
		sb.Release()
	}

	stats := pool.GetStats()
	assert.Equal(t, int64(6), stats.Gets)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(5), stats.Puts)
	assert.Equal(t, int64(5), stats.Locked+stats.LockFailures)
}

func TestReleaseShreds(t *testing.T) {
	pool := NewPool()
	sb := pool.Get(16)
	buf := sb.Bytes()
	copy(buf, "super secret key")

	sb.Release()
	assert.True(t, allZero(buf[:cap(buf)]))

	// second release is a no-op
	sb.Release()
	assert.Equal(t, int64(1), pool.GetStats().Puts)
}

func TestShred(t *testing.T) {
	b := []byte("hello")
	Shred(b)
	assert.True(t, allZero(b))
	Shred(nil)
}

func TestPoolConcurrent(t *testing.T) {
	pool := Default()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sb := pool.Get(n*10 + j)
				for k := range sb.Bytes() {
					sb.Bytes()[k] = byte(k)
				}
				sb.Release()
			}
		}(i)
	}
	wg.Wait()
	assert.GreaterOrEqual(t, pool.GetStats().Gets, int64(1600))
}

func (pl *pageLocks) held(b []byte) int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	first, _ := pl.pages(b)
	return pl.count[first]
}

func TestPageLocksShareRefcount(t *testing.T) {
	pl := newPageLocks()
	size := int(pl.size)
	arena := make([]byte, 3*size)
	// align to a page boundary inside the arena
	off := size - int(uintptr(unsafe.Pointer(&arena[0]))%pl.size)
	page := arena[off : off+size]

	a, b := page[0:16], page[64:80]
	if err := pl.acquire(a); err != nil {
		t.Skipf("mlock unavailable: %v", err)
	}
	require.NoError(t, pl.acquire(b))
	assert.Equal(t, 2, pl.held(a))

	pl.release(a)
	assert.Equal(t, 1, pl.held(b), "page must stay locked for b")

	pl.release(b)
	assert.Equal(t, 0, pl.held(b))
	assert.Empty(t, pl.count)

	// a buffer straddling two pages references both
	straddle := arena[off+size-8 : off+size+8]
	require.NoError(t, pl.acquire(straddle))
	assert.Len(t, pl.count, 2)
	pl.release(straddle)
	assert.Empty(t, pl.count)
}
