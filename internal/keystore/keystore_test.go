package keystore

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextDeterminism(t *testing.T) {
	a := NewContext(42, Options{})
	b := NewContext(42, Options{})
	c := NewContext(43, Options{})

	assert.Equal(t, a.StringKey(), b.StringKey())
	assert.Equal(t, a.Derive("vm"), b.Derive("vm"))
	assert.NotEqual(t, a.StringKey(), c.StringKey())
	assert.NotEqual(t, a.Derive("vm"), a.Derive("mba"))
	assert.Equal(t, uint64(DefaultCapacity), a.Capacity())
}

func TestRangeRandReplays(t *testing.T) {
	ctx := NewContext(7, Options{})
	r, err := ctx.Allocate(16)
	require.NoError(t, err)

	x, y := r.Rand("mba"), r.Rand("mba")
	for i := 0; i < 32; i++ {
		assert.Equal(t, x.Uint64(), y.Uint64())
	}

	other, err := ctx.Allocate(16)
	require.NoError(t, err)
	assert.NotEqual(t, r.Rand("mba").Uint64(), other.Rand("mba").Uint64())
}

func TestAllocateExhaustion(t *testing.T) {
	ctx := NewContext(1, Options{Capacity: 10})

	r, err := ctx.Allocate(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Start())
	assert.Equal(t, uint64(8), r.End())

	_, err = ctx.Allocate(3)
	assert.ErrorIs(t, err, ErrContextExhausted)

	r2, err := ctx.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), r2.Start())
	assert.Equal(t, uint64(10), ctx.Used())

	_, err = ctx.Allocate(1)
	assert.ErrorIs(t, err, ErrContextExhausted)
}

func TestRangeNext(t *testing.T) {
	ctx := NewContext(1, Options{})
	r, err := ctx.Allocate(2)
	require.NoError(t, err)

	l1, err := r.Next()
	require.NoError(t, err)
	l2, err := r.Next()
	require.NoError(t, err)
	assert.NotEqual(t, l1, l2)
	assert.True(t, r.Contains(l1))
	assert.Equal(t, uint64(0), r.Remaining())

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrContextExhausted)
}

func TestConcurrentAllocationsAreDisjoint(t *testing.T) {
	const workers = 32
	const per = 50

	ctx := NewContext(99, Options{Capacity: workers * per * 4})

	var mu sync.Mutex
	var ranges []*Range
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(size uint64) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				r, err := ctx.Allocate(size)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				ranges = append(ranges, r)
				mu.Unlock()
			}
		}(uint64(w%3 + 1))
	}
	wg.Wait()

	require.Len(t, ranges, workers*per)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start() < ranges[j].Start() })
	for i := 1; i < len(ranges); i++ {
		assert.LessOrEqual(t, ranges[i-1].End(), ranges[i].Start(), "ranges %d and %d overlap", i-1, i)
	}
}

func TestScrambleIsInjective(t *testing.T) {
	ctx := NewContext(42, Options{Capacity: 4096})
	r, err := ctx.Allocate(4096)
	require.NoError(t, err)

	seen := make(map[uint64]bool)
	for i := 0; i < 4096; i++ {
		l, err := r.NextScrambled()
		require.NoError(t, err)
		require.False(t, seen[l], "label %#x repeated", l)
		seen[l] = true
	}
	assert.NotEqual(t, NewContext(43, Options{}).Scramble(7), ctx.Scramble(7))
}
