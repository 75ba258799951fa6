// Package memory provides locked, zero-on-release byte buffers for decoded
// secrets, pooled by size class.
package memory

import (
	"runtime"
	"sync"
)

// Pool hands out SecureBuffers from size-classed sync.Pools. Buffers are
// shredded before they go back to a pool.
type Pool struct {
	pools   []*sync.Pool
	sizes   []int
	stats   *PoolStats
	statsMu sync.RWMutex
}

// PoolStats tracks pool statistics
type PoolStats struct {
	Gets         int64 `json:"gets"`
	Puts         int64 `json:"puts"`
	Misses       int64 `json:"misses"`
	Locked       int64 `json:"locked"`
	LockFailures int64 `json:"lock_failures"`
}

// Predefined size classes. Strings longer than the largest class are
// allocated directly.
var defaultSizes = []int{
	32,
	128,
	512,
	2048,
	8192,
}

// NewPool creates a new pool
func NewPool() *Pool {
	p := &Pool{
		sizes: defaultSizes,
		stats: &PoolStats{},
	}

	p.pools = make([]*sync.Pool, len(defaultSizes))
	for i, size := range defaultSizes {
		s := size
		p.pools[i] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, s)
				return &b
			},
		}
	}

	return p
}

// Get returns a buffer of exactly size bytes. The memory is locked against
// swapping where the platform allows it; failure to lock is not an error.
// Locks are counted per page, so releasing one buffer keeps pages shared
// with other live buffers locked.
func (p *Pool) Get(size int) *SecureBuffer {
	var b []byte
	class := -1
	for i, s := range p.sizes {
		if size <= s {
			class = i
			break
		}
	}

	p.statsMu.Lock()
	p.stats.Gets++
	if class < 0 {
		p.stats.Misses++
	}
	p.statsMu.Unlock()

	if class >= 0 {
		b = (*p.pools[class].Get().(*[]byte))[:size]
	} else {
		b = make([]byte, size)
	}

	sb := &SecureBuffer{buf: b, pool: p, class: class}
	if size > 0 {
		sb.locked = pinned.acquire(b[:cap(b)]) == nil
		p.statsMu.Lock()
		if sb.locked {
			p.stats.Locked++
		} else {
			p.stats.LockFailures++
		}
		p.statsMu.Unlock()
	}
	return sb
}

func (p *Pool) put(sb *SecureBuffer) {
	if sb.class < 0 {
		return
	}
	b := sb.buf[:cap(sb.buf)]
	p.statsMu.Lock()
	p.stats.Puts++
	p.statsMu.Unlock()
	p.pools[sb.class].Put(&b)
}

// GetStats returns pool statistics
func (p *Pool) GetStats() PoolStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return *p.stats
}

// SecureBuffer is a byte buffer that is zeroed and unlocked on Release
type SecureBuffer struct {
	buf    []byte
	pool   *Pool
	class  int
	locked bool
	done   bool
}

// Bytes returns the buffer contents. The slice is invalid after Release.
func (sb *SecureBuffer) Bytes() []byte {
	return sb.buf
}

// Locked reports whether the buffer is pinned in RAM
func (sb *SecureBuffer) Locked() bool {
	return sb.locked
}

// Release zeroes the buffer and returns it to its pool. Calling it more
// than once is harmless.
func (sb *SecureBuffer) Release() {
	if sb == nil || sb.done {
		return
	}
	sb.done = true
	full := sb.buf[:cap(sb.buf)]
	Shred(full)
	if sb.locked {
		pinned.release(full)
		sb.locked = false
	}
	if sb.pool != nil {
		sb.pool.put(sb)
	}
}

// Shred zeroes b. It is kept out of line so the stores are not elided.
//
//go:noinline
func Shred(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

var (
	globalPool *Pool
	initOnce   sync.Once
)

// Default returns the process-wide pool
func Default() *Pool {
	initOnce.Do(func() {
		globalPool = NewPool()
	})
	return globalPool
}
