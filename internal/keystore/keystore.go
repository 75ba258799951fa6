// Package keystore holds the per-build obfuscation context: the seed, the key
// schedule derived from it and the label space regions draw from.
package keystore

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
)

// DefaultCapacity is the label space of a context when none is configured
const DefaultCapacity = 1 << 20

// ErrContextExhausted is returned when the label space is used up. It is
// fatal for the build.
var ErrContextExhausted = errors.New("obfuscation context exhausted")

// Options configures a Context
type Options struct {
	// Capacity is the number of labels the context can hand out
	Capacity uint64
}

// Context is the build-wide obfuscation context. All methods are safe for
// concurrent use.
type Context struct {
	seed      uint64
	capacity  uint64
	buildKey  [32]byte
	stringKey [32]byte
	labelMul  uint64
	labelMask uint64

	next atomic.Uint64
}

// NewContext derives a context from seed. Equal seeds give equal key
// material; different seeds diverge in every derived byte.
func NewContext(seed uint64, opts Options) *Context {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	c := &Context{seed: seed, capacity: opts.Capacity}

	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	c.buildKey = sha256.Sum256(append([]byte("obfusk8/build/"), s[:]...))
	c.stringKey = c.Derive("strings")
	lk := c.Derive("labels")
	c.labelMul = binary.LittleEndian.Uint64(lk[:8]) | 1
	c.labelMask = binary.LittleEndian.Uint64(lk[8:16])
	return c
}

// Seed returns the build seed
func (c *Context) Seed() uint64 { return c.seed }

// Capacity returns the size of the label space
func (c *Context) Capacity() uint64 { return c.capacity }

// Used returns how many labels have been allocated
func (c *Context) Used() uint64 { return c.next.Load() }

// StringKey returns the key string encryption derives per-string keystreams from
func (c *Context) StringKey() [32]byte { return c.stringKey }

// Derive returns key material for a named purpose
func (c *Context) Derive(purpose string) [32]byte {
	h := sha256.New()
	h.Write(c.buildKey[:])
	h.Write([]byte(purpose))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SubSeed returns a 64-bit seed for a named purpose
func (c *Context) SubSeed(purpose string) uint64 {
	k := c.Derive(purpose)
	return binary.LittleEndian.Uint64(k[:8])
}

// Scramble maps a raw label to the value emitted into dispatch code. It is a
// bijection (odd multiplier, then xor) so scrambled labels stay distinct.
func (c *Context) Scramble(label uint64) uint64 {
	return (label * c.labelMul) ^ c.labelMask
}

// Allocate reserves n consecutive labels with a single atomic step
func (c *Context) Allocate(n uint64) (*Range, error) {
	if n == 0 {
		return nil, fmt.Errorf("allocate: empty range")
	}
	for {
		cur := c.next.Load()
		if n > c.capacity-cur {
			return nil, fmt.Errorf("%w: need %d labels, %d of %d left", ErrContextExhausted, n, c.capacity-cur, c.capacity)
		}
		if c.next.CompareAndSwap(cur, cur+n) {
			return &Range{ctx: c, start: cur, end: cur + n, next: cur}, nil
		}
	}
}

// Range is a block of labels owned by one region. A Range is not safe for
// concurrent use; each worker gets its own.
type Range struct {
	ctx   *Context
	start uint64
	end   uint64
	next  uint64
}

// Start returns the first label of the range
func (r *Range) Start() uint64 { return r.start }

// End returns one past the last label of the range
func (r *Range) End() uint64 { return r.end }

// Len returns the size of the range
func (r *Range) Len() uint64 { return r.end - r.start }

// Remaining returns how many labels Next can still hand out
func (r *Range) Remaining() uint64 { return r.end - r.next }

// Contains reports whether label belongs to the range
func (r *Range) Contains(label uint64) bool {
	return label >= r.start && label < r.end
}

// Next hands out the next unused label
func (r *Range) Next() (uint64, error) {
	if r.next >= r.end {
		return 0, fmt.Errorf("%w: range [%d, %d) used up", ErrContextExhausted, r.start, r.end)
	}
	l := r.next
	r.next++
	return l, nil
}

// NextScrambled hands out the next label in scrambled form
func (r *Range) NextScrambled() (uint64, error) {
	l, err := r.Next()
	if err != nil {
		return 0, err
	}
	return r.ctx.Scramble(l), nil
}

// Key returns key material private to this range and purpose
func (r *Range) Key(purpose string) [32]byte {
	return r.ctx.Derive(fmt.Sprintf("%s/%d", purpose, r.start))
}

// Rand returns a generator seeded from the build seed, the range start and
// purpose. The same inputs always replay the same sequence.
func (r *Range) Rand(purpose string) *rand.Rand {
	k := r.Key(purpose)
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(k[:8]))))
}
