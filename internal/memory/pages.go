package memory

import (
	"os"
	"sync"
	"unsafe"
)

// pageLocks counts the live buffers on each locked page. mlock does not
// nest, so a page is only unlocked once the last buffer on it is released.
type pageLocks struct {
	mu    sync.Mutex
	size  uintptr
	count map[uintptr]int
}

func newPageLocks() *pageLocks {
	return &pageLocks{size: uintptr(os.Getpagesize()), count: make(map[uintptr]int)}
}

var pinned = newPageLocks()

// pages returns the first and last page address b touches
func (pl *pageLocks) pages(b []byte) (uintptr, uintptr) {
	start := uintptr(unsafe.Pointer(&b[0]))
	mask := ^(pl.size - 1)
	return start & mask, (start + uintptr(len(b)) - 1) & mask
}

// acquire locks b and takes a reference on every page under it
func (pl *pageLocks) acquire(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if err := lock(b); err != nil {
		return err
	}
	first, last := pl.pages(b)
	for pg := first; pg <= last; pg += pl.size {
		pl.count[pg]++
	}
	return nil
}

// release drops b's references and unlocks the pages nothing else holds
func (pl *pageLocks) release(b []byte) {
	if len(b) == 0 {
		return
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	start := uintptr(unsafe.Pointer(&b[0]))
	end := start + uintptr(len(b))
	first, last := pl.pages(b)
	for pg := first; pg <= last; pg += pl.size {
		pl.count[pg]--
		if pl.count[pg] > 0 {
			continue
		}
		delete(pl.count, pg)
		lo, hi := pg, pg+pl.size
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		_ = unlock(b[lo-start : hi-start])
	}
}
