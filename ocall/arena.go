package ocall

import (
	"errors"
	"sync"
	"unsafe"
)

// Arena allocates the host buffers handed across the boundary.
// It tracks every live allocation, so a buffer's provenance can be checked by address.
// It is safe for concurrent use.
type Arena struct {
	mux  sync.Mutex
	live map[uintptr][]byte
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{live: make(map[uintptr][]byte)}
}

// Alloc returns a zeroed buffer of n bytes.
func (a *Arena) Alloc(n int) []byte {
	// Keep at least one byte so even empty buffers have a distinct address.
	slab := make([]byte, n, max(n, 1))
	a.mux.Lock()
	a.live[address(slab)] = slab
	a.mux.Unlock()
	return slab
}

// Copy returns a buffer holding a copy of b.
func (a *Arena) Copy(b []byte) []byte {
	buf := a.Alloc(len(b))
	copy(buf, b)
	return buf
}

// Free releases buf. buf must start at the beginning of a live allocation.
func (a *Arena) Free(buf []byte) error {
	if unsafe.SliceData(buf) == nil {
		return errors.New("freeing nil buffer")
	}
	a.mux.Lock()
	defer a.mux.Unlock()
	if _, ok := a.live[address(buf)]; !ok {
		return errors.New("freeing buffer that was not allocated by this arena")
	}
	delete(a.live, address(buf))
	return nil
}

// Live returns the number of buffers that have not been freed.
func (a *Arena) Live() int {
	a.mux.Lock()
	defer a.mux.Unlock()
	return len(a.live)
}

// IsOutsideEnclave reports whether buf lies entirely within a live allocation of the arena.
func (a *Arena) IsOutsideEnclave(buf []byte) bool {
	if unsafe.SliceData(buf) == nil {
		return false
	}
	start := address(buf)
	end := start + uintptr(len(buf))
	if end < start {
		return false
	}

	a.mux.Lock()
	defer a.mux.Unlock()
	for slabStart, slab := range a.live {
		if start >= slabStart && end <= slabStart+uintptr(cap(slab)) {
			return true
		}
	}
	return false
}

func address(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
