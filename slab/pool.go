package slab

import "github.com/achilleasa/slabpool/diag"

// Locker is the single external mutex a Pool relies on to serialize access
// to its region. slab never constructs one itself (besides the no-op used
// when a caller does not need cross-goroutine safety): package lock
// provides Spinlock for intra-process use and FileLock for pools shared
// between processes over a memory-mapped region.
type Locker interface {
	Acquire()
	Release()
	TryToAcquire() bool
}

// noopLocker is the default Locker for a Pool nobody else can reach
// concurrently (e.g. a throwaway pool inside a single-threaded test).
type noopLocker struct{}

func (noopLocker) Acquire()           {}
func (noopLocker) Release()           {}
func (noopLocker) TryToAcquire() bool { return true }

// SetLocker rebinds the pool's mutex. Callers attaching via Attach normally
// supply the Locker up front; this exists for the rarer case of upgrading a
// freshly Init'd pool from the default no-op lock once it is about to be
// shared.
func (p *Pool) SetLocker(mu Locker) {
	if mu == nil {
		mu = &noopLocker{}
	}
	p.mu = mu
}

// Alloc reserves size bytes and returns a slice over the reserved memory.
// The slice's length is exactly size; its capacity may be larger when the
// request was rounded up to a size class or a whole number of pages. Alloc
// returns ErrOutOfMemory if the region has no space left to satisfy it.
func (p *Pool) Alloc(size uint64) ([]byte, error) {
	p.mu.Acquire()
	defer p.mu.Release()
	return p.AllocLocked(size)
}

// AllocLocked is the _locked variant of Alloc: the caller must already hold
// the pool's lock.
func (p *Pool) AllocLocked(size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}

	k, shift, ok := p.classFor(size)
	if ok {
		buf := p.classAlloc(k, shift)
		if buf == nil {
			return nil, ErrOutOfMemory
		}
		return buf[:size], nil
	}

	n := (size + p.pageSize - 1) / p.pageSize
	if n > uint64(p.hdr.numPages) {
		return nil, ErrInvalidSize
	}
	idx, got := p.allocPages(n)
	if !got {
		return nil, ErrOutOfMemory
	}
	off := p.pageAddr(idx)
	buf := p.region[off : off+n*p.pageSize]
	return buf[:size], nil
}

// Calloc behaves like Alloc but zeroes the returned memory before returning
// it.
func (p *Pool) Calloc(size uint64) ([]byte, error) {
	p.mu.Acquire()
	defer p.mu.Release()
	return p.CallocLocked(size)
}

// CallocLocked is the _locked variant of Calloc.
func (p *Pool) CallocLocked(size uint64) ([]byte, error) {
	buf, err := p.AllocLocked(size)
	if err != nil {
		return nil, err
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf, nil
}

// Free releases memory previously returned by Alloc or Calloc on this pool.
// Every corruption condition Free can detect — a pointer outside the
// region, a double free, a pointer into the middle of an object, a
// misaligned or dangling page pointer — is reported only through the
// pool's diag.Sink and otherwise treated as a silent no-op: the original
// allocator this package is modeled on has no way to signal such errors
// back to the caller either, and spec.md §7's propagation policy requires
// Free to never fail loudly.
func (p *Pool) Free(buf []byte) error {
	p.mu.Acquire()
	defer p.mu.Release()
	return p.FreeLocked(buf)
}

// FreeLocked is the _locked variant of Free.
func (p *Pool) FreeLocked(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	off := p.offsetOf(buf)
	idx, ok := p.pageIndexForOffset(off)
	if !ok {
		p.diag.Emit(diag.Event{
			Severity: diag.Warning,
			Reason:   diag.OutsideOfPool,
			Message:  "free(): pointer is outside of pool",
		})
		return nil
	}
	page := &p.pages[idx]

	switch page.pageType() {
	case PageSmall, PageExact, PageBig:
		objOff := off - p.pageAddr(idx)
		p.classFree(idx, objOff, page)
		return nil
	case PageFree:
		if off != p.pageAddr(idx) {
			if page.slab&pageStartBit == 0 {
				// The frame is not part of a live allocation: a stale
				// pointer to an object whose page was already returned.
				p.diag.Emit(diag.Event{
					Severity:  diag.Warning,
					Reason:    diag.ChunkAlreadyFree,
					Message:   "free(): chunk is already free",
					PageIndex: idx,
				})
				return nil
			}
			p.diag.Emit(diag.Event{
				Severity:  diag.Warning,
				Reason:    diag.PageIsBusy,
				Message:   "free(): page is busy",
				PageIndex: idx,
			})
			return nil
		}
		if page.slab == pageBusy {
			p.diag.Emit(diag.Event{
				Severity:  diag.Warning,
				Reason:    diag.WrongPage,
				Message:   "free(): pointer to wrong page",
				PageIndex: idx,
			})
			return nil
		}
		if page.slab&pageStartBit == 0 {
			p.diag.Emit(diag.Event{
				Severity:  diag.Warning,
				Reason:    diag.PageAlreadyFree,
				Message:   "free(): page is already free",
				PageIndex: idx,
			})
			return nil
		}
		n := page.slab &^ pageStartBit
		start := p.pageAddr(idx)
		p.junk(p.region[start : start+n*p.pageSize])
		p.freePages(idx, n)
		return nil
	default:
		p.diag.Emit(diag.Event{
			Severity:  diag.Warning,
			Reason:    diag.WrongPage,
			Message:   "free(): pointer to wrong page",
			PageIndex: idx,
		})
		return nil
	}
}
