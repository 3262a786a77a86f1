package slab

import "github.com/achilleasa/slabpool/diag"

// classFor returns the size class a request of size bytes routes to: k
// indexes p.slots/p.stats, shift is the class's object size shift. ok is
// false when size cannot be served by any size class and must instead be
// satisfied by a whole-page allocation (spec.md §4.4).
func (p *Pool) classFor(size uint64) (k uint, shift uint, ok bool) {
	if size > p.maxSlab {
		return 0, 0, false
	}
	if size > uint64(1)<<p.minShift {
		shift = log2Ceil(size)
		if shift < p.minShift {
			shift = p.minShift
		}
	} else {
		shift = p.minShift
	}
	return shift - p.minShift, shift, true
}

// classAlloc serves a request routed to size class k/shift, reusing a
// partially-free page already on the class's slot list when one exists and
// carving a fresh page from the free-page manager otherwise. If the slot
// list's head turns out to have no free bit after all (its bitmap or the
// list itself is corrupted), classAlloc reports it at critical severity and
// falls through to carving a fresh page instead of failing the request,
// matching ngx_slab_alloc_locked's "page is busy" recovery.
func (p *Pool) classAlloc(k uint, shift uint) []byte {
	s := &p.stats[k]
	s.reqs++

	sentinelID := p.slotNode(k)
	sentinel := &p.slots[k]

	if sentinel.nextNode() != sentinelID {
		if idx, ok := p.pageIndexFromNode(sentinel.nextNode()); ok {
			page := &p.pages[idx]
			var buf []byte
			switch {
			case shift < p.exactShift:
				buf = p.allocSmall(idx, page, shift)
			case shift == p.exactShift:
				buf = p.allocExact(idx, page)
			default:
				buf = p.allocBig(idx, page, shift)
			}
			if buf != nil {
				s.used++
				return buf
			}
			p.diag.Emit(diag.Event{
				Severity:  diag.Critical,
				Reason:    diag.PageIsBusy,
				Message:   "slab_alloc(): page is busy",
				PageIndex: idx,
				SizeClass: int(shift),
			})
		}
	}

	idx, got := p.allocPages(1)
	if !got {
		s.fails++
		return nil
	}
	page := &p.pages[idx]
	var buf []byte
	switch {
	case shift < p.exactShift:
		buf = p.initSmallPage(idx, page, sentinelID, shift, s)
	case shift == p.exactShift:
		buf = p.initExactPage(idx, page, sentinelID, s)
	default:
		buf = p.initBigPage(idx, page, sentinelID, shift, s)
	}
	if buf == nil {
		s.fails++
		return nil
	}
	s.used++
	return buf
}

// classFree releases the object at byte offset objOff within pages[idx],
// dispatching on the page's recorded type. Corruption conditions (a dangling
// pointer into an already-free chunk, or a pointer that does not land on an
// object boundary) are reported through p.diag and treated as silent no-ops,
// matching spec.md §7: Free never panics or returns an error for them.
func (p *Pool) classFree(idx uint64, objOff uint64, page *pageDesc) {
	shift := page.shift()
	if page.pageType() == PageExact {
		// An EXACT page's slab is all bitmap; its shift is implied.
		shift = p.exactShift
	}
	var k uint
	if shift >= p.minShift {
		k = shift - p.minShift
	}
	s := &p.stats[k]

	switch page.pageType() {
	case PageSmall:
		p.freeSmall(idx, page, shift, objOff, s)
	case PageExact:
		p.freeExact(idx, page, objOff, s)
	case PageBig:
		p.freeBig(idx, page, shift, objOff, s)
	default:
		p.diag.Emit(diag.Event{
			Severity:  diag.Warning,
			Reason:    diag.WrongPage,
			Message:   "free(): page is not a size-class page",
			PageIndex: idx,
		})
	}
}

func (p *Pool) junk(b []byte) {
	if !p.junkFill {
		return
	}
	for i := range b {
		b[i] = 0xA5
	}
}
