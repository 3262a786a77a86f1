package slab

import "github.com/achilleasa/slabpool/diag"

// bigObjsPerPage returns how many shift-sized objects fit in a page, for a
// BIG class (shift > exactShift, so this is always < WordBits and fits in
// the high half of a descriptor's slab field).
func (p *Pool) bigObjsPerPage(shift uint) uint64 {
	return p.pageSize >> shift
}

// initBigPage carves a freshly allocated page into a BIG size class page.
// The class shift is stashed in slab's low 4 bits; the per-object bitmap
// lives in the high half, addressed via mapShift/mapMask.
func (p *Pool) initBigPage(idx uint64, page *pageDesc, sentinelID nodeID, shift uint, s *statEntry) []byte {
	p.insertNodeAfter(sentinelID, idx, PageBig)

	page.slab = uint64(shift) | (uint64(1) << mapShift)
	s.total += p.bigObjsPerPage(shift)

	frame := p.frame(idx)
	objSize := uint64(1) << shift
	return frame[0:objSize]
}

// allocBig serves a request from a BIG page already known to have at least
// one free bit.
func (p *Pool) allocBig(idx uint64, page *pageDesc, shift uint) []byte {
	objsPerPage := p.bigObjsPerPage(shift)
	bitmap := (page.slab & mapMask()) >> mapShift

	for b := uint64(0); b < objsPerPage; b++ {
		if bitmap&(uint64(1)<<b) != 0 {
			continue
		}
		bitmap |= uint64(1) << b
		page.slab = uint64(shift) | (bitmap << mapShift)

		full := true
		for i := uint64(0); i < objsPerPage; i++ {
			if bitmap&(uint64(1)<<i) == 0 {
				full = false
				break
			}
		}
		if full {
			p.unlinkNode(idx)
		}

		objSize := uint64(1) << shift
		off := b * objSize
		return p.frame(idx)[off : off+objSize]
	}
	return nil
}

// freeBig releases the object at objOff within a BIG page.
func (p *Pool) freeBig(idx uint64, page *pageDesc, shift uint, objOff uint64, s *statEntry) {
	objSize := uint64(1) << shift
	objsPerPage := p.bigObjsPerPage(shift)

	if objOff%objSize != 0 {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.WrongChunk, Message: "free(): pointer to wrong chunk", PageIndex: idx, SizeClass: int(shift), ObjectSize: objSize})
		return
	}
	bitIdx := objOff / objSize
	if bitIdx >= objsPerPage {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.WrongChunk, Message: "free(): pointer to wrong chunk", PageIndex: idx, SizeClass: int(shift), ObjectSize: objSize})
		return
	}

	bitmap := (page.slab & mapMask()) >> mapShift
	wasFull := true
	for i := uint64(0); i < objsPerPage; i++ {
		if bitmap&(uint64(1)<<i) == 0 {
			wasFull = false
			break
		}
	}

	bit := uint64(1) << bitIdx
	if bitmap&bit == 0 {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.ChunkAlreadyFree, Message: "free(): chunk is already free", PageIndex: idx, SizeClass: int(shift), ObjectSize: objSize})
		return
	}
	bitmap &^= bit
	page.slab = uint64(shift) | (bitmap << mapShift)
	p.junk(p.frame(idx)[objOff : objOff+objSize])
	s.used--

	sentinelID := p.slotNode(shift - p.minShift)
	if wasFull {
		p.insertNodeAfter(sentinelID, idx, PageBig)
	}

	if bitmap == 0 {
		p.unlinkNode(idx)
		page.setNext(nilNode)
		page.setPrev(nilNode, PageFree)
		s.total -= objsPerPage
		p.freePages(idx, 1)
	}
}
