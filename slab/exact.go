package slab

import "github.com/achilleasa/slabpool/diag"

// initExactPage carves a freshly allocated page into the EXACT size class,
// the one class whose pages hold exactly WordBits objects: the page
// descriptor's own slab field doubles as the bitmap, so no reserved storage
// is needed inside the frame itself.
func (p *Pool) initExactPage(idx uint64, page *pageDesc, sentinelID nodeID, s *statEntry) []byte {
	p.insertNodeAfter(sentinelID, idx, PageExact)
	page.slab = 1
	s.total += WordBits

	frame := p.frame(idx)
	return frame[0:p.exactSize]
}

// allocExact serves a request from an EXACT page already known to have at
// least one free bit.
func (p *Pool) allocExact(idx uint64, page *pageDesc) []byte {
	for b := uint(0); b < WordBits; b++ {
		if page.slab&(uint64(1)<<b) != 0 {
			continue
		}
		page.slab |= uint64(1) << b
		if page.slab == ^uint64(0) {
			p.unlinkNode(idx)
		}
		off := uint64(b) * p.exactSize
		frame := p.frame(idx)
		return frame[off : off+p.exactSize]
	}
	return nil
}

// freeExact releases the object at objOff within an EXACT page.
func (p *Pool) freeExact(idx uint64, page *pageDesc, objOff uint64, s *statEntry) {
	if objOff%p.exactSize != 0 {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.WrongChunk, Message: "free(): pointer to wrong chunk", PageIndex: idx, SizeClass: int(p.exactShift), ObjectSize: p.exactSize})
		return
	}
	bitIdx := objOff / p.exactSize
	if bitIdx >= WordBits {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.WrongChunk, Message: "free(): pointer to wrong chunk", PageIndex: idx, SizeClass: int(p.exactShift), ObjectSize: p.exactSize})
		return
	}

	wasFull := page.slab == ^uint64(0)
	bit := uint64(1) << bitIdx
	if page.slab&bit == 0 {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.ChunkAlreadyFree, Message: "free(): chunk is already free", PageIndex: idx, SizeClass: int(p.exactShift), ObjectSize: p.exactSize})
		return
	}
	page.slab &^= bit
	p.junk(p.frame(idx)[objOff : objOff+p.exactSize])
	s.used--

	sentinelID := p.slotNode(p.exactShift - p.minShift)
	if wasFull {
		p.insertNodeAfter(sentinelID, idx, PageExact)
	}

	if page.slab == 0 {
		p.unlinkNode(idx)
		page.setNext(nilNode)
		page.setPrev(nilNode, PageFree)
		s.total -= WordBits
		p.freePages(idx, 1)
	}
}
