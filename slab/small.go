package slab

import (
	"unsafe"

	"github.com/achilleasa/slabpool/diag"
)

// smallBitmap returns the page's in-band allocation bitmap: the first n
// 64-bit words of its data frame, where n = ceil(objsPerPage/64).
func smallBitmap(frame []byte, n uint64) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&frame[0])), int(n))
}

// smallLayout computes the fixed geometry of a SMALL page for the given
// shift: how many objects fit, how many bitmap words that takes, and how
// many of the page's own object slots the bitmap itself occupies.
func (p *Pool) smallLayout(shift uint) (objSize, objsPerPage, words, reserved uint64) {
	objSize = uint64(1) << shift
	objsPerPage = p.pageSize >> shift
	words = (objsPerPage + WordBits - 1) / WordBits
	reservedBytes := words * 8
	reserved = (reservedBytes + objSize - 1) / objSize
	return
}

// reservedMask is the bitmap state of a freshly carved SMALL page before any
// caller object has been allocated from it: only the bits backing the
// bitmap's own storage are set.
func reservedMask(reserved uint64) uint64 {
	if reserved >= WordBits {
		return ^uint64(0)
	}
	return (uint64(1) << reserved) - 1
}

// initSmallPage carves a freshly allocated page into a new SMALL size class
// page, reserving the bitmap's own storage and returning the first object.
func (p *Pool) initSmallPage(idx uint64, page *pageDesc, sentinelID nodeID, shift uint, s *statEntry) []byte {
	objSize, objsPerPage, words, reserved := p.smallLayout(shift)

	page.slab = shift
	p.insertNodeAfter(sentinelID, idx, PageSmall)

	frame := p.frame(idx)
	bitmap := smallBitmap(frame, words)
	for i := range bitmap {
		bitmap[i] = 0
	}

	mask := reservedMask(reserved)
	// The first real object goes at bit `reserved`.
	bitmap[0] = mask | (uint64(1) << reserved)

	s.total += objsPerPage - reserved

	off := reserved * objSize
	return frame[off : off+objSize]
}

// allocSmall serves a request from a SMALL page already known to have at
// least one free bit.
func (p *Pool) allocSmall(idx uint64, page *pageDesc, shift uint) []byte {
	objSize, objsPerPage, words, _ := p.smallLayout(shift)
	frame := p.frame(idx)
	bitmap := smallBitmap(frame, words)

	for w := uint64(0); w < words; w++ {
		if bitmap[w] == ^uint64(0) {
			continue
		}
		for b := uint(0); b < WordBits; b++ {
			bitIdx := w*WordBits + uint64(b)
			if bitIdx >= objsPerPage {
				break
			}
			if bitmap[w]&(uint64(1)<<b) != 0 {
				continue
			}
			bitmap[w] |= uint64(1) << b
			if p.smallPageFull(bitmap, words, objsPerPage) {
				p.unlinkNode(idx)
			}
			off := bitIdx * objSize
			return frame[off : off+objSize]
		}
	}
	return nil
}

func (p *Pool) smallPageFull(bitmap []uint64, words, objsPerPage uint64) bool {
	for _, w := range bitmap {
		if w != ^uint64(0) {
			return false
		}
	}
	return true
}

// freeSmall releases the object at objOff within a SMALL page, relinking the
// page into its class's partial list if it had been full, and returning the
// whole frame to the free-page manager if it is now empty of user objects.
func (p *Pool) freeSmall(idx uint64, page *pageDesc, shift uint, objOff uint64, s *statEntry) {
	objSize, objsPerPage, words, reserved := p.smallLayout(shift)
	if objOff%objSize != 0 {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.WrongChunk, Message: "free(): pointer to wrong chunk", PageIndex: idx, SizeClass: int(shift), ObjectSize: objSize})
		return
	}
	bitIdx := objOff / objSize
	if bitIdx >= objsPerPage {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.WrongChunk, Message: "free(): pointer to wrong chunk", PageIndex: idx, SizeClass: int(shift), ObjectSize: objSize})
		return
	}

	frame := p.frame(idx)
	bitmap := smallBitmap(frame, words)
	w, b := bitIdx/WordBits, uint(bitIdx%WordBits)

	wasFull := p.smallPageFull(bitmap, words, objsPerPage)

	if bitmap[w]&(uint64(1)<<b) == 0 {
		p.diag.Emit(diag.Event{Severity: diag.Warning, Reason: diag.ChunkAlreadyFree, Message: "free(): chunk is already free", PageIndex: idx, SizeClass: int(shift), ObjectSize: objSize})
		return
	}
	bitmap[w] &^= uint64(1) << b
	p.junk(frame[objOff : objOff+objSize])
	s.used--

	sentinelID := p.slotNode(shift - p.minShift)
	if wasFull {
		p.insertNodeAfter(sentinelID, idx, PageSmall)
	}

	if bitmap[0] == reservedMask(reserved) {
		allZero := true
		for i := uint64(1); i < words; i++ {
			if bitmap[i] != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			p.unlinkNode(idx)
			page.slab = 0
			page.setNext(nilNode)
			page.setPrev(nilNode, PageFree)
			s.total -= objsPerPage - reserved
			p.freePages(idx, 1)
		}
	}
}
