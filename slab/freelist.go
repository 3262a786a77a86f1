package slab

import "github.com/achilleasa/slabpool/diag"

// pageIndexFromNode reports the pages[] index a node id refers to, and
// whether it refers to a page descriptor at all (as opposed to a slot
// sentinel or the free-list sentinel).
func (p *Pool) pageIndexFromNode(id nodeID) (uint64, bool) {
	idx := uint64(id) - 1
	if idx < uint64(p.numClass) {
		return 0, false
	}
	idx -= uint64(p.numClass)
	if idx < uint64(p.hdr.pagesCap) {
		return idx, true
	}
	return 0, false
}

// allocPages implements the free-page manager's allocation side
// (spec.md §4.3): a first-fit scan of the free-run list, splitting the run
// found if it is longer than needed.
func (p *Pool) allocPages(n uint64) (uint64, bool) {
	freeSentinel := p.freeNode()
	cur := p.hdr.free.nextNode()

	for cur != freeSentinel {
		idx, isPage := p.pageIndexFromNode(cur)
		if !isPage {
			break
		}
		page := &p.pages[idx]
		runLen := page.slab

		if runLen >= n {
			if runLen > n {
				p.splitRun(idx, n, runLen)
			} else {
				prevN := p.resolve(page.prevNode())
				nextN := p.resolve(page.nextNode())
				prevN.setNext(page.nextNode())
				nextN.prev = page.prev
			}

			page.slab = n | pageStartBit
			page.setNext(nilNode)
			page.setPrev(nilNode, PageFree)

			p.hdr.pfree -= n

			for i := uint64(1); i < n; i++ {
				busy := &p.pages[idx+i]
				busy.slab = pageBusy
				busy.setNext(nilNode)
				busy.setPrev(nilNode, PageFree)
			}

			return idx, true
		}

		cur = page.nextNode()
	}

	if p.hdr.flags&flagSuppressOOM == 0 {
		p.diag.Emit(diag.Event{
			Severity: diag.Critical,
			Reason:   diag.OutOfMemory,
			Message:  "alloc_pages(): no memory",
			Pages:    n,
		})
	}
	return 0, false
}

// splitRun carves the first n frames off the run headed at idx (whose
// length is runLen > n), leaving a shorter run headed at idx+n in the free
// list in its place.
func (p *Pool) splitRun(idx, n, runLen uint64) {
	page := &p.pages[idx]
	tailIdx := idx + n
	tail := &p.pages[tailIdx]
	last := &p.pages[idx+runLen-1]

	last.setPrev(p.pageNode(tailIdx), PageFree)

	tail.slab = runLen - n
	tail.next = page.next
	tail.prev = page.prev

	prevN := p.resolve(page.prevNode())
	prevN.setNext(p.pageNode(tailIdx))
	nextN := p.resolve(page.nextNode())
	nextN.setPrev(p.pageNode(tailIdx), PageFree)
}

// freePages implements the free-page manager's release side (spec.md §4.3):
// it returns n frames starting at idx to the free-run list, unlinking idx
// from whatever list it currently sits on (a slot list, if it had just been
// re-linked there by a size-class free that emptied it), then coalescing
// with both neighbors before inserting the merged run at the list head.
func (p *Pool) freePages(idx, n uint64) {
	p.hdr.pfree += n

	head := &p.pages[idx]
	head.slab = n
	interior := n - 1

	for i := uint64(1); i <= interior; i++ {
		z := &p.pages[idx+i]
		z.slab = 0
		z.next = 0
		z.prev = 0
	}

	if head.nextNode() != nilNode {
		prevN := p.resolve(head.prevNode())
		prevN.setNext(head.nextNode())
		nextN := p.resolve(head.nextNode())
		nextN.prev = head.prev
	}

	headIdx := idx

	// Right merge.
	joinIdx := headIdx + head.slab
	if joinIdx < uint64(p.hdr.numPages) {
		join := &p.pages[joinIdx]
		if join.pageType() == PageFree && join.nextNode() != nilNode {
			interior += join.slab
			head.slab += join.slab

			prevN := p.resolve(join.prevNode())
			nextN := p.resolve(join.nextNode())
			prevN.setNext(join.nextNode())
			nextN.prev = join.prev

			join.slab = pageFreeMarker
			join.setNext(nilNode)
			join.setPrev(nilNode, PageFree)
		}
	}

	// Left merge.
	if headIdx > 0 {
		leftIdx := headIdx - 1
		left := &p.pages[leftIdx]
		if left.pageType() == PageFree {
			if left.slab == pageFreeMarker {
				hopIdx, isPage := p.pageIndexFromNode(left.prevNode())
				if isPage {
					leftIdx = hopIdx
					left = &p.pages[leftIdx]
				}
			}
			if left.nextNode() != nilNode {
				interior += left.slab
				left.slab += head.slab

				prevN := p.resolve(left.prevNode())
				nextN := p.resolve(left.nextNode())
				prevN.setNext(left.nextNode())
				nextN.prev = left.prev

				head.slab = pageFreeMarker
				head.setNext(nilNode)
				head.setPrev(nilNode, PageFree)

				headIdx = leftIdx
				head = left
			}
		}
	}

	if interior > 0 {
		p.pages[headIdx+interior].setPrev(p.pageNode(headIdx), PageFree)
	}

	head.setPrev(p.freeNode(), PageFree)
	head.next = p.hdr.free.next
	p.resolve(head.nextNode()).setPrev(p.pageNode(headIdx), PageFree)
	p.hdr.free.setNext(p.pageNode(headIdx))
}
