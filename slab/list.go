package slab

// unlinkNode removes pages[idx] from whatever intrusive list it currently
// sits on (a free-run list or a size class's partial-page list). Both kinds
// of list share the same linkage convention, so one routine serves both.
// Copying prev wholesale to the right neighbor is correct because every
// member of a list carries the same type tag.
func (p *Pool) unlinkNode(idx uint64) {
	node := &p.pages[idx]
	prevN := p.resolve(node.prevNode())
	nextN := p.resolve(node.nextNode())
	prevN.setNext(node.nextNode())
	nextN.prev = node.prev
}

// insertNodeAfter splices pages[idx] into the list headed by sentinelID,
// immediately after the sentinel. t is the page type shared by every member
// of that list.
func (p *Pool) insertNodeAfter(sentinelID nodeID, idx uint64, t PageType) {
	sentinel := p.resolve(sentinelID)
	node := &p.pages[idx]
	node.setPrev(sentinelID, t)
	node.next = sentinel.next
	p.resolve(node.nextNode()).setPrev(p.pageNode(idx), t)
	sentinel.setNext(p.pageNode(idx))
}
