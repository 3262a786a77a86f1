package slab

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"

	"github.com/achilleasa/slabpool/diag"
)

const (
	headerMagic   = uint32(0x536c6162) // "Slab"
	headerVersion = uint32(1)
)

// poolHeader is the allocator-global state placed at the very start of the
// region. Every other table in the region is located relative to it, so its
// layout must never change without bumping headerVersion.
type poolHeader struct {
	magic      uint32
	version    uint32
	pageShift  uint32
	minShift   uint32
	numClasses uint32
	numPages   uint32
	pagesCap   uint32
	flags      uint32
	startOff   uint64
	pfree      uint64
	poolIDHi   uint64
	poolIDLo   uint64
	free       pageDesc
}

const (
	flagSuppressOOM    = uint32(1) << 0
	flagDebugJunkFill  = uint32(1) << 1
)

// statEntry is the per-size-class counter block described in spec.md §4.6.
type statEntry struct {
	total uint64
	used  uint64
	reqs  uint64
	fails uint64
}

// Config configures a region for Init. PageSize and MinShift determine the
// region's layout; PoolID, SuppressOOMDiagnostic and DebugJunkFill are
// recorded in the pool header and so apply to every Pool attached to the
// region. Only Diag is process-local.
type Config struct {
	// PageSize is the system page size in bytes. Must be a power of two
	// and at least 64 bytes (so a single bitmap word can address a
	// frame). Defaults to 4096.
	PageSize int
	// MinShift is the minimum object size shift: objects are never
	// smaller than 1<<MinShift bytes. Defaults to 3 (8-byte minimum).
	MinShift uint
	// PoolID stamps an identifier into the pool header so cooperating
	// processes can confirm they attached to the pool they expect. A
	// zero value causes Init to generate one; Attach ignores this field.
	PoolID uuid.UUID
	// SuppressOOMDiagnostic silences the critical diagnostic normally
	// emitted when alloc_pages exhausts the free list.
	SuppressOOMDiagnostic bool
	// DebugJunkFill overwrites freed object bytes with 0xA5, matching
	// the original allocator's NGX_DEBUG_MALLOC build option. Off by
	// default.
	DebugJunkFill bool
	// Diag receives corruption and out-of-memory diagnostics. Defaults
	// to diag.Discard.
	Diag diag.Sink
}

// Pool is a slab allocator bound to a caller-owned, pre-reserved byte
// region. A Pool value is only the process-local view of that region: the
// region itself, not the Pool struct, is what can be shared across
// processes (see Attach).
type Pool struct {
	region []byte
	hdr    *poolHeader
	slots  []pageDesc
	stats  []statEntry
	pages  []pageDesc

	pageSize  uint64
	pageShift uint
	minShift  uint
	numClass  uint

	exactShift uint
	exactSize  uint64
	maxSlab    uint64

	mu   Locker
	diag diag.Sink

	junkFill bool
}

// Error is returned by Init and Attach when the region or configuration is
// unusable. Unlike the sentinel Err* values, Error carries the operation
// that failed and enough context to explain why.
type Error struct {
	Op     string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("slab: %s: %s", e.Op, e.Reason)
}

func layoutSizes(pageSize uint64, minShift uint) (numClasses uint, headerSize, slotsSize, statsSize uintptr) {
	pageShift := log2Floor(pageSize)
	numClasses = pageShift - minShift
	headerSize = unsafe.Sizeof(poolHeader{})
	slotsSize = uintptr(numClasses) * unsafe.Sizeof(pageDesc{})
	statsSize = uintptr(numClasses) * unsafe.Sizeof(statEntry{})
	return
}

// Init lays out a fresh pool inside region and returns a Pool bound to it.
// region must not be touched by any other code once Init succeeds; the
// allocator owns every byte of it. See spec.md §4.1 for the layout this
// function implements.
func Init(region []byte, cfg Config) (*Pool, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = 4096
	}
	if cfg.MinShift == 0 {
		cfg.MinShift = 3
	}
	if cfg.Diag == nil {
		cfg.Diag = diag.Discard
	}

	pageSize := uint64(cfg.PageSize)
	if !isPowerOfTwo(pageSize) || pageSize < 64 {
		return nil, &Error{Op: "init", Reason: "page size must be a power of two, at least 64 bytes"}
	}
	pageShift := log2Floor(pageSize)
	if cfg.MinShift == 0 || cfg.MinShift >= pageShift {
		return nil, &Error{Op: "init", Reason: "min_shift must be in [1, page_shift)"}
	}

	numClasses, headerSize, slotsSize, statsSize := layoutSizes(pageSize, cfg.MinShift)

	pagesOff := headerSize + slotsSize + statsSize
	if uintptr(len(region)) <= pagesOff {
		return nil, &Error{Op: "init", Reason: "region too small to hold pool metadata"}
	}

	remaining := uint64(uintptr(len(region)) - pagesOff)
	descSize := uint64(unsafe.Sizeof(pageDesc{}))
	pagesCap := remaining / (pageSize + descSize)
	if pagesCap == 0 {
		return nil, &Error{Op: "init", Reason: "region too small to hold even a single page"}
	}

	pagesSize := pagesCap * descSize
	dataStart := alignUp(uint64(pagesOff)+pagesSize, pageSize)

	spaceForData := uint64(0)
	if uint64(len(region)) > dataStart {
		spaceForData = uint64(len(region)) - dataStart
	}
	numPages := spaceForData / pageSize
	if numPages == 0 {
		return nil, &Error{Op: "init", Reason: "region too small to hold a single data page after alignment"}
	}
	if numPages > pagesCap {
		numPages = pagesCap
	}

	// Zero every metadata table; the data area is left untouched (it
	// will be carved up lazily and is never read before being written).
	for i := range region[:pagesOff+uintptr(pagesSize)] {
		region[i] = 0
	}

	p := &Pool{
		region:    region,
		pageSize:  pageSize,
		pageShift: pageShift,
		minShift:  cfg.MinShift,
		numClass:  numClasses,
		mu:        &noopLocker{},
		diag:      cfg.Diag,
		junkFill:  cfg.DebugJunkFill,
	}
	p.exactSize = pageSize / WordBits
	p.exactShift = log2Floor(p.exactSize)
	p.maxSlab = pageSize / 2

	p.bindViews(headerSize, slotsSize, statsSize, pagesSize)

	for k := uint(0); k < numClasses; k++ {
		s := &p.slots[k]
		s.slab = 0
		s.setNext(p.slotNode(k))
		s.setPrev(nilNode, PageFree)
	}

	p.hdr.magic = headerMagic
	p.hdr.version = headerVersion
	p.hdr.pageShift = uint32(pageShift)
	p.hdr.minShift = uint32(cfg.MinShift)
	p.hdr.numClasses = uint32(numClasses)
	p.hdr.numPages = uint32(numPages)
	p.hdr.pagesCap = uint32(pagesCap)
	p.hdr.startOff = dataStart
	p.hdr.pfree = numPages

	poolID := cfg.PoolID
	if poolID == uuid.Nil {
		poolID = uuid.New()
	}
	idBytes := poolID[:]
	p.hdr.poolIDHi = beUint64(idBytes[0:8])
	p.hdr.poolIDLo = beUint64(idBytes[8:16])

	if cfg.SuppressOOMDiagnostic {
		p.hdr.flags |= flagSuppressOOM
	}
	if cfg.DebugJunkFill {
		p.hdr.flags |= flagDebugJunkFill
	}

	head := &p.pages[0]
	head.slab = numPages
	head.setNext(p.freeNode())
	head.setPrev(p.freeNode(), PageFree)

	p.hdr.free.slab = 0
	p.hdr.free.setNext(p.pageNode(0))
	p.hdr.free.setPrev(nilNode, PageFree)

	return p, nil
}

// Attach binds a Pool to a region that was previously laid out by Init,
// possibly by a different process. The region's layout-affecting fields
// (page size, min shift) are read back from the header, so the caller does
// not need to know them in advance; mu and diag must still be supplied
// because neither the mutex nor the diagnostic sink is itself in-region.
func Attach(region []byte, mu Locker, d diag.Sink) (*Pool, error) {
	if uintptr(len(region)) < unsafe.Sizeof(poolHeader{}) {
		return nil, &Error{Op: "attach", Reason: "region too small to contain a pool header"}
	}
	hdr := (*poolHeader)(unsafe.Pointer(&region[0]))
	if hdr.magic != headerMagic {
		return nil, &Error{Op: "attach", Reason: "bad magic: region was not initialized by this allocator"}
	}
	if hdr.version != headerVersion {
		return nil, &Error{Op: "attach", Reason: fmt.Sprintf("unsupported layout version %d", hdr.version)}
	}
	if d == nil {
		d = diag.Discard
	}
	if mu == nil {
		mu = &noopLocker{}
	}

	pageShift := uint(hdr.pageShift)
	pageSize := uint64(1) << pageShift
	numClasses := uint(hdr.numClasses)

	_, headerSize, slotsSize, statsSize := layoutSizes(pageSize, uint(hdr.minShift))
	pagesSize := uintptr(hdr.pagesCap) * unsafe.Sizeof(pageDesc{})

	p := &Pool{
		region:    region,
		pageSize:  pageSize,
		pageShift: pageShift,
		minShift:  uint(hdr.minShift),
		numClass:  numClasses,
		mu:        mu,
		diag:      d,
		junkFill:  hdr.flags&flagDebugJunkFill != 0,
	}
	p.exactSize = pageSize / WordBits
	p.exactShift = log2Floor(p.exactSize)
	p.maxSlab = pageSize / 2

	p.bindViews(headerSize, slotsSize, statsSize, pagesSize)
	return p, nil
}

func (p *Pool) bindViews(headerSize, slotsSize, statsSize uintptr, pagesSize uint64) {
	base := unsafe.Pointer(&p.region[0])
	p.hdr = (*poolHeader)(base)

	slotsOff := headerSize
	statsOff := slotsOff + slotsSize
	pagesOff := statsOff + statsSize

	p.slots = unsafe.Slice((*pageDesc)(unsafe.Pointer(&p.region[slotsOff])), int(slotsSize/unsafe.Sizeof(pageDesc{})))
	p.stats = unsafe.Slice((*statEntry)(unsafe.Pointer(&p.region[statsOff])), int(statsSize/unsafe.Sizeof(statEntry{})))
	p.pages = unsafe.Slice((*pageDesc)(unsafe.Pointer(&p.region[pagesOff])), int(pagesSize/unsafe.Sizeof(pageDesc{})))
}

// PoolID returns the identifier stamped into the region by Init.
func (p *Pool) PoolID() uuid.UUID {
	var id uuid.UUID
	putBeUint64(id[0:8], p.hdr.poolIDHi)
	putBeUint64(id[8:16], p.hdr.poolIDLo)
	return id
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// --- node id resolution -----------------------------------------------

// slotNode returns the node id for slot k's sentinel.
func (p *Pool) slotNode(k uint) nodeID { return nodeID(k + 1) }

// pageNode returns the node id for pages[i].
func (p *Pool) pageNode(i uint64) nodeID { return nodeID(uint64(p.numClass) + i + 1) }

// freeNode returns the node id for the free-run list sentinel.
func (p *Pool) freeNode() nodeID { return nodeID(uint64(p.numClass) + uint64(p.hdr.pagesCap) + 1) }

// resolve turns a node id into the descriptor it addresses.
func (p *Pool) resolve(id nodeID) *pageDesc {
	if id == nilNode {
		return nil
	}
	idx := uint64(id) - 1
	if idx < uint64(p.numClass) {
		return &p.slots[idx]
	}
	idx -= uint64(p.numClass)
	if idx < uint64(p.hdr.pagesCap) {
		return &p.pages[idx]
	}
	return &p.hdr.free
}

// --- address arithmetic --------------------------------------------------

// pageAddr returns the byte offset, within the region, of the data frame
// backing pages[i].
func (p *Pool) pageAddr(i uint64) uint64 {
	return p.hdr.startOff + i*p.pageSize
}

// pageIndexForOffset returns the page index for a byte offset within the
// region's data area, and whether the offset actually lies in [start, end).
func (p *Pool) pageIndexForOffset(off uint64) (uint64, bool) {
	if off < p.hdr.startOff {
		return 0, false
	}
	rel := off - p.hdr.startOff
	idx := rel >> p.pageShift
	if idx >= uint64(p.hdr.numPages) {
		return 0, false
	}
	return idx, true
}

// offsetOf returns the region offset of a slice that must be backed by
// p.region (panics otherwise — this is only ever called with slices this
// package itself handed out).
func (p *Pool) offsetOf(b []byte) uint64 {
	base := uintptr(unsafe.Pointer(&p.region[0]))
	ptr := uintptr(unsafe.Pointer(&b[0]))
	return uint64(ptr - base)
}

func (p *Pool) frame(i uint64) []byte {
	off := p.pageAddr(i)
	return p.region[off : off+p.pageSize]
}
