package slab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/achilleasa/slabpool/diag"
)

func newTestPool(t *testing.T, regionSize int) (*Pool, *diag.Recording) {
	t.Helper()
	region := make([]byte, regionSize)
	rec := &diag.Recording{}
	p, err := Init(region, Config{PageSize: 4096, MinShift: 3, Diag: rec})
	require.NoError(t, err)
	return p, rec
}

func TestSmallRoundTrip(t *testing.T) {
	p, rec := newTestPool(t, 1<<20)

	a, err := p.Alloc(16)
	require.NoError(t, err)
	require.Len(t, a, 16)

	b, err := p.Alloc(16)
	require.NoError(t, err)
	require.Len(t, b, 16)

	stats := p.Stats()
	var found bool
	for _, s := range stats {
		if s.Shift == 4 {
			found = true
			require.Equal(t, uint64(2), s.Used)
			require.Equal(t, uint64(2), s.Reqs)
		}
	}
	require.True(t, found)

	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(b))
	require.Empty(t, rec.Events)

	for _, s := range p.Stats() {
		require.Zero(t, s.Used)
	}
}

func TestExactFillAndDrain(t *testing.T) {
	p, rec := newTestPool(t, 1<<20)

	objSize := p.exactSize
	var bufs [][]byte
	for i := 0; i < WordBits; i++ {
		buf, err := p.Alloc(objSize)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}

	stats := p.Stats()
	for _, s := range stats {
		if s.Shift == p.exactShift {
			require.Equal(t, uint64(WordBits), s.Total)
			require.Equal(t, uint64(WordBits), s.Used)
		}
	}

	freeBefore := p.FreeFrames()
	for _, buf := range bufs {
		require.NoError(t, p.Free(buf))
	}
	require.Equal(t, freeBefore+1, p.FreeFrames())
	require.Empty(t, rec.Events)
}

func TestBigAllocation(t *testing.T) {
	p, _ := newTestPool(t, 1<<20)

	buf, err := p.Alloc(1024)
	require.NoError(t, err)
	require.Len(t, buf, 1024)

	shift := log2Ceil(1024)
	require.Greater(t, shift, p.exactShift)

	require.NoError(t, p.Free(buf))
}

func TestWholePageAllocation(t *testing.T) {
	p, _ := newTestPool(t, 4<<20)

	before := p.FreeFrames()
	buf, err := p.Alloc(9000)
	require.NoError(t, err)
	require.Len(t, buf, 9000)
	require.Equal(t, before-3, p.FreeFrames())

	require.NoError(t, p.Free(buf))
	require.Equal(t, before, p.FreeFrames())
}

func TestFreePageCoalescing(t *testing.T) {
	p, _ := newTestPool(t, 4<<20)

	a, err := p.Alloc(4096 * 2)
	require.NoError(t, err)
	b, err := p.Alloc(4096 * 2)
	require.NoError(t, err)

	total := p.NumPages()
	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(b))

	require.Equal(t, total, p.FreeFrames())

	c, err := p.Alloc(4096 * 4)
	require.NoError(t, err)
	require.Len(t, c, 4096*4)
	require.NoError(t, p.Free(c))
}

func TestDoubleFreeIsDiagnosedNotFatal(t *testing.T) {
	p, rec := newTestPool(t, 1<<20)

	buf, err := p.Alloc(16)
	require.NoError(t, err)

	require.NoError(t, p.Free(buf))
	require.Empty(t, rec.Events)

	require.NoError(t, p.Free(buf))
	require.Len(t, rec.Events, 1)
	require.Equal(t, diag.ChunkAlreadyFree, rec.Events[0].Reason)
}

func TestFreePointerOutsideRegion(t *testing.T) {
	p, rec := newTestPool(t, 1<<20)

	stray := make([]byte, 16)
	require.NoError(t, p.Free(stray))
	require.Len(t, rec.Events, 1)
	require.Equal(t, diag.OutsideOfPool, rec.Events[0].Reason)
}

func TestFreeInteriorOfMultiPageAllocationIsDiagnosed(t *testing.T) {
	p, rec := newTestPool(t, 4<<20)

	buf, err := p.Alloc(9000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cap(buf), 3*4096)

	interior := buf[:cap(buf)][4096:8192]
	require.NoError(t, p.Free(interior))
	require.Len(t, rec.Events, 1)
	require.Equal(t, diag.WrongPage, rec.Events[0].Reason)

	require.NoError(t, p.Free(buf))
}

func TestClassAllocRecoversFromBusyPage(t *testing.T) {
	p, rec := newTestPool(t, 1<<20)

	// shift 4 (16-byte objects) is size class k=1 for the default min
	// shift of 3.
	const shift = 4
	idx, ok := p.allocPages(1)
	require.True(t, ok)
	page := &p.pages[idx]
	page.slab = uint64(shift)
	p.insertNodeAfter(p.slotNode(1), idx, PageSmall)

	objsPerPage := p.pageSize >> shift
	bitmap := smallBitmap(p.frame(idx), (objsPerPage+63)/64)
	for i := range bitmap {
		bitmap[i] = ^uint64(0)
	}

	buf, err := p.Alloc(16)
	require.NoError(t, err)
	require.Len(t, buf, 16)
	require.NotEmpty(t, rec.Events)
	require.Equal(t, diag.PageIsBusy, rec.Events[len(rec.Events)-1].Reason)
}

func TestOutOfMemory(t *testing.T) {
	p, rec := newTestPool(t, 64*1024)

	var lastErr error
	for i := 0; i < 10000; i++ {
		if _, err := p.Alloc(4096 * 3); err != nil {
			lastErr = err
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrOutOfMemory)
	require.NotEmpty(t, rec.Events)
	require.Equal(t, diag.OutOfMemory, rec.Events[len(rec.Events)-1].Reason)
}

func TestAttachSeesSameLayout(t *testing.T) {
	region := make([]byte, 1<<20)
	owner, err := Init(region, Config{PageSize: 4096})
	require.NoError(t, err)

	buf, err := owner.Alloc(32)
	require.NoError(t, err)

	peer, err := Attach(region, nil, nil)
	require.NoError(t, err)
	require.Equal(t, owner.PoolID(), peer.PoolID())
	require.Equal(t, owner.NumPages(), peer.NumPages())
	require.Equal(t, owner.FreeFrames(), peer.FreeFrames())

	require.NoError(t, peer.Free(buf))
	require.Equal(t, owner.FreeFrames(), peer.FreeFrames())
}
