package slab

// sentinelError is a comparable, allocation-free error type, mirroring the
// teacher's KernelError pattern: callers can compare the returned error
// against one of the Err* values below with errors.Is/==.
type sentinelError string

func (e sentinelError) Error() string { return string(e) }

// Sentinel errors returned by Alloc/Calloc when a request cannot be served
// at all. Free never returns them: its failures are silent no-ops per
// spec.md §7 and only surface through the Diag sink.
const (
	// ErrOutOfMemory is returned by Alloc/Calloc when no page run or
	// partial page can satisfy the request.
	ErrOutOfMemory = sentinelError("slab: out of memory")
	// ErrInvalidSize is returned when size is larger than the region
	// could ever hold, regardless of current fragmentation.
	ErrInvalidSize = sentinelError("slab: requested size exceeds region capacity")
)
