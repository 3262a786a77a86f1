package lock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FileLock is an interprocess Locker backed by an advisory BSD flock on a
// file descriptor, for pools whose region is a shared-memory segment
// mapped by multiple processes. The mutex primitive itself is out of scope
// for spec.md (§1); FileLock is the minimal concrete stand-in used by
// cmd/slabdemo.
type FileLock struct {
	fd int
}

// NewFileLock wraps an already-open file descriptor (typically the same
// descriptor the caller mmap'd the pool's region from).
func NewFileLock(fd int) *FileLock {
	return &FileLock{fd: fd}
}

// Acquire blocks until the exclusive lock is held.
func (l *FileLock) Acquire() {
	if err := unix.Flock(l.fd, unix.LOCK_EX); err != nil {
		panic(fmt.Sprintf("lock: flock LOCK_EX: %v", err))
	}
}

// TryToAcquire attempts to acquire the lock without blocking.
func (l *FileLock) TryToAcquire() bool {
	err := unix.Flock(l.fd, unix.LOCK_EX|unix.LOCK_NB)
	return err == nil
}

// Release relinquishes the lock.
func (l *FileLock) Release() {
	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		panic(fmt.Sprintf("lock: flock LOCK_UN: %v", err))
	}
}
