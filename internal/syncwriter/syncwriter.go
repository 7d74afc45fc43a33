// Package syncwriter provides the single-writer fence that mvcc.Index
// serializes its mutating operations behind.
// Readers never take this lock; they only ever see head pointers
// published after a writer releases it.
package syncwriter

import "sync"

// SyncWriter is a plain mutual-exclusion fence. It carries no extra
// state over sync.Mutex; the name documents its role at call sites
// (guarding the single logical writer of an Index) rather than
// protecting arbitrary shared data.
type SyncWriter struct {
	mu sync.Mutex
}

// Lock blocks until the fence is acquired.
func (w *SyncWriter) Lock() { w.mu.Lock() }

// TryLock acquires the fence without blocking, reporting whether it
// succeeded. Lets a caller that can defer or reschedule its write (a
// background compactor, an opportunistic batch flush) back off instead
// of queuing behind the single writer.
func (w *SyncWriter) TryLock() bool { return w.mu.TryLock() }

// Unlock releases the fence.
func (w *SyncWriter) Unlock() { w.mu.Unlock() }
