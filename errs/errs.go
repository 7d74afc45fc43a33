// Package errs collects the boundary error taxonomy shared by every Rdms
// component: llrb, mvcc, robt and wal all return (or wrap) these sentinels
// instead of inventing their own per-package not-found/corruption errors.
package errs

import "github.com/pkg/errors"

var (
	// ErrKeyNotFound names the not-found condition of the taxonomy. The
	// point lookups in this module (llrb, mvcc and robt Get) report a
	// miss through their boolean result and do not return it.
	ErrKeyNotFound = errors.New("rdms: key not found")

	// ErrInvalidCAS is returned when a SetCAS seqno does not match the
	// entry currently stored under the key.
	ErrInvalidCAS = errors.New("rdms: invalid cas")

	// ErrPartialWrite is returned when a background flusher observes a
	// short write while persisting a block, batch or journal.
	ErrPartialWrite = errors.New("rdms: partial write")

	// ErrPartialRead is returned when a reader observes a short or
	// truncated read while parsing a block, batch or journal.
	ErrPartialRead = errors.New("rdms: partial read")

	// ErrInvalidSnapshot is returned when a ROBT trailer, marker or
	// block checksum fails validation. The snapshot must be discarded
	// and rebuilt.
	ErrInvalidSnapshot = errors.New("rdms: invalid snapshot")

	// ErrInvalidWAL is returned when a WAL batch fails framing
	// validation, or when replay is attempted while shard workers are
	// still running.
	ErrInvalidWAL = errors.New("rdms: invalid wal")

	// ErrThreadFail is returned by a WAL append once a shard writer
	// goroutine has exited with an error. A robt flusher failure is
	// surfaced by Writer.Close as the flusher's own write error instead.
	ErrThreadFail = errors.New("rdms: background worker failed")
)

// Wrap attaches msg as context to err using the pack's error-wrapping
// convention (github.com/pkg/errors), preserving err as the Cause so
// callers can still match against a sentinel with errors.Cause/Is.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
