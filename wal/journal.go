package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bnclabs/rdms/errs"
)

// segment records a rotated-out journal file's number and the highest
// WAL index it holds, so PurgeBefore can decide which files are wholly
// older than a cutoff without re-reading them.
type segment struct {
	num       int
	lastIndex uint64
}

// journal owns one shard's sequence of on-disk files, rotating to a new
// numbered file once the current one crosses cfg.RotateSize. mu guards
// the closed-segment bookkeeping, which append/rotateFile mutate from
// the shard's writer goroutine while PurgeBefore reads and trims it
// from a caller goroutine.
type journal struct {
	dir    string
	name   string
	shard  int
	rotate int64

	mu        sync.Mutex
	num       int
	f         *os.File
	offset    int64
	lastIndex uint64
	closed    []segment
}

func journalPath(dir, name string, shard, num int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-shard-%d-journal-%d", name, shard, num))
}

func openJournal(cfg Config, shard int) (*journal, error) {
	j := &journal{dir: cfg.Dir, name: cfg.Name, shard: shard, rotate: cfg.RotateSize, num: 1}
	f, err := os.OpenFile(journalPath(j.dir, j.name, j.shard, j.num), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errs.Wrap(err, "wal: open journal")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(err, "wal: stat journal")
	}
	j.f = f
	j.offset = fi.Size()
	return j, nil
}

// append writes batch to the current file, rotating to a new numbered
// file first if it would cross the configured size. lastIndex is the
// highest WAL index carried in batch, recorded so a later PurgeBefore
// can tell whether this file (once rotated out) is wholly before a
// cutoff.
func (j *journal) append(batch []byte, lastIndex uint64) error {
	if j.offset > 0 && j.offset+int64(len(batch)) > j.rotate {
		if err := j.rotateFile(); err != nil {
			return err
		}
	}
	n, err := j.f.Write(batch)
	if err != nil {
		return errs.Wrap(err, "wal: write batch")
	}
	if n != len(batch) {
		return errs.ErrPartialWrite
	}
	j.offset += int64(n)
	if lastIndex > j.lastIndex {
		j.lastIndex = lastIndex
	}
	return j.f.Sync()
}

func (j *journal) rotateFile() error {
	if err := j.f.Close(); err != nil {
		return errs.Wrap(err, "wal: close journal before rotate")
	}
	j.mu.Lock()
	j.closed = append(j.closed, segment{num: j.num, lastIndex: j.lastIndex})
	j.mu.Unlock()
	j.num++
	f, err := os.OpenFile(journalPath(j.dir, j.name, j.shard, j.num), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errs.Wrap(err, "wal: rotate journal")
	}
	j.f = f
	j.offset = 0
	j.lastIndex = 0
	return nil
}

// purgeBefore unlinks every rotated-out file of this shard whose
// highest index falls below cutoff, leaving the currently open file
// untouched.
func (j *journal) purgeBefore(cutoff uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.closed[:0]
	for _, seg := range j.closed {
		if seg.lastIndex < cutoff {
			path := journalPath(j.dir, j.name, j.shard, seg.num)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errs.Wrap(err, "wal: purge journal")
			}
			continue
		}
		kept = append(kept, seg)
	}
	j.closed = kept
	return nil
}

func (j *journal) close() error {
	return j.f.Close()
}

// journalFiles lists, in ascending journal-number order, every file
// already written for shard under dir/name, for replay. It globs the
// directory rather than stopping at the first missing number, since
// PurgeBefore can unlink low-numbered files and leave gaps.
func journalFiles(dir, name string, shard int) ([]string, error) {
	prefix := fmt.Sprintf("%s-shard-%d-journal-", name, shard)
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"))
	if err != nil {
		return nil, errs.Wrap(err, "wal: glob journals")
	}
	byNum := make(map[int]string, len(matches))
	nums := make([]int, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		var n int
		if _, err := fmt.Sscanf(base, prefix+"%d", &n); err != nil {
			continue
		}
		byNum[n] = m
		nums = append(nums, n)
	}
	sort.Ints(nums)
	files := make([]string, 0, len(nums))
	for _, n := range nums {
		files = append(files, byNum[n])
	}
	return files, nil
}
