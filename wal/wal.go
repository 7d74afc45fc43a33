// Package wal implements Rdms's sharded, batch-framed write-ahead log:
// N independent journals each driven by their own writer goroutine, so
// that concurrent writers hashing to different shards never block on
// the same fsync.
package wal

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bnclabs/rdms/errs"
)

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, "wal: read journal")
	}
	return data, nil
}

// peekLength reads a batch's leading length prefix without otherwise
// parsing it, returning 0 if fewer than 8 bytes remain.
func peekLength(buf []byte) uint64 {
	if len(buf) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf[0:8])
}

// Codec converts between a caller's (key, value) pair and the raw
// bytes a WAL record stores. Rdms never interprets these bytes itself;
// they are opaque payload between Append-time encoding and Replay-time
// decoding.
type Codec[K any, V any] struct {
	EncodeKey   func(K) []byte
	DecodeKey   func([]byte) K
	EncodeValue func(V) []byte
	DecodeValue func([]byte) V
}

type shardWriter struct {
	journal *journal
	ch      chan Batch
}

// WAL manages cfg.NumShards independent journals. Set/SetCAS/Delete
// hash the key to a shard and append a single-entry Client batch to
// that shard's writer goroutine; Close waits for every shard's
// goroutine to drain before returning.
type WAL[K any, V any] struct {
	cfg    Config
	codec  Codec[K, V]
	shards []*shardWriter
	index  atomic.Uint64

	group    *errgroup.Group
	groupCtx context.Context
	running  atomic.Bool
}

// Create opens cfg.NumShards journals (creating the first file of each
// if none exists) and starts one writer goroutine per shard.
func Create[K any, V any](cfg Config, codec Codec[K, V]) (*WAL[K, V], error) {
	if cfg.NumShards <= 0 {
		cfg.NumShards = DefaultConfig().NumShards
	}
	if cfg.RotateSize <= 0 {
		cfg.RotateSize = DefaultConfig().RotateSize
	}
	if cfg.ChanSize <= 0 {
		cfg.ChanSize = DefaultConfig().ChanSize
	}

	w := &WAL[K, V]{cfg: cfg, codec: codec}
	group, ctx := errgroup.WithContext(context.Background())
	w.group, w.groupCtx = group, ctx

	for i := 0; i < cfg.NumShards; i++ {
		j, err := openJournal(cfg, i)
		if err != nil {
			return nil, err
		}
		sw := &shardWriter{journal: j, ch: make(chan Batch, cfg.ChanSize)}
		w.shards = append(w.shards, sw)
		group.Go(func() error { return w.runShard(sw) })
	}
	w.running.Store(true)
	return w, nil
}

func (w *WAL[K, V]) runShard(sw *shardWriter) error {
	for batch := range sw.ch {
		last := batch.StartIndex
		for _, r := range batch.Entries {
			if r.index > last {
				last = r.index
			}
		}
		if err := sw.journal.append(encodeBatch(batch), last); err != nil {
			return err
		}
	}
	return nil
}

func (w *WAL[K, V]) shardFor(key []byte) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(len(w.shards)))
}

func (w *WAL[K, V]) append(r record) (uint64, error) {
	index := w.index.Add(1)
	r.index = index
	keyBytes := r.op.key
	shard := w.shardFor(keyBytes)
	batch := Batch{StartIndex: index, Entries: []record{r}}
	select {
	case w.shards[shard].ch <- batch:
	case <-w.groupCtx.Done():
		return 0, errs.Wrap(errs.ErrThreadFail, "wal: shard writer exited")
	}
	return index, nil
}

// Set appends a Set record for key=value and returns the seqno (WAL
// index) it was assigned, for the caller to use as the target index's
// mutation seqno.
func (w *WAL[K, V]) Set(key K, value V) (uint64, error) {
	return w.append(record{typ: recClient, op: opRecord{
		op: OpSet, key: w.codec.EncodeKey(key), value: w.codec.EncodeValue(value),
	}})
}

// SetCAS appends a SetCAS record.
func (w *WAL[K, V]) SetCAS(key K, value V, cas uint64) (uint64, error) {
	return w.append(record{typ: recClient, op: opRecord{
		op: OpCAS, key: w.codec.EncodeKey(key), value: w.codec.EncodeValue(value), cas: cas,
	}})
}

// Delete appends a Delete record.
func (w *WAL[K, V]) Delete(key K) (uint64, error) {
	return w.append(record{typ: recClient, op: opRecord{
		op: OpDelete, key: w.codec.EncodeKey(key),
	}})
}

// PurgeBefore drops every journal file, across every shard, whose
// highest recorded index is below cutoff, unlinking them from disk. The
// currently open file of each shard is never purged, even if its own
// indexes fall below cutoff, since it is still being appended to.
func (w *WAL[K, V]) PurgeBefore(cutoff uint64) error {
	for _, sw := range w.shards {
		if err := sw.journal.purgeBefore(cutoff); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting new appends and waits for every shard's writer
// goroutine to drain and close its journal file.
func (w *WAL[K, V]) Close() error {
	w.running.Store(false)
	for _, sw := range w.shards {
		close(sw.ch)
	}
	err := w.group.Wait()
	for _, sw := range w.shards {
		if cerr := sw.journal.close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Sink receives replayed mutations in shard-then-journal-number order,
// so indexes ascend within a shard but interleave across shards. Replay
// calls exactly one of OnSet/OnCAS/OnDelete per Client record.
type Sink[K any, V any] interface {
	OnSet(index uint64, key K, value V)
	OnCAS(index uint64, key K, value V, cas uint64) error
	OnDelete(index uint64, key K)
}

// Replay reads back everything appended through w and drives sink with
// it, in shard-then-journal-number order. It returns errs.ErrInvalidWAL
// if w's writer goroutines are still running (Close first).
func (w *WAL[K, V]) Replay(sink Sink[K, V]) (int, error) {
	if w.running.Load() {
		return 0, errs.ErrInvalidWAL
	}
	return ReplayDir(w.cfg, w.codec, sink)
}

// ReplayDir reads every journal file of every shard under cfg.Dir, in
// shard-then-journal-number order, and drives sink with each Client
// record it finds. Unlike (*WAL).Replay it does not require an open
// WAL handle, so a fresh process can recover a journal written by a
// prior run before constructing its WAL.
func ReplayDir[K any, V any](cfg Config, codec Codec[K, V], sink Sink[K, V]) (int, error) {
	total := 0
	for shard := 0; shard < cfg.NumShards; shard++ {
		files, err := journalFiles(cfg.Dir, cfg.Name, shard)
		if err != nil {
			return total, err
		}
		for _, path := range files {
			n, err := replayFile[K, V](path, codec, sink)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

func replayFile[K any, V any](path string, codec Codec[K, V], sink Sink[K, V]) (int, error) {
	data, err := readFile(path)
	if err != nil {
		return 0, err
	}
	n := 0
	pos := 0
	for pos < len(data) {
		length := peekLength(data[pos:])
		if length == 0 || pos+int(length) > len(data) {
			break
		}
		b, err := decodeBatch(data[pos : pos+int(length)])
		if err != nil {
			return n, err
		}
		for _, r := range b.Entries {
			if r.typ != recClient {
				continue
			}
			key := codec.DecodeKey(r.op.key)
			switch r.op.op {
			case OpSet:
				sink.OnSet(r.index, key, codec.DecodeValue(r.op.value))
			case OpCAS:
				if err := sink.OnCAS(r.index, key, codec.DecodeValue(r.op.value), r.op.cas); err != nil {
					return n, errs.Wrap(err, "wal: replay setcas")
				}
			case OpDelete:
				sink.OnDelete(r.index, key)
			}
			n++
		}
		pos += int(length)
	}
	return n, nil
}
