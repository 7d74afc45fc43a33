package robt

import (
	"context"
	"encoding/binary"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/klauspost/compress/zstd"

	"github.com/bnclabs/rdms/entry"
	"github.com/bnclabs/rdms/errs"
)

type flushJob struct {
	offset int64
	data   []byte
}

// levelBuilder accumulates (firstKey, childOffset) pairs for one
// interior level until they're big enough to flush as an M-block.
type levelBuilder struct {
	keys [][]byte
	offs []int64
	size int
}

// Writer builds one ROBT level from a single ascending pass over a
// sorted source: a sequence of leaf (Z) blocks holding entries, and a
// stack of interior (M) blocks bubbling up first-keys and child offsets
// (grounded on the bottom-up, single-pass build of the distilled
// design). Both index-file writes and, when configured, value-log
// writes are handed to a background goroutine reading off a bounded
// channel, mirroring pkg/lsm/lsm.go's flushChan/flushWorker pattern
// generalized from "flush one memtable" to "flush one finished block".
type Writer[K any, D any, V entry.Diff[V, D]] struct {
	cfg   Config
	codec Codec[K, D, V]

	flushCh chan flushJob
	group   *errgroup.Group
	offset  int64
	zstdEnc *zstd.Encoder

	vlog      *os.File
	vlogCh    chan flushJob
	vlogGroup *errgroup.Group
	vlogOff   int64

	count     int64
	zBuf      []byte
	zCount    int
	zFirstKey []byte

	levels []*levelBuilder
}

// NewWriter builds a Writer over f (the index file). If cfg.ValueInVlog
// is set, vlog must be non-nil: entry bytes are appended there instead
// of inline in Z-blocks, and the leaf only stores a (offset, length)
// reference. vlog's starting size is read back as the first write
// offset, so handing NewWriter an existing, non-empty vlog (an
// incremental build) appends after its prior contents instead of
// overwriting them.
func NewWriter[K any, D any, V entry.Diff[V, D]](f *os.File, vlog *os.File, cfg Config, codec Codec[K, D, V]) (*Writer[K, D, V], error) {
	w := &Writer[K, D, V]{cfg: cfg, codec: codec, flushCh: make(chan flushJob, cfg.FlushQueueSize), vlog: vlog}

	if cfg.Compress {
		enc, err := newBlockEncoder()
		if err != nil {
			return nil, errs.Wrap(err, "robt: zstd encoder")
		}
		w.zstdEnc = enc
	}

	g, _ := errgroup.WithContext(context.Background())
	w.group = g
	g.Go(func() error {
		for job := range w.flushCh {
			if _, err := f.WriteAt(job.data, job.offset); err != nil {
				return errs.Wrap(err, "robt: index flush")
			}
		}
		return nil
	})

	if cfg.ValueInVlog {
		fi, err := vlog.Stat()
		if err != nil {
			return nil, errs.Wrap(err, "robt: stat vlog")
		}
		w.vlogOff = fi.Size()

		w.vlogCh = make(chan flushJob, cfg.FlushQueueSize)
		vg, _ := errgroup.WithContext(context.Background())
		w.vlogGroup = vg
		vg.Go(func() error {
			for job := range w.vlogCh {
				if _, err := vlog.WriteAt(job.data, job.offset); err != nil {
					return errs.Wrap(err, "robt: vlog flush")
				}
			}
			return nil
		})
	}
	return w, nil
}

func (w *Writer[K, D, V]) writeFramed(payload []byte) int64 {
	if w.zstdEnc != nil {
		payload = w.zstdEnc.EncodeAll(payload, nil)
	}
	off := w.offset
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed[0:4], uint32(len(payload)))
	copy(framed[4:], payload)
	w.offset += int64(len(framed))
	w.flushCh <- flushJob{off, framed}
	return off
}

func (w *Writer[K, D, V]) writeVlog(payload []byte) (off int64, n int) {
	off = w.vlogOff
	w.vlogOff += int64(len(payload))
	w.vlogCh <- flushJob{off, payload}
	return off, len(payload)
}

// Append adds the next entry. Entries must be presented in ascending
// key order (the writer does not sort). An entry whose newest visible
// seqno falls at or below cfg.TombPurge is dropped entirely rather than
// written, the compaction-time tombstone purge.
func (w *Writer[K, D, V]) Append(e entry.Entry[K, D, V]) {
	if w.cfg.TombPurge > 0 {
		purged, ok := e.Purge(w.cfg.TombPurge)
		if !ok {
			return
		}
		e = purged
	}
	if !w.cfg.DeltaOk {
		e.Deltas = nil
	}
	kb := w.codec.EncodeKey(e.Key)

	var descriptor []byte
	mode := byte(valueInline)
	if w.cfg.ValueInVlog {
		eb := w.codec.EncodeEntry(e)
		voff, vlen := w.writeVlog(eb)
		descriptor = appendUint64(nil, uint64(voff))
		descriptor = appendUint32(descriptor, uint32(vlen))
		mode = valueInVlog
	} else {
		eb := w.codec.EncodeEntry(e)
		descriptor = appendLenPrefixed(nil, eb)
	}

	need := 4 + len(kb) + len(descriptor)
	if w.zCount > 0 && len(w.zBuf)+need > w.cfg.ZBlockSize-8 {
		w.flushZ()
	}
	if w.zCount == 0 {
		w.zBuf = []byte{blockTypeLeaf, 0, 0, 0, 0, mode}
		w.zFirstKey = kb
	}
	w.zBuf = appendLenPrefixed(w.zBuf, kb)
	w.zBuf = append(w.zBuf, descriptor...)
	w.zCount++
	w.count++
}

func (w *Writer[K, D, V]) flushZ() {
	binary.BigEndian.PutUint32(w.zBuf[1:5], uint32(w.zCount))
	block := appendChecksum(w.zBuf)
	off := w.writeFramed(block)
	w.appendToLevel(0, w.zFirstKey, off)
	w.zBuf, w.zCount, w.zFirstKey = nil, 0, nil
}

func (w *Writer[K, D, V]) appendToLevel(level int, key []byte, offset int64) {
	for len(w.levels) <= level {
		w.levels = append(w.levels, &levelBuilder{})
	}
	lv := w.levels[level]
	lv.keys = append(lv.keys, key)
	lv.offs = append(lv.offs, offset)
	lv.size += 4 + len(key) + 8
	if lv.size >= w.cfg.MBlockSize-8 {
		off := w.flushLevel(level)
		firstKey := lv.keys[0]
		w.levels[level] = &levelBuilder{}
		w.appendToLevel(level+1, firstKey, off)
	}
}

func (w *Writer[K, D, V]) flushLevel(level int) int64 {
	lv := w.levels[level]
	buf := []byte{blockTypeInterior}
	buf = appendUint32(buf, uint32(len(lv.keys)))
	for i := range lv.keys {
		buf = appendLenPrefixed(buf, lv.keys[i])
		buf = appendUint64(buf, uint64(lv.offs[i]))
	}
	block := appendChecksum(buf)
	return w.writeFramed(block)
}

// Close flushes every pending block, cascades the interior-level stack
// up to a single root, writes the app-metadata/stats/marker trailer
// (zero-padded so the trailer as a whole lands on a metaAlign
// boundary) and waits for the background flusher(s) to finish. appMeta
// is opaque application metadata round-tripped through the trailer
// unexamined; pass nil if the caller has none. It returns the root
// block's file offset (-1 for an empty build).
func (w *Writer[K, D, V]) Close(appMeta []byte) (rootOffset int64, err error) {
	if w.zCount > 0 {
		w.flushZ()
	}

	rootOffset = -1
	for level := 0; level < len(w.levels); level++ {
		lv := w.levels[level]
		if len(lv.keys) == 0 {
			continue
		}
		if level == len(w.levels)-1 && len(lv.keys) == 1 {
			rootOffset = lv.offs[0]
			break
		}
		off := w.flushLevel(level)
		firstKey := lv.keys[0]
		w.levels[level] = &levelBuilder{}
		w.appendToLevel(level+1, firstKey, off)
	}
	if rootOffset == -1 && len(w.levels) > 0 {
		top := w.levels[len(w.levels)-1]
		switch {
		case len(top.keys) == 1:
			rootOffset = top.offs[0]
		case len(top.keys) > 1:
			rootOffset = w.flushLevel(len(w.levels) - 1)
		}
	}

	statsBuf, err := encodeStats(statsFromConfig(w.cfg, w.count))
	if err != nil {
		return 0, err
	}
	marker := []byte(robtMarker)

	unpadded := int64(len(appMeta)+len(statsBuf)+len(marker)) + footerSize
	padded := roundUpMeta(unpadded)
	padLen := padded - unpadded

	region := make([]byte, 0, unpadded-footerSize+padLen)
	region = append(region, appMeta...)
	region = append(region, statsBuf...)
	region = append(region, marker...)
	region = append(region, make([]byte, padLen)...)
	// Start the trailer region on a metaAlign boundary; the gap after the
	// last block reads back as zeros.
	w.offset = roundUpMeta(w.offset)
	w.flushCh <- flushJob{w.offset, region}
	w.offset += int64(len(region))

	footer := make([]byte, footerSize)
	binary.BigEndian.PutUint64(footer[0:8], uint64(rootOffset))
	binary.BigEndian.PutUint64(footer[8:16], uint64(len(appMeta)))
	binary.BigEndian.PutUint64(footer[16:24], uint64(len(statsBuf)))
	binary.BigEndian.PutUint64(footer[24:32], uint64(len(marker)))
	w.flushCh <- flushJob{w.offset, footer}
	w.offset += int64(len(footer))

	close(w.flushCh)
	if err := w.group.Wait(); err != nil {
		return 0, err
	}
	if w.cfg.ValueInVlog {
		close(w.vlogCh)
		if err := w.vlogGroup.Wait(); err != nil {
			return 0, err
		}
	}
	if w.zstdEnc != nil {
		w.zstdEnc.Close()
	}
	return rootOffset, nil
}
