package robt

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/bnclabs/rdms/entry"
	"github.com/bnclabs/rdms/errs"
	"github.com/bnclabs/rdms/llrb"
)

// Reader opens a ROBT snapshot previously produced by Writer: trailer
// parse, marker validation, and find-based descent through M-blocks to
// a terminal Z-block. A single mutex serializes reads against the
// shared file descriptor (grounded on pkg/lsm/sstable.go's single-file
// SSTableIterator, generalized here to a stack of frames so deferred
// vlog fetches can interleave with iteration instead of pinning one
// cursor).
type Reader[K any, D any, V entry.Diff[V, D]] struct {
	f       *os.File
	vlog    *os.File
	codec   Codec[K, D, V]
	compare func(a, b K) int
	mu      sync.Mutex
	zstdDec *zstd.Decoder

	root  int64
	count int64
}

// Open parses f's trailer, validates its marker and reconstructs the
// effective Config the snapshot was built with from the trailer's
// stats region, rather than trusting a caller-supplied Config that may
// have drifted since the file was written. vlog may be nil if the
// snapshot was built with ValueInVlog=false. appMeta is the opaque
// application-metadata blob the writer was given, returned verbatim.
func Open[K any, D any, V entry.Diff[V, D]](f *os.File, vlog *os.File, codec Codec[K, D, V], compare func(a, b K) int) (r *Reader[K, D, V], appMeta []byte, err error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, nil, errs.Wrap(err, "robt: seek")
	}
	if size < footerSize {
		return nil, nil, errs.Wrap(errs.ErrInvalidSnapshot, "robt: file too small for trailer")
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, size-footerSize); err != nil {
		return nil, nil, errs.Wrap(err, "robt: read footer")
	}
	root := int64(binary.BigEndian.Uint64(footer[0:8]))
	appMetaLen := int64(binary.BigEndian.Uint64(footer[8:16]))
	statsLen := int64(binary.BigEndian.Uint64(footer[16:24]))
	markerLen := int64(binary.BigEndian.Uint64(footer[24:32]))

	unpadded := appMetaLen + statsLen + markerLen + footerSize
	padded := roundUpMeta(unpadded)
	if padded > size {
		return nil, nil, errs.Wrap(errs.ErrInvalidSnapshot, "robt: corrupt trailer lengths")
	}
	trailerStart := size - padded

	region := make([]byte, appMetaLen+statsLen+markerLen)
	if _, err := f.ReadAt(region, trailerStart); err != nil {
		return nil, nil, errs.Wrap(err, "robt: read trailer region")
	}
	appMeta = append([]byte(nil), region[:appMetaLen]...)
	statsBuf := region[appMetaLen : appMetaLen+statsLen]
	marker := region[appMetaLen+statsLen:]

	if string(marker) != robtMarker {
		return nil, nil, errs.Wrap(errs.ErrInvalidSnapshot, "robt: marker mismatch")
	}
	st, err := decodeStats(statsBuf)
	if err != nil {
		return nil, nil, err
	}
	cfg := st.effectiveConfig()

	r = &Reader[K, D, V]{f: f, vlog: vlog, codec: codec, compare: compare, root: root, count: st.Count}
	if cfg.Compress {
		dec, err := newBlockDecoder()
		if err != nil {
			return nil, nil, errs.Wrap(err, "robt: zstd decoder")
		}
		r.zstdDec = dec
	}
	return r, appMeta, nil
}

// Close closes the underlying index (and, if open, value-log) files.
func (r *Reader[K, D, V]) Close() error {
	if r.zstdDec != nil {
		r.zstdDec.Close()
	}
	if r.vlog != nil {
		if err := r.vlog.Close(); err != nil {
			return err
		}
	}
	return r.f.Close()
}

// Count returns the number of entries recorded in the trailer.
func (r *Reader[K, D, V]) Count() int64 { return r.count }

func (r *Reader[K, D, V]) readBlock(offset int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lenBuf [4]byte
	if _, err := r.f.ReadAt(lenBuf[:], offset); err != nil {
		return nil, errs.Wrap(err, "robt: read block length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := r.f.ReadAt(buf, offset+4); err != nil {
		return nil, errs.Wrap(err, "robt: read block body")
	}
	if r.zstdDec != nil {
		decoded, err := r.zstdDec.DecodeAll(buf, nil)
		if err != nil {
			return nil, errs.Wrap(err, "robt: block decompress")
		}
		buf = decoded
	}
	return verifyChecksum(buf)
}

// zEntryRef is one leaf slot: either the entry bytes inline, or a
// (offset, length) reference into the value log.
type zEntryRef struct {
	key      []byte
	inline   []byte
	indirect bool
	vlogOff  int64
	vlogLen  uint32
}

func decodeZBlock(body []byte) (mode byte, refs []zEntryRef, err error) {
	if len(body) < 6 || body[0] != blockTypeLeaf {
		return 0, nil, errs.Wrap(errs.ErrInvalidSnapshot, "robt: not a leaf block")
	}
	count := binary.BigEndian.Uint32(body[1:5])
	mode = body[5]
	pos := 6
	refs = make([]zEntryRef, 0, count)
	for i := uint32(0); i < count; i++ {
		var kb []byte
		kb, pos = readLenPrefixed(body, pos)
		ref := zEntryRef{key: kb}
		if mode == valueInVlog {
			ref.indirect = true
			ref.vlogOff = int64(binary.BigEndian.Uint64(body[pos : pos+8]))
			pos += 8
			ref.vlogLen = binary.BigEndian.Uint32(body[pos : pos+4])
			pos += 4
		} else {
			ref.inline, pos = readLenPrefixed(body, pos)
		}
		refs = append(refs, ref)
	}
	return mode, refs, nil
}

func decodeMBlock(body []byte) (keys [][]byte, offs []int64, err error) {
	if len(body) < 5 || body[0] != blockTypeInterior {
		return nil, nil, errs.Wrap(errs.ErrInvalidSnapshot, "robt: not an interior block")
	}
	count := binary.BigEndian.Uint32(body[1:5])
	pos := 5
	for i := uint32(0); i < count; i++ {
		var kb []byte
		kb, pos = readLenPrefixed(body, pos)
		off := int64(binary.BigEndian.Uint64(body[pos : pos+8]))
		pos += 8
		keys = append(keys, kb)
		offs = append(offs, off)
	}
	return keys, offs, nil
}

// resolve turns a leaf reference into a decoded entry, fetching from
// the value log on demand when the leaf stored an indirect reference.
// The entry's Key is taken from the leaf slot's key bytes.
func (r *Reader[K, D, V]) resolve(ref zEntryRef) (entry.Entry[K, D, V], error) {
	var e entry.Entry[K, D, V]
	if !ref.indirect {
		e = r.codec.DecodeEntry(ref.inline)
	} else {
		buf := make([]byte, ref.vlogLen)
		r.mu.Lock()
		_, err := r.vlog.ReadAt(buf, ref.vlogOff)
		r.mu.Unlock()
		if err != nil {
			return entry.Entry[K, D, V]{}, errs.Wrap(err, "robt: vlog fetch")
		}
		e = r.codec.DecodeEntry(buf)
	}
	e.Key = r.codec.DecodeKey(ref.key)
	return e, nil
}

func findChild[K any, D any, V entry.Diff[V, D]](keys [][]byte, codec Codec[K, D, V], compare func(a, b K) int, key K) int {
	idx := 0
	for i, kb := range keys {
		if compare(codec.DecodeKey(kb), key) <= 0 {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// Get looks up key, descending from the root through any interior
// blocks to the terminal leaf.
func (r *Reader[K, D, V]) Get(key K) (entry.Entry[K, D, V], bool, error) {
	if r.root < 0 {
		return entry.Entry[K, D, V]{}, false, nil
	}
	off := r.root
	for {
		body, err := r.readBlock(off)
		if err != nil {
			return entry.Entry[K, D, V]{}, false, err
		}
		switch body[0] {
		case blockTypeLeaf:
			_, refs, err := decodeZBlock(body)
			if err != nil {
				return entry.Entry[K, D, V]{}, false, err
			}
			for _, ref := range refs {
				if r.compare(r.codec.DecodeKey(ref.key), key) == 0 {
					e, err := r.resolve(ref)
					return e, err == nil, err
				}
			}
			return entry.Entry[K, D, V]{}, false, nil
		case blockTypeInterior:
			keys, offs, err := decodeMBlock(body)
			if err != nil {
				return entry.Entry[K, D, V]{}, false, err
			}
			off = offs[findChild[K, D, V](keys, r.codec, r.compare, key)]
		default:
			return entry.Entry[K, D, V]{}, false, errs.Wrap(errs.ErrInvalidSnapshot, "robt: unknown block type")
		}
	}
}

func (r *Reader[K, D, V]) bounds(lo, hi *K) (loF, hiF func(K) bool) {
	return llrb.Bounds[K, D, V](r.compare, lo, hi)
}

// Iter returns a forward iterator over the whole snapshot.
func (r *Reader[K, D, V]) Iter() (*Iterator[K, D, V], error) {
	return newIterator[K, D, V](r, false, nil, nil)
}

// Range returns a forward iterator restricted to [lo,hi].
func (r *Reader[K, D, V]) Range(lo, hi *K) (*Iterator[K, D, V], error) {
	loF, hiF := r.bounds(lo, hi)
	return newIterator[K, D, V](r, false, loF, hiF)
}

// Reverse returns a reverse iterator restricted to [lo,hi].
func (r *Reader[K, D, V]) Reverse(lo, hi *K) (*Iterator[K, D, V], error) {
	loF, hiF := r.bounds(lo, hi)
	return newIterator[K, D, V](r, true, loF, hiF)
}
