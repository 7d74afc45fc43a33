// Package bloom defines the Bloom contract scans.BitmappedScan
// accumulates into while it scans an index, plus an FNV-based
// implementation of it. Only the contract is load-bearing for callers
// in this module; swapping in a roaring-bitmap or other backend only
// requires satisfying Bloom, never touching scans.
package bloom

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/bnclabs/rdms/errs"
)

// Bloom is the membership-test contract shared across the index family.
// Implementations may give false positives but never false negatives.
type Bloom interface {
	Add(key []byte)
	Contains(key []byte) bool
	Marshal() []byte
}

// filter is the default Bloom: a double-hashed bit array seeded from
// FNV-1a, sized at roughly 10 bits per expected entry (~1% false
// positive rate at numHashes=7).
type filter struct {
	bits      []byte
	size      int
	numHashes int
}

// New creates a filter sized for expectedItems entries using numHashes
// independent probes per key.
func New(expectedItems, numHashes int) Bloom {
	size := expectedItems * 10
	if size < 8 {
		size = 8
	}
	byteSize := (size + 7) / 8
	return &filter{bits: make([]byte, byteSize), size: size, numHashes: numHashes}
}

func (f *filter) Add(key []byte) {
	for i := 0; i < f.numHashes; i++ {
		bit := f.hash(key, i) % uint64(f.size)
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

func (f *filter) Contains(key []byte) bool {
	for i := 0; i < f.numHashes; i++ {
		bit := f.hash(key, i) % uint64(f.size)
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

func (f *filter) hash(key []byte, i int) uint64 {
	h := fnv.New64a()
	h.Write(key)
	h1 := h.Sum64()

	h.Reset()
	h.Write(key)
	h.Write([]byte{byte(i)})
	h2 := h.Sum64()

	return h1 + uint64(i)*h2
}

// Marshal serializes the filter as size(4) | numHashes(4) | bits.
func (f *filter) Marshal() []byte {
	buf := make([]byte, 8+len(f.bits))
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.size))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.numHashes))
	copy(buf[8:], f.bits)
	return buf
}

// Unmarshal parses the layout Marshal produces.
func Unmarshal(data []byte) (Bloom, error) {
	if len(data) < 8 {
		return nil, errs.Wrap(errs.ErrInvalidSnapshot, "bloom: short buffer")
	}
	size := int(binary.BigEndian.Uint32(data[0:4]))
	numHashes := int(binary.BigEndian.Uint32(data[4:8]))
	bits := make([]byte, len(data)-8)
	copy(bits, data[8:])
	return &filter{bits: bits, size: size, numHashes: numHashes}, nil
}
