package robt

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/klauspost/compress/zstd"

	"github.com/bnclabs/rdms/errs"
)

// newBlockEncoder/newBlockDecoder build the zstd codec pair a
// Writer/Reader hold for the lifetime of one file, mirroring
// pkg/compression's persistent zstdEnc/zstdDec fields rather than
// paying encoder/decoder setup cost per block.
func newBlockEncoder() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func newBlockDecoder() (*zstd.Decoder, error) {
	return zstd.NewReader(nil)
}

// Block type tags, the first byte of every Z/M block body.
const (
	blockTypeLeaf     = 'Z'
	blockTypeInterior = 'M'
)

// Leaf value-storage modes, the byte following a Z-block's entry count.
const (
	valueInline = 0
	valueInVlog = 1
)

// robtMarker is the fixed trailer string validated on Open; a mismatch
// means the file is not a ROBT snapshot, or was truncated mid-write.
const robtMarker = "rdms-robt-v1\x00\x00\x00\x00"

// metaAlign is the alignment, in bytes, the trailer (app-metadata +
// stats + marker + zero padding + footer) is padded to.
const metaAlign = 4096

// footerSize is the fixed-width tail every ROBT file ends with: four
// big-endian u64s (root_fpos, app_meta_len, stats_len, marker_len).
const footerSize = 32

// roundUpMeta returns the smallest multiple of metaAlign that is >= n.
func roundUpMeta(n int64) int64 {
	if rem := n % metaAlign; rem != 0 {
		return n + (metaAlign - rem)
	}
	return n
}

var errUnknownBlockType = errs.Wrap(errs.ErrInvalidSnapshot, "robt: unknown block type")

func checksum(body []byte) uint64 { return xxhash.Checksum64(body) }

// appendChecksum appends an 8-byte big-endian xxhash64 of buf to itself.
func appendChecksum(buf []byte) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], checksum(buf))
	return append(buf, tmp[:]...)
}

// verifyChecksum splits block into (body, trailing checksum) and
// returns body once the checksum has been confirmed.
func verifyChecksum(block []byte) ([]byte, error) {
	if len(block) < 8 {
		return nil, errs.Wrap(errs.ErrInvalidSnapshot, "robt: short block")
	}
	body, want := block[:len(block)-8], binary.BigEndian.Uint64(block[len(block)-8:])
	if checksum(body) != want {
		return nil, errs.Wrap(errs.ErrInvalidSnapshot, "robt: block checksum mismatch")
	}
	return body, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readLenPrefixed(body []byte, pos int) (out []byte, next int) {
	n := binary.BigEndian.Uint32(body[pos : pos+4])
	pos += 4
	return body[pos : pos+int(n)], pos + int(n)
}
