package wal

import (
	"encoding/binary"

	"github.com/bnclabs/rdms/errs"
)

// batchMarker closes every batch on disk; decodeBatch checks it (and the
// trailing length behind it) when validating a batch. Replay walks each
// journal forward from the start of the file using the leading length.
const batchMarker = "vawval-treatment"

// Batch is one fsync unit: a run of Term/Client records plus the
// consensus bookkeeping fields a Raft-style caller threads through a
// journal. Rdms itself never inspects Config/VotedFor; they are opaque
// fields the wire format carries for a consensus layer sitting above
// the WAL (see the distilled spec's open question on this).
type Batch struct {
	Term       uint64
	Committed  uint64
	Persisted  uint64
	StartIndex uint64
	Config     []string
	VotedFor   string
	Entries    []record
}

func putString(buf []byte, s string) []byte {
	buf = putUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func putUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func getString(buf []byte, pos int) (string, int) {
	n := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	return string(buf[pos : pos+int(n)]), pos + int(n)
}

// encodeBatch serializes b as a 48-byte header (length, term,
// committed, persisted, start_index, nentries) followed by the config
// list, the votedfor string, the entries, batchMarker and a trailing
// copy of length (checked against the leading length on decode).
func encodeBatch(b Batch) []byte {
	body := make([]byte, 0, 256)
	body = putUint32(body, uint32(len(b.Config)))
	for _, c := range b.Config {
		body = putString(body, c)
	}
	body = putString(body, b.VotedFor)
	for _, r := range b.Entries {
		body = append(body, encodeRecord(r)...)
	}
	body = append(body, []byte(batchMarker)...)

	length := uint64(48 + len(body) + 8)

	buf := make([]byte, 0, int(length))
	buf = putUint64(buf, length)
	buf = putUint64(buf, b.Term)
	buf = putUint64(buf, b.Committed)
	buf = putUint64(buf, b.Persisted)
	buf = putUint64(buf, b.StartIndex)
	buf = putUint64(buf, uint64(len(b.Entries)))
	buf = append(buf, body...)
	buf = putUint64(buf, length)
	return buf
}

// decodeBatch parses one length-prefixed batch starting at buf[0].
func decodeBatch(buf []byte) (Batch, error) {
	if len(buf) < 56 {
		return Batch{}, errs.Wrap(errs.ErrInvalidWAL, "wal: short batch")
	}
	length := binary.BigEndian.Uint64(buf[0:8])
	if uint64(len(buf)) < length {
		return Batch{}, errs.Wrap(errs.ErrPartialRead, "wal: truncated batch")
	}

	b := Batch{
		Term:       binary.BigEndian.Uint64(buf[8:16]),
		Committed:  binary.BigEndian.Uint64(buf[16:24]),
		Persisted:  binary.BigEndian.Uint64(buf[24:32]),
		StartIndex: binary.BigEndian.Uint64(buf[32:40]),
	}
	nentries := binary.BigEndian.Uint64(buf[40:48])

	pos := 48
	nconfig := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	for i := uint32(0); i < nconfig; i++ {
		var c string
		c, pos = getString(buf, pos)
		b.Config = append(b.Config, c)
	}
	b.VotedFor, pos = getString(buf, pos)

	b.Entries = make([]record, 0, nentries)
	for i := uint64(0); i < nentries; i++ {
		r, n := decodeRecord(buf[pos:])
		b.Entries = append(b.Entries, r)
		pos += n
	}

	marker := string(buf[pos : pos+len(batchMarker)])
	if marker != batchMarker {
		return Batch{}, errs.Wrap(errs.ErrInvalidWAL, "wal: batch marker mismatch")
	}
	pos += len(batchMarker)

	trailingLength := binary.BigEndian.Uint64(buf[pos : pos+8])
	if trailingLength != length {
		return Batch{}, errs.Wrap(errs.ErrInvalidWAL, "wal: batch length mismatch")
	}
	return b, nil
}
