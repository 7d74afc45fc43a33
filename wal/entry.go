package wal

import "encoding/binary"

// Record type tags, the low byte of every record's 8-byte header.
const (
	recTerm   byte = 1
	recClient byte = 2
)

// record is one decoded WAL entry. A Term record marks a leadership
// term boundary; a Client record carries a single Set/SetCAS/Delete
// mutation plus a ceqno field. ceqno is encoded and decoded but WAL's
// Set/SetCAS/Delete always leave it 0 and replay does not read it.
type record struct {
	typ   byte
	term  uint64
	index uint64
	ceqno uint64
	op    opRecord
}

func putUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// encodeRecord serializes r as header(8, low byte=typ) | term(8) |
// index(8) | [ceqno(8) op...] for Client records.
func encodeRecord(r record) []byte {
	buf := make([]byte, 8, 32+len(r.op.key)+len(r.op.value))
	binary.BigEndian.PutUint64(buf, uint64(r.typ))
	buf = putUint64(buf, r.term)
	buf = putUint64(buf, r.index)
	if r.typ == recClient {
		buf = putUint64(buf, r.ceqno)
		buf = append(buf, encodeOp(r.op)...)
	}
	return buf
}

// decodeRecord parses one record starting at buf[0], returning the
// record and the number of bytes consumed.
func decodeRecord(buf []byte) (record, int) {
	typ := byte(binary.BigEndian.Uint64(buf[0:8]))
	term := binary.BigEndian.Uint64(buf[8:16])
	index := binary.BigEndian.Uint64(buf[16:24])
	r := record{typ: typ, term: term, index: index}
	pos := 24
	if typ == recClient {
		r.ceqno = binary.BigEndian.Uint64(buf[pos : pos+8])
		pos += 8
		op, n := decodeOp(buf[pos:])
		r.op = op
		pos += n
	}
	return r, pos
}
