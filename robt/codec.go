package robt

import "github.com/bnclabs/rdms/entry"

// Codec supplies the byte-level encoding Writer/Reader need for an
// opaque K/D/V: Rdms stays generic over the key/value types, but a
// file format has to commit to bytes on disk, so the caller supplies
// the mapping in both directions.
type Codec[K any, D any, V entry.Diff[V, D]] struct {
	EncodeKey   func(K) []byte
	DecodeKey   func([]byte) K
	EncodeEntry func(entry.Entry[K, D, V]) []byte
	DecodeEntry func([]byte) entry.Entry[K, D, V]
}
