package robt

// Config controls block sizing, version retention and background
// flushing for a ROBT level. Same fields the distilled design names:
// ZBlockSize/MBlockSize govern when a leaf or interior block is
// flushed; VBlockSize is recorded in the trailer's stats but does not
// change how value-log writes are issued (each entry is written to the
// value log as it is appended); TombPurge bounds how much tombstone/
// delta history a build keeps; ValueInVlog routes values through a
// separate value-log file instead of storing them inline in Z-blocks.
type Config struct {
	ZBlockSize     int
	MBlockSize     int
	VBlockSize     int
	TombPurge      uint64
	DeltaOk        bool
	ValueInVlog    bool
	VlogFile       string
	FlushQueueSize int

	// Compress zstd-compresses every Z/M block before it is framed and
	// written. The value log, if any, is left uncompressed: it is read
	// by direct offset rather than sequentially decoded, so it gains
	// nothing from block-level compression.
	Compress bool
}

// DefaultConfig returns the pack's baseline: 4KiB blocks, deltas
// dropped, values stored inline, a 64-deep flush queue, zstd block
// compression on (the teacher's own default compression choice).
func DefaultConfig() Config {
	return Config{
		ZBlockSize:     4096,
		MBlockSize:     4096,
		VBlockSize:     4096,
		DeltaOk:        false,
		ValueInVlog:    false,
		FlushQueueSize: 64,
		Compress:       true,
	}
}
