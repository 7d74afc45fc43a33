package robt

import (
	"encoding/json"

	"github.com/bnclabs/rdms/errs"
)

// stats is the JSON blob every ROBT file carries in its trailer,
// recording the count of the build plus the config knobs a reader
// needs to interpret the file's blocks correctly. Open parses this
// back into the effective Config instead of trusting whatever the
// caller happens to pass in, so a snapshot always reads the way it was
// written even if the caller's in-memory Config has since changed.
type stats struct {
	Count       int64  `json:"count"`
	ZBlockSize  int    `json:"z_block_size"`
	MBlockSize  int    `json:"m_block_size"`
	VBlockSize  int    `json:"v_block_size"`
	TombPurge   uint64 `json:"tomb_purge"`
	DeltaOk     bool   `json:"delta_ok"`
	ValueInVlog bool   `json:"value_in_vlog"`
	Compress    bool   `json:"compress"`
}

func statsFromConfig(cfg Config, count int64) stats {
	return stats{
		Count:       count,
		ZBlockSize:  cfg.ZBlockSize,
		MBlockSize:  cfg.MBlockSize,
		VBlockSize:  cfg.VBlockSize,
		TombPurge:   cfg.TombPurge,
		DeltaOk:     cfg.DeltaOk,
		ValueInVlog: cfg.ValueInVlog,
		Compress:    cfg.Compress,
	}
}

// effectiveConfig reconstructs the Config a snapshot was built with.
func (s stats) effectiveConfig() Config {
	return Config{
		ZBlockSize:  s.ZBlockSize,
		MBlockSize:  s.MBlockSize,
		VBlockSize:  s.VBlockSize,
		TombPurge:   s.TombPurge,
		DeltaOk:     s.DeltaOk,
		ValueInVlog: s.ValueInVlog,
		Compress:    s.Compress,
	}
}

func encodeStats(s stats) ([]byte, error) {
	buf, err := json.Marshal(s)
	if err != nil {
		return nil, errs.Wrap(err, "robt: encode stats")
	}
	return buf, nil
}

func decodeStats(buf []byte) (stats, error) {
	var s stats
	if err := json.Unmarshal(buf, &s); err != nil {
		return stats{}, errs.Wrap(err, "robt: decode stats")
	}
	return s, nil
}
