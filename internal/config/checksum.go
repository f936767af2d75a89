package config

import (
	"encoding/hex"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/sha3"
)

type checksumPayload struct {
	Rounds    int             `json:"rounds"`
	Trials    int             `json:"trials"`
	Pool      PoolConfig      `json:"pool"`
	EvictPool PoolConfig      `json:"evict_pool"`
	Schedule  []ScheduleEntry `json:"schedule"`
	Default   int             `json:"default_start_distance"`
	Start     int             `json:"start_distance"`
	Stride    int             `json:"index_stride"`
	Shift     int             `json:"shift"`
	BitShift  int             `json:"bit_shift"`
	Group     int             `json:"group_stride"`
	Wrap      bool            `json:"accept_wrap"`
	EvictSize EvictSizeConfig `json:"evict_size"`
	Access    AccessConfig    `json:"access"`
	Target    TargetConfig    `json:"target"`
	CQDepth   int             `json:"cq_depth"`
	ExtraKey  bool            `json:"use_extra_key"`
}

// Checksum returns a short, stable digest of the experiment definition: every
// setting that changes what a round measures, nothing that only changes where
// results go. It is the first 6 hex characters of SHA3-256 over a canonical
// JSON encoding.
func Checksum(cfg *BenchmarkConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	p := cfg.Probe
	payload := checksumPayload{
		Rounds:    cfg.Experiment.Rounds,
		Trials:    cfg.Experiment.Trials,
		Pool:      cfg.Pool,
		EvictPool: cfg.EvictPool,
		Schedule:  p.Schedule,
		Default:   p.DefaultStartDistance,
		Start:     p.StartDistance,
		Stride:    p.IndexStride,
		Shift:     p.Shift,
		BitShift:  p.BitShift,
		Group:     p.GroupStride,
		Wrap:      p.AcceptWrap,
		EvictSize: p.EvictSize,
		Access:    p.Access,
		Target:    cfg.Target,
		CQDepth:   cfg.Fabric.CQDepth,
		ExtraKey:  cfg.Fabric.UseExtraKey,
	}
	b, err := sonnet.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := sha3.Sum256(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
