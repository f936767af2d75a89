package round

import (
	"fmt"
	"strings"

	"pythia-bench/internal/calibrate"
	"pythia-bench/internal/evict"
)

type Status string

const (
	StatusSuccess   Status = "success"
	StatusFail      Status = "fail"
	StatusNotEnough Status = "notenough"
)

// Trial is one classified access.
type Trial struct {
	Actual    int     `json:"actual"`
	Predicted int     `json:"predicted"`
	LatencyNs float64 `json:"latency_ns"`
}

func (t Trial) Correct() bool { return t.Actual == t.Predicted }

// Classify predicts the client's bit from a reload latency: at or above the
// threshold the target was still evicted, so the client stayed idle (1).
func Classify(latencyNs, thresholdNs float64) int {
	if latencyNs >= thresholdNs {
		return 1
	}
	return 0
}

// Report is the attacker's record of one round.
type Report struct {
	Experiment string `json:"experiment"`
	Checksum   string `json:"checksum"`

	Round    int    `json:"round"`
	Target   int    `json:"target"`
	Status   Status `json:"status"`
	Mode     string `json:"mode"`
	Strategy string `json:"strategy"`

	Trials   int     `json:"trials"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`

	EvictLatencyUs float64 `json:"evict_latency_us"`
	TargetAddr     uint64  `json:"target_addr"`
	TargetKey      uint32  `json:"target_rkey"`
	FirstEvictKey  uint32  `json:"first_evict_rkey"`

	Calibration     calibrate.Result `json:"calibration"`
	ThresholdNs     float64          `json:"threshold_ns"`
	ObservedHitNs   float64          `json:"observed_hit_ns"`
	ObservedEvictNs float64          `json:"observed_evict_ns"`

	Span      evict.IndexSpan `json:"span"`
	Requested int             `json:"requested"`
	Achieved  int             `json:"achieved"`

	Records []Trial `json:"records"`
}

// finalize derives the tally and status from the trial records. It runs once
// per round.
func (r *Report) finalize() {
	r.Trials = len(r.Records)
	r.Correct = 0
	var hitSum, evictSum float64
	var hits, evicts int
	for _, t := range r.Records {
		if t.Correct() {
			r.Correct++
		}
		if t.Actual == 0 {
			hitSum += t.LatencyNs
			hits++
		} else {
			evictSum += t.LatencyNs
			evicts++
		}
	}
	r.Accuracy = 0
	if r.Trials > 0 {
		r.Accuracy = float64(r.Correct) / float64(r.Trials)
	}
	r.ObservedHitNs, r.ObservedEvictNs = 0, 0
	if hits > 0 {
		r.ObservedHitNs = hitSum / float64(hits)
	}
	if evicts > 0 {
		r.ObservedEvictNs = evictSum / float64(evicts)
	}

	switch {
	case r.Achieved < r.Requested:
		r.Status = StatusNotEnough
	case r.Calibration.Degraded:
		r.Status = StatusFail
	default:
		r.Status = StatusSuccess
	}
}

// Line renders the report as one tab-separated log line.
func (r *Report) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\t%d\t%s\t%s:%s\t%0.2f\t%d/%d\tevict lat:\t%0.2f\t",
		r.Round, r.Target, r.Status, r.Mode, r.Strategy,
		r.Accuracy, r.Correct, r.Trials, r.EvictLatencyUs)
	fmt.Fprintf(&b, "%x\t%x\t%x\t", r.TargetAddr, r.TargetKey, r.FirstEvictKey)
	fmt.Fprintf(&b, "%0.2f(%0.2f-%0.2f)\t%0.2f(%0.2f-%0.2f)\t",
		r.Calibration.EvictLatencyNs, r.Calibration.SampledEvictNs, r.ObservedEvictNs,
		r.Calibration.HitLatencyNs, r.Calibration.SampledHitNs, r.ObservedHitNs)
	fmt.Fprintf(&b, "index:\t%d\t%d\t%d\t%d\t%d/%d",
		r.Span.First, r.Span.Last, r.Span.IndexStride, r.Span.RealStride, r.Achieved, r.Requested)
	return b.String()
}

// Sink receives every finished report.
type Sink interface {
	WriteReport(r *Report) error
}
