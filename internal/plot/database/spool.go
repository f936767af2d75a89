package database

import (
	"context"
	"fmt"

	rundb "pythia-bench/internal/database"
	"pythia-bench/internal/round"
)

// PlotFields are the per-round numeric fields a sweep can put on its Y axis.
var PlotFields = []string{
	"accuracy",
	"threshold_ns",
	"observed_hit_ns",
	"observed_evict_ns",
	"evict_latency_us",
	"achieved",
}

// SpoolSource serves plot queries from a spool artifact instead of InfluxDB.
type SpoolSource struct {
	artifact *rundb.SpoolArtifact
}

func NewSpoolSource(artifact *rundb.SpoolArtifact) *SpoolSource {
	return &SpoolSource{artifact: artifact}
}

func (s *SpoolSource) QueryRounds(_ context.Context, runID string) ([]RoundPoint, error) {
	if runID != "" && runID != s.artifact.RunID {
		return nil, fmt.Errorf("spool artifact holds run %s, not %s", s.artifact.RunID, runID)
	}
	return RoundPointsFromReports(s.artifact.Rounds), nil
}

func (s *SpoolSource) QueryMetaData(_ context.Context, runID string) (*MetaData, error) {
	m := s.artifact.Metadata
	if m == nil {
		return &MetaData{RunID: s.artifact.RunID, Experiment: s.artifact.Experiment, Checksum: s.artifact.Checksum}, nil
	}
	meta := &MetaData{
		RunID:           m.RunID,
		Experiment:      m.Experiment,
		Description:     m.Description,
		Checksum:        m.Checksum,
		RunStarted:      m.RunStarted,
		RunFinished:     m.RunFinished,
		DurationSeconds: m.DurationSeconds,
		Rounds:          int64(m.Rounds),
		Successful:      int64(m.Successful),
		Failed:          int64(m.Failed),
		NotEnough:       int64(m.NotEnough),
		MeanAccuracy:    m.MeanAccuracy,
	}
	if m.Host != nil {
		meta.Hostname = m.Host.Hostname
		meta.CPUModel = m.Host.CPUModel
		meta.KernelVersion = m.Host.KernelVersion
	}
	return meta, nil
}

func RoundPointsFromReports(reports []*round.Report) []RoundPoint {
	points := make([]RoundPoint, 0, len(reports))
	for _, r := range reports {
		points = append(points, RoundPoint{
			Round:     r.Round,
			Mode:      r.Mode,
			Strategy:  r.Strategy,
			Status:    string(r.Status),
			Requested: r.Requested,
			Achieved:  r.Achieved,
			Fields: map[string]float64{
				"accuracy":          r.Accuracy,
				"threshold_ns":      r.ThresholdNs,
				"observed_hit_ns":   r.ObservedHitNs,
				"observed_evict_ns": r.ObservedEvictNs,
				"evict_latency_us":  r.EvictLatencyUs,
				"achieved":          float64(r.Achieved),
			},
		})
	}
	return points
}
