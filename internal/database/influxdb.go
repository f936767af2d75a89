package database

import (
	"context"
	"fmt"
	"time"

	"pythia-bench/internal/config"
	"pythia-bench/internal/host"
	"pythia-bench/internal/logging"
	"pythia-bench/internal/round"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// RunMetadata describes one attacker run.
type RunMetadata struct {
	RunID           string           `json:"run_id"`
	Experiment      string           `json:"experiment"`
	Description     string           `json:"description"`
	Checksum        string           `json:"checksum"`
	MachineID       int              `json:"machine_id"`
	Role            string           `json:"role"`
	RunStarted      string           `json:"run_started"`  // RFC3339 timestamp
	RunFinished     string           `json:"run_finished"` // RFC3339 timestamp
	DurationSeconds int64            `json:"duration_seconds"`
	Rounds          int              `json:"rounds"`
	Trials          int              `json:"trials"`
	Successful      int              `json:"successful"`
	Failed          int              `json:"failed"`
	NotEnough       int              `json:"not_enough"`
	MeanAccuracy    float64          `json:"mean_accuracy"`
	Host            *host.HostConfig `json:"host"`
	ConfigFile      string           `json:"config_file"`
}

// CollectRunMetadata summarizes finished reports.
func CollectRunMetadata(runID string, cfg *config.BenchmarkConfig, checksum string, machineID int, role string, reports []*round.Report, startTime, endTime time.Time) *RunMetadata {
	m := &RunMetadata{
		RunID:           runID,
		Experiment:      cfg.Experiment.Name,
		Description:     cfg.Experiment.Description,
		Checksum:        checksum,
		MachineID:       machineID,
		Role:            role,
		RunStarted:      startTime.Format(time.RFC3339),
		RunFinished:     endTime.Format(time.RFC3339),
		DurationSeconds: int64(endTime.Sub(startTime).Seconds()),
		Rounds:          len(reports),
		Trials:          cfg.Experiment.Trials,
	}
	var accSum float64
	for _, r := range reports {
		switch r.Status {
		case round.StatusSuccess:
			m.Successful++
		case round.StatusFail:
			m.Failed++
		case round.StatusNotEnough:
			m.NotEnough++
		}
		accSum += r.Accuracy
	}
	if len(reports) > 0 {
		m.MeanAccuracy = accSum / float64(len(reports))
	}
	if hc, err := host.GetHostConfig(); err == nil {
		m.Host = hc
	} else {
		logging.GetLogger().WithError(err).Warn("Host information unavailable")
	}
	return m
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
	tags     map[string]string
}

func NewInfluxDBClient(config config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    config.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is %s", config.Host, health.Status)
	}

	writeAPI := client.WriteAPIBlocking(config.Org, config.Name)

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: writeAPI,
		bucket:   config.Name,
		org:      config.Org,
		tags:     map[string]string{},
	}, nil
}

// SetRunTags adds tags stamped on every point written afterwards.
func (idb *InfluxDBClient) SetRunTags(tags map[string]string) {
	for k, v := range tags {
		idb.tags[k] = v
	}
}

// WriteReport writes one point per round.
func (idb *InfluxDBClient) WriteReport(r *round.Report) error {
	point := reportPoint(r, idb.tags, time.Now())
	if err := idb.writeAPI.WritePoint(context.Background(), point); err != nil {
		return fmt.Errorf("failed to write round point: %w", err)
	}
	return nil
}

func reportPoint(r *round.Report, runTags map[string]string, ts time.Time) *write.Point {
	tags := map[string]string{
		"experiment": r.Experiment,
		"checksum":   r.Checksum,
		"mode":       r.Mode,
		"strategy":   r.Strategy,
		"status":     string(r.Status),
	}
	for k, v := range runTags {
		tags[k] = v
	}
	return influxdb2.NewPoint("pythia_round", tags, reportFields(r), ts)
}

func reportFields(r *round.Report) map[string]interface{} {
	return map[string]interface{}{
		"round":             r.Round,
		"target":            r.Target,
		"trials":            r.Trials,
		"correct":           r.Correct,
		"accuracy":          r.Accuracy,
		"evict_latency_us":  r.EvictLatencyUs,
		"target_addr":       fmt.Sprintf("%#x", r.TargetAddr),
		"target_rkey":       int64(r.TargetKey),
		"first_evict_rkey":  int64(r.FirstEvictKey),
		"hit_ns":            r.Calibration.HitLatencyNs,
		"evict_ns":          r.Calibration.EvictLatencyNs,
		"sampled_hit_ns":    r.Calibration.SampledHitNs,
		"sampled_evict_ns":  r.Calibration.SampledEvictNs,
		"degraded":          r.Calibration.Degraded,
		"threshold_ns":      r.ThresholdNs,
		"observed_hit_ns":   r.ObservedHitNs,
		"observed_evict_ns": r.ObservedEvictNs,
		"span_first":        r.Span.First,
		"span_last":         r.Span.Last,
		"span_index_stride": r.Span.IndexStride,
		"span_real_stride":  r.Span.RealStride,
		"requested":         r.Requested,
		"achieved":          r.Achieved,
	}
}

func (idb *InfluxDBClient) WriteMetadata(metadata *RunMetadata) error {
	ctx := context.Background()

	fields := map[string]interface{}{
		"experiment":       metadata.Experiment,
		"description":      metadata.Description,
		"checksum":         metadata.Checksum,
		"machine_id":       metadata.MachineID,
		"role":             metadata.Role,
		"run_started":      metadata.RunStarted,
		"run_finished":     metadata.RunFinished,
		"duration_seconds": metadata.DurationSeconds,
		"rounds":           metadata.Rounds,
		"trials":           metadata.Trials,
		"successful":       metadata.Successful,
		"failed":           metadata.Failed,
		"not_enough":       metadata.NotEnough,
		"mean_accuracy":    metadata.MeanAccuracy,
		"config_file":      metadata.ConfigFile,
	}
	if metadata.Host != nil {
		fields["hostname"] = metadata.Host.Hostname
		fields["kernel_version"] = metadata.Host.KernelVersion
		fields["cpu_model"] = metadata.Host.CPUModel
		fields["cpu_threads"] = metadata.Host.TotalThreads
	}

	point := influxdb2.NewPoint("pythia_meta",
		map[string]string{
			"run_id": metadata.RunID,
		},
		fields,
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
