package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"pythia-bench/internal/round"

	log "github.com/sirupsen/logrus"
)

// TrialExport writes every classified trial of a run as CSV rows, one file
// per run plus a small metadata file next to it.
type TrialExport struct {
	Experiment string
	Checksum   string
	Started    time.Time

	path   string
	file   *os.File
	writer *csv.Writer
	rows   int
	rounds int

	mutex sync.Mutex
}

var trialHeader = []string{
	"round", "trial", "target", "mode", "strategy",
	"actual", "predicted", "correct", "latency_ns", "threshold_ns", "degraded",
}

// NewTrialExport creates <exportPath>/<experiment>_<timestamp>_trials.csv and
// writes its header.
func NewTrialExport(exportPath, experiment, checksum string, started time.Time) (*TrialExport, error) {
	// Create export directory if it doesn't exist
	if err := os.MkdirAll(exportPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	timestamp := started.Format("20060102_150405")
	path := filepath.Join(exportPath, fmt.Sprintf("%s_%s_trials.csv", experiment, timestamp))
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(trialHeader); err != nil {
		file.Close()
		return nil, err
	}

	return &TrialExport{
		Experiment: experiment,
		Checksum:   checksum,
		Started:    started,
		path:       path,
		file:       file,
		writer:     writer,
	}, nil
}

func (te *TrialExport) Path() string { return te.path }

// WriteReport appends one row per trial record of the round.
func (te *TrialExport) WriteReport(r *round.Report) error {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	degraded := strconv.FormatBool(r.Calibration.Degraded)
	for i, rec := range r.Records {
		row := []string{
			strconv.Itoa(r.Round),
			strconv.Itoa(i),
			strconv.Itoa(r.Target),
			r.Mode,
			r.Strategy,
			strconv.Itoa(rec.Actual),
			strconv.Itoa(rec.Predicted),
			strconv.FormatBool(rec.Correct()),
			strconv.FormatFloat(rec.LatencyNs, 'f', 1, 64),
			strconv.FormatFloat(r.ThresholdNs, 'f', 1, 64),
			degraded,
		}
		if err := te.writer.Write(row); err != nil {
			return err
		}
	}
	te.writer.Flush()
	if err := te.writer.Error(); err != nil {
		return err
	}

	te.rows += len(r.Records)
	te.rounds++

	log.WithFields(log.Fields{
		"round": r.Round,
		"rows":  te.rows,
	}).Debug("Exported trial records")

	return nil
}

// Close flushes the trial file and writes the metadata file beside it.
func (te *TrialExport) Close(finished time.Time) error {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	te.writer.Flush()
	if err := te.writer.Error(); err != nil {
		te.file.Close()
		return err
	}
	if err := te.file.Close(); err != nil {
		return err
	}

	metadataFile := filepath.Join(filepath.Dir(te.path),
		fmt.Sprintf("%s_%s_metadata.csv", te.Experiment, te.Started.Format("20060102_150405")))
	if err := te.exportMetadata(metadataFile, finished); err != nil {
		return fmt.Errorf("failed to export metadata: %w", err)
	}

	log.WithFields(log.Fields{
		"filename": te.path,
		"rounds":   te.rounds,
		"rows":     te.rows,
	}).Info("Exported trial records to CSV")

	return nil
}

// exportMetadata exports run metadata to a CSV file
func (te *TrialExport) exportMetadata(filename string, finished time.Time) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	// Write header
	if err := writer.Write([]string{"Property", "Value"}); err != nil {
		return err
	}

	metadata := [][]string{
		{"experiment", te.Experiment},
		{"checksum", te.Checksum},
		{"run_started", te.Started.Format(time.RFC3339)},
		{"run_finished", finished.Format(time.RFC3339)},
		{"rounds", strconv.Itoa(te.rounds)},
		{"trials", strconv.Itoa(te.rows)},
	}

	for _, row := range metadata {
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
