package database

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pythia-bench/internal/round"

	"github.com/sugawarayuuta/sonnet"
)

type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID      string `json:"run_id"`
	Experiment string `json:"experiment"`
	Checksum   string `json:"checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Metadata *RunMetadata    `json:"metadata"`
	Rounds   []*round.Report `json:"rounds"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("PYTHIA_BENCH_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// Collector keeps every report in memory for the spool artifact.
type Collector struct {
	mu      sync.Mutex
	reports []*round.Report
}

func (c *Collector) WriteReport(r *round.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *Collector) Reports() []*round.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*round.Report, len(c.reports))
	copy(out, c.reports)
	return out
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.Checksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%s_%s_%s.json.gz",
		artifact.RunID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	payload, err := sonnet.Marshal(artifact)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(payload); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// BuildSpoolArtifact constructs a spool artifact from the in-memory run results.
func BuildSpoolArtifact(metadata *RunMetadata, configContent string, reports []*round.Report, startTime, endTime time.Time) *SpoolArtifact {
	a := &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		StartTime:     startTime,
		EndTime:       endTime,
		ConfigContent: configContent,
		Metadata:      metadata,
		Rounds:        reports,
	}
	if metadata != nil {
		a.RunID = metadata.RunID
		a.Experiment = metadata.Experiment
		a.Checksum = metadata.Checksum
	}
	return a
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	var a SpoolArtifact
	if err := sonnet.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
