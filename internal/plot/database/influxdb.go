package database

import (
	"context"
	"fmt"
	"os"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"
)

type PlotDBClient struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	bucket   string
	org      string
	logger   *logrus.Logger
}

// RoundPoint is one attacker round as read back for plotting.
type RoundPoint struct {
	Round     int
	Mode      string
	Strategy  string
	Status    string
	Requested int
	Achieved  int
	Fields    map[string]float64
}

type MetaData struct {
	RunID           string
	Experiment      string
	Description     string
	Checksum        string
	RunStarted      string
	RunFinished     string
	DurationSeconds int64
	Rounds          int64
	Successful      int64
	Failed          int64
	NotEnough       int64
	MeanAccuracy    float64
	Hostname        string
	CPUModel        string
	KernelVersion   string
}

func NewPlotDBClient(logger *logrus.Logger) (*PlotDBClient, error) {
	host := os.Getenv("INFLUXDB_HOST")
	token := os.Getenv("INFLUXDB_TOKEN")
	org := os.Getenv("INFLUXDB_ORG")
	bucket := os.Getenv("INFLUXDB_BUCKET")

	if host == "" || token == "" || org == "" || bucket == "" {
		return nil, fmt.Errorf("missing required environment variables for InfluxDB connection")
	}

	client := influxdb2.NewClient(host, token)
	queryAPI := client.QueryAPI(org)

	return &PlotDBClient{
		client:   client,
		queryAPI: queryAPI,
		bucket:   bucket,
		org:      org,
		logger:   logger,
	}, nil
}

func (c *PlotDBClient) Close() {
	c.client.Close()
}

func (c *PlotDBClient) QueryRounds(ctx context.Context, runID string) ([]RoundPoint, error) {
	c.logger.WithField("run_id", runID).Debug("Querying round points")

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: 0)
		|> filter(fn: (r) => r["_measurement"] == "pythia_round")
		|> filter(fn: (r) => r["run_id"] == "%s")
		|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		|> sort(columns: ["_time"])
	`, c.bucket, runID)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var points []RoundPoint
	for result.Next() {
		record := result.Record()

		p := RoundPoint{Fields: make(map[string]float64)}
		if v, ok := record.ValueByKey("round").(int64); ok {
			p.Round = int(v)
		}
		if v, ok := record.ValueByKey("requested").(int64); ok {
			p.Requested = int(v)
		}
		if v, ok := record.ValueByKey("achieved").(int64); ok {
			p.Achieved = int(v)
		}
		if v, ok := record.ValueByKey("mode").(string); ok {
			p.Mode = v
		}
		if v, ok := record.ValueByKey("strategy").(string); ok {
			p.Strategy = v
		}
		if v, ok := record.ValueByKey("status").(string); ok {
			p.Status = v
		}
		for _, field := range PlotFields {
			switch v := record.ValueByKey(field).(type) {
			case float64:
				p.Fields[field] = v
			case int64:
				p.Fields[field] = float64(v)
			}
		}
		p.Fields["achieved"] = float64(p.Achieved)

		points = append(points, p)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("query parsing failed: %w", result.Err())
	}

	c.logger.WithField("rounds", len(points)).Debug("Query completed")
	return points, nil
}

func (c *PlotDBClient) QueryMetaData(ctx context.Context, runID string) (*MetaData, error) {
	c.logger.WithField("run_id", runID).Debug("Querying run metadata")

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: 0)
		|> filter(fn: (r) => r["_measurement"] == "pythia_meta")
		|> filter(fn: (r) => r["run_id"] == "%s")
		|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
	`, c.bucket, runID)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var meta *MetaData
	if result.Next() {
		record := result.Record()
		meta = &MetaData{RunID: runID}

		if v, ok := record.ValueByKey("experiment").(string); ok {
			meta.Experiment = v
		}
		if v, ok := record.ValueByKey("description").(string); ok {
			meta.Description = v
		}
		if v, ok := record.ValueByKey("checksum").(string); ok {
			meta.Checksum = v
		}
		if v, ok := record.ValueByKey("run_started").(string); ok {
			meta.RunStarted = v
		}
		if v, ok := record.ValueByKey("run_finished").(string); ok {
			meta.RunFinished = v
		}
		if v, ok := record.ValueByKey("duration_seconds").(int64); ok {
			meta.DurationSeconds = v
		}
		if v, ok := record.ValueByKey("rounds").(int64); ok {
			meta.Rounds = v
		}
		if v, ok := record.ValueByKey("successful").(int64); ok {
			meta.Successful = v
		}
		if v, ok := record.ValueByKey("failed").(int64); ok {
			meta.Failed = v
		}
		if v, ok := record.ValueByKey("not_enough").(int64); ok {
			meta.NotEnough = v
		}
		if v, ok := record.ValueByKey("mean_accuracy").(float64); ok {
			meta.MeanAccuracy = v
		}
		if v, ok := record.ValueByKey("hostname").(string); ok {
			meta.Hostname = v
		}
		if v, ok := record.ValueByKey("cpu_model").(string); ok {
			meta.CPUModel = v
		}
		if v, ok := record.ValueByKey("kernel_version").(string); ok {
			meta.KernelVersion = v
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("query parsing failed: %w", result.Err())
	}

	if meta == nil {
		return nil, fmt.Errorf("no metadata found for run_id %s", runID)
	}

	c.logger.Debug("Metadata query completed")
	return meta, nil
}
