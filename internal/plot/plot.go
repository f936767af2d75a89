package plot

import (
	"context"
	"fmt"

	rundb "pythia-bench/internal/database"
	"pythia-bench/internal/logging"
	"pythia-bench/internal/plot/database"
	"pythia-bench/internal/plot/sweep"

	"github.com/sirupsen/logrus"
)

type PlotManager struct {
	dbClient       *database.PlotDBClient
	sweepGenerator *sweep.SweepPlotGenerator
	logger         *logrus.Logger
}

// NewPlotManager reads rounds from the InfluxDB named by the INFLUXDB_*
// environment variables.
func NewPlotManager() (*PlotManager, error) {
	logger := logging.GetLogger()

	dbClient, err := database.NewPlotDBClient(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}

	return &PlotManager{
		dbClient:       dbClient,
		sweepGenerator: sweep.NewSweepPlotGenerator(dbClient, logger),
		logger:         logger,
	}, nil
}

// NewSpoolPlotManager reads rounds from a spool artifact on disk.
func NewSpoolPlotManager(path string) (*PlotManager, error) {
	logger := logging.GetLogger()

	artifact, err := rundb.ReadSpoolArtifact(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool artifact: %w", err)
	}

	return &PlotManager{
		sweepGenerator: sweep.NewSweepPlotGenerator(database.NewSpoolSource(artifact), logger),
		logger:         logger,
	}, nil
}

func (pm *PlotManager) Close() {
	if pm.dbClient != nil {
		pm.dbClient.Close()
	}
}

func (pm *PlotManager) GenerateSweepPlot(runID, yField string, skipNotEnough bool) (plotTikz, wrapperTex string, err error) {
	ctx := context.Background()

	opts := sweep.PlotOptions{
		RunID:         runID,
		YField:        yField,
		SkipNotEnough: skipNotEnough,
	}

	return pm.sweepGenerator.Generate(ctx, opts)
}
