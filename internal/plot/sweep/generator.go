package sweep

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"text/template"
	"time"

	"pythia-bench/internal/plot/database"
	"pythia-bench/internal/plot/sweep/mappings"
	plotTemplate "pythia-bench/internal/plot/sweep/templates/plot"
	wrapperTemplate "pythia-bench/internal/plot/sweep/templates/wrapper"

	"github.com/sirupsen/logrus"
)

// RoundSource is where a sweep reads its rounds from: InfluxDB or a spool
// artifact.
type RoundSource interface {
	QueryRounds(ctx context.Context, runID string) ([]database.RoundPoint, error)
	QueryMetaData(ctx context.Context, runID string) (*database.MetaData, error)
}

// SweepPlotGenerator plots a round field against the requested eviction set
// size, one series per strategy.
type SweepPlotGenerator struct {
	source RoundSource
	logger *logrus.Logger
}

func NewSweepPlotGenerator(source RoundSource, logger *logrus.Logger) *SweepPlotGenerator {
	return &SweepPlotGenerator{
		source: source,
		logger: logger,
	}
}

type PlotOptions struct {
	RunID  string
	YField string
	// SkipNotEnough drops under-filled rounds from the averages.
	SkipNotEnough bool
}

func (g *SweepPlotGenerator) Generate(ctx context.Context, opts PlotOptions) (string, string, error) {
	g.logger.WithFields(logrus.Fields{
		"run_id":  opts.RunID,
		"y_field": opts.YField,
	}).Info("Generating sweep plot")

	yMapping, ok := mappings.GetFieldMapping(opts.YField)
	if !ok {
		return "", "", fmt.Errorf("unknown Y field: %s", opts.YField)
	}

	meta, err := g.source.QueryMetaData(ctx, opts.RunID)
	if err != nil {
		return "", "", fmt.Errorf("failed to query metadata: %w", err)
	}

	points, err := g.source.QueryRounds(ctx, opts.RunID)
	if err != nil {
		return "", "", fmt.Errorf("failed to query rounds: %w", err)
	}
	if len(points) == 0 {
		return "", "", fmt.Errorf("no rounds found for run %s", opts.RunID)
	}

	plotData := g.preparePlotData(meta, points, opts, yMapping)
	if len(plotData.Plots) == 0 {
		return "", "", fmt.Errorf("run %s has no rounds with field %s", opts.RunID, opts.YField)
	}
	wrapperData := g.prepareWrapperData(meta, opts, yMapping)

	plotOutput, err := g.renderPlot(plotData)
	if err != nil {
		return "", "", fmt.Errorf("failed to render plot: %w", err)
	}

	wrapperOutput, err := g.renderWrapper(wrapperData)
	if err != nil {
		return "", "", fmt.Errorf("failed to render wrapper: %w", err)
	}

	g.logger.Info("Sweep plot generated successfully")
	return plotOutput, wrapperOutput, nil
}

type bucket struct {
	sum   float64
	count int
}

func (g *SweepPlotGenerator) preparePlotData(
	meta *database.MetaData,
	points []database.RoundPoint,
	opts PlotOptions,
	yMapping mappings.FieldMapping,
) *plotTemplate.PlotData {

	byStrategy := make(map[string]map[int]*bucket)
	rounds := make(map[string]int)
	for _, p := range points {
		if opts.SkipNotEnough && p.Status == "notenough" {
			continue
		}
		v, ok := p.Fields[opts.YField]
		if !ok || p.Requested <= 0 {
			continue
		}
		sizes, ok := byStrategy[p.Strategy]
		if !ok {
			sizes = make(map[int]*bucket)
			byStrategy[p.Strategy] = sizes
		}
		b, ok := sizes[p.Requested]
		if !ok {
			b = &bucket{}
			sizes[p.Requested] = b
		}
		b.sum += v * yMapping.Scale
		b.count++
		rounds[p.Strategy]++
	}

	var strategies []string
	for s := range byStrategy {
		strategies = append(strategies, s)
	}
	sort.Strings(strategies)

	yMin := math.Inf(1)
	yMax := math.Inf(-1)

	var plotSeries []plotTemplate.PlotSeries
	for i, strategy := range strategies {
		sizes := byStrategy[strategy]
		var keys []int
		for size := range sizes {
			keys = append(keys, size)
		}
		sort.Ints(keys)

		series := plotTemplate.PlotSeries{
			Strategy:    strategy,
			Rounds:      rounds[strategy],
			Style:       mappings.GetSeriesStyle(i).ToTikzOptions(),
			LegendEntry: strategy,
		}
		for _, size := range keys {
			b := sizes[size]
			mean := b.sum / float64(b.count)
			series.Coordinates = append(series.Coordinates, fmt.Sprintf("(%d,%.6f)", size, mean))
			yMin = math.Min(yMin, mean)
			yMax = math.Max(yMax, mean)
		}
		plotSeries = append(plotSeries, series)
	}

	yMinStr, yMaxStr := g.determineAxisLimits(yMapping, yMin, yMax)

	return &plotTemplate.PlotData{
		GeneratedDate:   time.Now().Format("2006-01-02 15:04:05"),
		RunID:           meta.RunID,
		Experiment:      meta.Experiment,
		Checksum:        meta.Checksum,
		Description:     meta.Description,
		RunStarted:      meta.RunStarted,
		RunFinished:     meta.RunFinished,
		DurationSeconds: meta.DurationSeconds,
		Rounds:          meta.Rounds,
		Successful:      meta.Successful,
		Failed:          meta.Failed,
		NotEnough:       meta.NotEnough,
		MeanAccuracy:    meta.MeanAccuracy,
		Hostname:        meta.Hostname,
		CPUModel:        meta.CPUModel,
		KernelVersion:   meta.KernelVersion,
		XLabel:          "Requested eviction set size",
		YLabel:          yMapping.Label,
		YMin:            yMinStr,
		YMax:            yMaxStr,
		Plots:           plotSeries,
	}
}

func (g *SweepPlotGenerator) determineAxisLimits(mapping mappings.FieldMapping, dataMin, dataMax float64) (string, string) {
	var minStr, maxStr string

	if minVal, ok := mapping.Min.(float64); ok {
		minStr = fmt.Sprintf("%.2f", minVal)
	} else if mapping.Min == "auto" {
		minStr = fmt.Sprintf("%.2f", dataMin*0.95)
	} else {
		minStr = "0"
	}

	if maxVal, ok := mapping.Max.(float64); ok {
		maxStr = fmt.Sprintf("%.2f", maxVal)
	} else if mapping.Max == "auto" {
		maxStr = fmt.Sprintf("%.2f", dataMax*1.05)
	} else {
		maxStr = "100"
	}

	return minStr, maxStr
}

func (g *SweepPlotGenerator) prepareWrapperData(meta *database.MetaData, opts PlotOptions, yMapping mappings.FieldMapping) *wrapperTemplate.WrapperData {
	return &wrapperTemplate.WrapperData{
		GeneratedDate: time.Now().Format("2006-01-02 15:04:05"),
		RunID:         meta.RunID,
		YField:        opts.YField,
		PlotFileName:  fmt.Sprintf("run-%s-%s.tikz", meta.RunID, opts.YField),
		ShortCaption:  yMapping.ShortLabel,
		Caption:       fmt.Sprintf("The %s per eviction set size and strategy", yMapping.ShortLabel),
	}
}

func (g *SweepPlotGenerator) renderPlot(data *plotTemplate.PlotData) (string, error) {
	tmpl, err := template.New("plot").Parse(plotTemplate.PlotTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse plot template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute plot template: %w", err)
	}

	return buf.String(), nil
}

func (g *SweepPlotGenerator) renderWrapper(data *wrapperTemplate.WrapperData) (string, error) {
	tmpl, err := template.New("wrapper").Parse(wrapperTemplate.WrapperTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse wrapper template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute wrapper template: %w", err)
	}

	return buf.String(), nil
}
