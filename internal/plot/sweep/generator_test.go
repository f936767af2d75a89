package sweep

import (
	"context"
	"io"
	"strings"
	"testing"

	"pythia-bench/internal/plot/database"
	"pythia-bench/internal/round"

	"github.com/sirupsen/logrus"
)

type fakeSource struct {
	points []database.RoundPoint
}

func (f *fakeSource) QueryRounds(context.Context, string) ([]database.RoundPoint, error) {
	return f.points, nil
}

func (f *fakeSource) QueryMetaData(_ context.Context, runID string) (*database.MetaData, error) {
	return &database.MetaData{RunID: runID, Experiment: "exp", Checksum: "abc123"}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestGenerate_AveragesPerSizeAndStrategy(t *testing.T) {
	reports := []*round.Report{
		{Round: 0, Strategy: "pythia", Status: round.StatusSuccess, Requested: 64, Achieved: 64, Accuracy: 0.9},
		{Round: 1, Strategy: "pythia", Status: round.StatusSuccess, Requested: 64, Achieved: 64, Accuracy: 0.7},
		{Round: 2, Strategy: "pythia", Status: round.StatusSuccess, Requested: 128, Achieved: 128, Accuracy: 1.0},
		{Round: 3, Strategy: "stride", Status: round.StatusNotEnough, Requested: 64, Achieved: 10, Accuracy: 0.5},
	}
	g := NewSweepPlotGenerator(&fakeSource{points: database.RoundPointsFromReports(reports)}, quietLogger())

	plotTikz, wrapperTex, err := g.Generate(context.Background(), PlotOptions{RunID: "run1", YField: "accuracy"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(plotTikz, "(64,80.000000)") || !strings.Contains(plotTikz, "(128,100.000000)") {
		t.Fatalf("pythia coordinates missing:\n%s", plotTikz)
	}
	if !strings.Contains(plotTikz, "% Strategy: stride (1 rounds)") {
		t.Fatalf("stride series missing:\n%s", plotTikz)
	}
	if !strings.Contains(wrapperTex, "run-run1-accuracy.tikz") {
		t.Fatalf("unexpected wrapper:\n%s", wrapperTex)
	}

	plotTikz, _, err = g.Generate(context.Background(), PlotOptions{RunID: "run1", YField: "accuracy", SkipNotEnough: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(plotTikz, "Strategy: stride") {
		t.Fatalf("notenough rounds should be skipped:\n%s", plotTikz)
	}
}

func TestGenerate_UnknownField(t *testing.T) {
	g := NewSweepPlotGenerator(&fakeSource{}, quietLogger())
	if _, _, err := g.Generate(context.Background(), PlotOptions{RunID: "run1", YField: "ipc"}); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestGenerate_NoRounds(t *testing.T) {
	g := NewSweepPlotGenerator(&fakeSource{}, quietLogger())
	if _, _, err := g.Generate(context.Background(), PlotOptions{RunID: "run1", YField: "accuracy"}); err == nil {
		t.Fatalf("expected error for empty run")
	}
}
