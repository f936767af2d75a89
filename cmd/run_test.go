package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pythia-bench/internal/database"
)

func writeSimConfig(t *testing.T, dir string) string {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("..", "configs", "simulate.yml"))
	if err != nil {
		t.Fatalf("read example config: %v", err)
	}
	content := strings.NewReplacer(
		"rounds: 16", "rounds: 3",
		"trials: 100", "trials: 10",
		"log_dir: logs", "log_dir: "+filepath.Join(dir, "logs"),
		"spool_dir: spool", "spool_dir: "+filepath.Join(dir, "spool")+"\n  trials_dir: "+filepath.Join(dir, "trials"),
	).Replace(string(body))
	path := filepath.Join(dir, "sim.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestValidateConfig_ExampleConfig(t *testing.T) {
	if err := validateConfig(filepath.Join("..", "configs", "simulate.yml")); err != nil {
		t.Fatalf("example config should validate: %v", err)
	}
}

func TestRunSimulation_WritesLogAndSpool(t *testing.T) {
	dir := t.TempDir()
	path := writeSimConfig(t, dir)

	if err := runSimulation(path); err != nil {
		t.Fatalf("runSimulation: %v", err)
	}

	logs, err := filepath.Glob(filepath.Join(dir, "logs", "sim-stride-*.log"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one round log, got %v (%v)", logs, err)
	}
	body, err := os.ReadFile(logs[0])
	if err != nil {
		t.Fatalf("read round log: %v", err)
	}
	if lines := strings.Count(string(body), "\n"); lines != 3 {
		t.Fatalf("expected 3 round lines, got %d", lines)
	}

	spooled, err := filepath.Glob(filepath.Join(dir, "spool", "*.json.gz"))
	if err != nil || len(spooled) != 1 {
		t.Fatalf("expected one spool artifact, got %v (%v)", spooled, err)
	}
	artifact, err := database.ReadSpoolArtifact(spooled[0])
	if err != nil {
		t.Fatalf("ReadSpoolArtifact: %v", err)
	}
	if len(artifact.Rounds) != 3 {
		t.Fatalf("expected 3 rounds in artifact, got %d", len(artifact.Rounds))
	}
	if artifact.Metadata == nil || artifact.Metadata.Role != roleAttacker {
		t.Fatalf("unexpected metadata %+v", artifact.Metadata)
	}
	if artifact.Experiment != "sim-stride" {
		t.Fatalf("unexpected experiment %q", artifact.Experiment)
	}

	trials, err := filepath.Glob(filepath.Join(dir, "trials", "sim-stride_*_trials.csv"))
	if err != nil || len(trials) != 1 {
		t.Fatalf("expected one trial export, got %v (%v)", trials, err)
	}
	rows, err := os.ReadFile(trials[0])
	if err != nil {
		t.Fatalf("read trial export: %v", err)
	}
	if n := strings.Count(string(rows), "\n"); n != 1+3*10 {
		t.Fatalf("expected header plus 30 trial rows, got %d lines", n)
	}
}

func TestRunRole_SimulatedProviderIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeSimConfig(t, dir)
	err := runRole(path, roleServer, 0)
	if err == nil || !strings.Contains(err.Error(), "simulate") {
		t.Fatalf("expected a pointer to simulate, got %v", err)
	}
}

func TestRootCommand_RequiresConfig(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"attacker"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil {
		t.Fatalf("expected missing --config to fail")
	}
}
