package config

import "testing"

func TestChecksum_IgnoresOutputSettings(t *testing.T) {
	a := Defaults()
	a.Experiment.Name = "x"
	b := a
	b.Experiment.LogDir = "/elsewhere"
	b.Data.DB.Host = "http://influx:8086"
	b.Rendezvous.Address = "10.0.0.1:11211"

	s1, err := Checksum(&a)
	if err != nil {
		t.Fatalf("Checksum(a): %v", err)
	}
	s2, err := Checksum(&b)
	if err != nil {
		t.Fatalf("Checksum(b): %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected same checksum, got %q vs %q", s1, s2)
	}
	if len(s1) != 6 {
		t.Fatalf("expected 6-char checksum, got %q (len=%d)", s1, len(s1))
	}
}

func TestChecksum_ChangesWhenExperimentChanges(t *testing.T) {
	cfg := Defaults()
	s1, err := Checksum(&cfg)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}

	cfg.Probe.Schedule = []ScheduleEntry{{Mode: "uniform", Strategy: "half"}}

	s2, err := Checksum(&cfg)
	if err != nil {
		t.Fatalf("Checksum after change: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("expected checksum to change, got %q", s1)
	}
}
