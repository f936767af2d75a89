package mappings

// FieldMapping describes how one round field is labelled and bounded. Min and
// Max are either a float64 or "auto".
type FieldMapping struct {
	Label      string
	ShortLabel string
	Scale      float64
	Min        interface{}
	Max        interface{}
}

var fieldMappings = map[string]FieldMapping{
	"accuracy":          {Label: "Accuracy (\\%)", ShortLabel: "Accuracy", Scale: 100, Min: 0.0, Max: 100.0},
	"threshold_ns":      {Label: "Threshold (ns)", ShortLabel: "Threshold", Scale: 1, Min: "auto", Max: "auto"},
	"observed_hit_ns":   {Label: "Reload latency after access (ns)", ShortLabel: "Hit latency", Scale: 1, Min: "auto", Max: "auto"},
	"observed_evict_ns": {Label: "Reload latency without access (ns)", ShortLabel: "Evict latency", Scale: 1, Min: "auto", Max: "auto"},
	"evict_latency_us":  {Label: "Eviction time ($\\mu$s)", ShortLabel: "Eviction time", Scale: 1, Min: 0.0, Max: "auto"},
	"achieved":          {Label: "Eviction set entries", ShortLabel: "Set size", Scale: 1, Min: 0.0, Max: "auto"},
}

func GetFieldMapping(field string) (FieldMapping, bool) {
	m, ok := fieldMappings[field]
	return m, ok
}
