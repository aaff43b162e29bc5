package main

import (
	"math"

	"github.com/pthm-cable/navgraph/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Integer bool    // Rounded before it is applied
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of search scheduling parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "edges_per_slice", Path: "astar.edges_per_slice", Min: 16, Max: 1024, Integer: true},
			{Name: "task_budget_ms", Path: "astar.task_budget_ms", Min: 0.25, Max: 4},
			{Name: "max_calls_per_frame", Path: "astar.max_calls_per_frame", Min: 1, Max: 64, Integer: true},
			{Name: "diff_altitude_max", Path: "astar.diff_altitude_max", Min: 1, Max: 6},
			{Name: "repath_period", Path: "bots.repath_period", Min: 0.25, Max: 4},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds, rounding integer parameters.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := math.Min(math.Max(v[i], spec.Min), spec.Max)
		if spec.Integer {
			val = math.Round(val)
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig applies parameter values to cfg and refreshes its derived values.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) error {
	clamped := pv.Clamp(values)
	for i, spec := range pv.Specs {
		v := clamped[i]
		switch spec.Path {
		case "astar.edges_per_slice":
			cfg.Astar.EdgesPerSlice = int(v)
		case "astar.task_budget_ms":
			cfg.Astar.TaskBudgetMS = v
		case "astar.max_calls_per_frame":
			cfg.Astar.MaxCallsPerFrame = int(v)
		case "astar.diff_altitude_max":
			cfg.Astar.DiffAltitudeMax = v
		case "bots.repath_period":
			cfg.Bots.RepathPeriod = v
		}
	}
	return cfg.Recompute()
}

// ExtractFromConfig extracts current parameter values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		switch spec.Path {
		case "astar.edges_per_slice":
			v[i] = float64(cfg.Astar.EdgesPerSlice)
		case "astar.task_budget_ms":
			v[i] = cfg.Astar.TaskBudgetMS
		case "astar.max_calls_per_frame":
			v[i] = float64(cfg.Astar.MaxCallsPerFrame)
		case "astar.diff_altitude_max":
			v[i] = cfg.Astar.DiffAltitudeMax
		case "bots.repath_period":
			v[i] = cfg.Bots.RepathPeriod
		}
	}
	return v
}
