package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/game"
	"github.com/pthm-cable/navgraph/telemetry"
)

// Fitness weights. Arrivals per agent-minute are rewarded, the rest is penalized.
const (
	weightLatency  = 0.05 // per frame of p90 search latency
	weightNotFound = 2.0  // per unit of failed search rate
	weightTick     = 0.5  // per millisecond of average tick time

	warmupWindows = 1 // skip the first windows while sectors stream in
)

// Score summarizes the navigation behaviour of one or more runs.
type Score struct {
	ArrivalsPerBotMin  float64
	FramesPerSearchP90 float64
	NotFoundRate       float64
	AvgTickMS          float64
}

// Fitness is the scalar to minimize.
func (s Score) Fitness() float64 {
	return -s.ArrivalsPerBotMin +
		weightLatency*s.FramesPerSearchP90 +
		weightNotFound*s.NotFoundRate +
		weightTick*s.AvgTickMS
}

func (s Score) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("arrivals_per_bot_min", s.ArrivalsPerBotMin),
		slog.Float64("frames_per_search_p90", s.FramesPerSearchP90),
		slog.Float64("not_found_rate", s.NotFoundRate),
		slog.Float64("avg_tick_ms", s.AvgTickMS),
	)
}

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params      *ParamVector
	maxTicks    int
	seeds       []int64
	baseConfig  config.Config
	statsWindow float64
	parallel    int

	mu        sync.Mutex
	lastScore Score
}

// NewFitnessEvaluator creates a new evaluator. Tick durations are wall clock,
// so seeds run one at a time unless parallel is above 1.
func NewFitnessEvaluator(params *ParamVector, maxTicks int, seeds []int64, baseCfg *config.Config, parallel int) *FitnessEvaluator {
	if parallel < 1 {
		parallel = 1
	}
	return &FitnessEvaluator{
		params:      params,
		maxTicks:    maxTicks,
		seeds:       seeds,
		baseConfig:  *baseCfg,
		statsWindow: 5.0,
		parallel:    parallel,
	}
}

// LastScore returns the score from the most recent evaluation.
func (fe *FitnessEvaluator) LastScore() Score {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastScore
}

// runResult holds the windows flushed by a single simulation run.
type runResult struct {
	bots    int
	windows []telemetry.WindowStats
	perf    []telemetry.PerfStats
}

// Config returns a copy of the base config with x applied.
func (fe *FitnessEvaluator) Config(x []float64) (*config.Config, error) {
	cfg := fe.baseConfig
	if err := fe.params.ApplyToConfig(&cfg, x); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Evaluate computes fitness for a parameter vector (lower = better).
// A vector that cannot run scores +Inf.
func (fe *FitnessEvaluator) Evaluate(ctx context.Context, x []float64) float64 {
	results := make([]*runResult, len(fe.seeds))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(fe.parallel)
	for i, seed := range fe.seeds {
		eg.Go(func() error {
			cfg, err := fe.Config(x)
			if err != nil {
				return err
			}
			r, err := fe.runSimulation(egctx, cfg, seed)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		slog.Warn("evaluation failed", "error", err)
		return math.Inf(1)
	}

	score := computeScore(results)
	fe.mu.Lock()
	fe.lastScore = score
	fe.mu.Unlock()
	return score.Fitness()
}

// runSimulation executes a single headless simulation run of maxTicks frames.
func (fe *FitnessEvaluator) runSimulation(ctx context.Context, cfg *config.Config, seed int64) (*runResult, error) {
	result := &runResult{bots: cfg.Bots.Count}
	g, err := game.NewGameWithOptions(cfg, game.Options{
		Seed:           seed,
		StatsWindowSec: fe.statsWindow,
		StepsPerUpdate: 1,
		StatsCallback: func(ws telemetry.WindowStats, ps telemetry.PerfStats) {
			result.windows = append(result.windows, ws)
			result.perf = append(result.perf, ps)
		},
	})
	if err != nil {
		return nil, err
	}
	runErr := g.Run(ctx, fe.maxTicks)
	if err := g.Unload(); err != nil && runErr == nil {
		runErr = err
	}
	return result, runErr
}

// computeScore aggregates the windows of every run past warmup.
func computeScore(results []*runResult) Score {
	var arrivals, found, notFound int
	var botMinutes, latencySum, tickSum float64
	var latencyCount, tickCount int

	for _, r := range results {
		if r == nil || len(r.windows) <= warmupWindows {
			continue
		}
		start := r.windows[warmupWindows-1].SimTimeSec
		end := r.windows[len(r.windows)-1].SimTimeSec
		botMinutes += float64(r.bots) * (end - start) / 60

		for i, w := range r.windows[warmupWindows:] {
			arrivals += w.Arrivals
			found += w.PathsFound
			notFound += w.PathsNotFound
			if w.PathsFound > 0 {
				latencySum += w.FramesPerSearchP90
				latencyCount++
			}
			if p := r.perf[warmupWindows+i]; p.AvgTickDuration > 0 {
				tickSum += float64(p.AvgTickDuration) / float64(time.Millisecond)
				tickCount++
			}
		}
	}

	var s Score
	if botMinutes > 0 {
		s.ArrivalsPerBotMin = float64(arrivals) / botMinutes
	}
	if latencyCount > 0 {
		s.FramesPerSearchP90 = latencySum / float64(latencyCount)
	}
	if found+notFound > 0 {
		s.NotFoundRate = float64(notFound) / float64(found+notFound)
	}
	if tickCount > 0 {
		s.AvgTickMS = tickSum / float64(tickCount)
	}
	return s
}
