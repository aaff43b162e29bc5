// Package main provides CMA-ES optimization of the path search scheduling
// parameters: how much of each frame the planner may spend, and how often
// agents revalidate their paths.
package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/navgraph/config"
)

// evalRecord is one row of optimize_log.csv. Parameter columns hold the
// clamped values the run actually used.
type evalRecord struct {
	Eval               int     `csv:"eval"`
	Fitness            float64 `csv:"fitness"`
	ArrivalsPerBotMin  float64 `csv:"arrivals_per_bot_min"`
	FramesPerSearchP90 float64 `csv:"frames_per_search_p90"`
	NotFoundRate       float64 `csv:"not_found_rate"`
	AvgTickMS          float64 `csv:"avg_tick_ms"`
	EdgesPerSlice      int     `csv:"edges_per_slice"`
	TaskBudgetMS       float64 `csv:"task_budget_ms"`
	MaxCallsPerFrame   int     `csv:"max_calls_per_frame"`
	DiffAltitudeMax    float64 `csv:"diff_altitude_max"`
	RepathPeriod       float64 `csv:"repath_period"`
}

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func main() {
	cmd := &cobra.Command{
		Use:          "optimize",
		Short:        "Tune path search scheduling with CMA-ES",
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().String("config", "", "Base config YAML file (empty = use defaults)")
	cmd.Flags().Int("max-ticks", 2400, "Simulation duration per run in ticks")
	cmd.Flags().Int("seeds", 3, "Number of seeds per evaluation")
	cmd.Flags().Int("max-evals", 200, "Maximum number of evaluations")
	cmd.Flags().Int("population", 0, "CMA-ES population size (0 = auto)")
	cmd.Flags().Int("parallel", 1, "Seeds evaluated concurrently")
	cmd.Flags().String("output", "", "Output directory for results")
	_ = cmd.MarkFlagRequired("output")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	maxTicks, _ := cmd.Flags().GetInt("max-ticks")
	seeds, _ := cmd.Flags().GetInt("seeds")
	maxEvals, _ := cmd.Flags().GetInt("max-evals")
	population, _ := cmd.Flags().GetInt("population")
	parallel, _ := cmd.Flags().GetInt("parallel")
	outputDir, _ := cmd.Flags().GetString("output")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := config.Init(configPath); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	baseCfg := config.Cfg()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	params := NewParamVector()
	evalSeeds := make([]int64, seeds)
	for i := range evalSeeds {
		evalSeeds[i] = int64(i*1000 + 42)
	}
	evaluator := NewFitnessEvaluator(params, maxTicks, evalSeeds, baseCfg, parallel)

	dim := params.Dim()
	initX := params.Normalize(params.Clamp(params.ExtractFromConfig(baseCfg)))

	popSize := population
	if popSize == 0 {
		// Auto-size: 4 + floor(3*ln(n))
		popSize = 4 + int(3*math.Log(float64(dim)))
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Concurrent:      0,
	}

	logPath := filepath.Join(outputDir, "optimize_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	evalCount := 0
	bestFitness := math.Inf(1)
	var bestParams []float64
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if ctx.Err() != nil {
				return math.Inf(1)
			}
			raw := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(ctx, raw)
			score := evaluator.LastScore()
			evalCount++

			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = raw
			}

			if cfg, err := evaluator.Config(raw); err == nil {
				rec := []evalRecord{{
					Eval:               evalCount,
					Fitness:            fitness,
					ArrivalsPerBotMin:  score.ArrivalsPerBotMin,
					FramesPerSearchP90: score.FramesPerSearchP90,
					NotFoundRate:       score.NotFoundRate,
					AvgTickMS:          score.AvgTickMS,
					EdgesPerSlice:      cfg.Astar.EdgesPerSlice,
					TaskBudgetMS:       cfg.Astar.TaskBudgetMS,
					MaxCallsPerFrame:   cfg.Astar.MaxCallsPerFrame,
					DiffAltitudeMax:    cfg.Astar.DiffAltitudeMax,
					RepathPeriod:       cfg.Bots.RepathPeriod,
				}}
				write := gocsv.MarshalWithoutHeaders
				if evalCount == 1 {
					write = gocsv.Marshal
				}
				if err := write(&rec, logFile); err != nil {
					logger.Error("failed to write eval log", "error", err)
				}
			}

			elapsed := time.Since(startTime)
			avgPerEval := elapsed / time.Duration(evalCount)
			remaining := time.Duration(maxEvals-evalCount) * avgPerEval
			logger.Info("eval",
				"n", evalCount,
				"of", maxEvals,
				"fitness", fitness,
				"best", bestFitness,
				"score", score,
				"elapsed", formatDuration(elapsed),
				"eta", formatDuration(remaining),
			)
			return fitness
		},
	}

	logger.Info("starting CMA-ES optimization",
		"params", dim,
		"population", popSize,
		"max_evals", maxEvals,
		"seeds", seeds,
		"ticks", maxTicks,
	)

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		logger.Warn("optimization ended", "error", err)
	}
	if bestParams == nil && result != nil {
		bestParams = params.Clamp(params.Denormalize(result.X))
	}
	if bestParams == nil {
		return fmt.Errorf("no evaluation completed")
	}

	logger.Info("optimization complete",
		"evals", evalCount,
		"duration", formatDuration(time.Since(startTime)),
		"best_fitness", bestFitness,
	)
	for i, spec := range params.Specs {
		logger.Info("best parameter", "name", spec.Name, "path", spec.Path, "value", bestParams[i])
	}

	bestCfg, err := evaluator.Config(bestParams)
	if err != nil {
		return err
	}
	configOutPath := filepath.Join(outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		return fmt.Errorf("writing best config: %w", err)
	}
	logger.Info("best config saved", "path", configOutPath)
	return nil
}

