package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/game"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/world"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "navgraph",
		Short: "Streamed navigation graphs with time-sliced path search",
		Long: `navgraph streams a procedural sector world into a runtime navigation
graph, stitches the sectors together and runs agents that plan and walk
paths over it under a per-frame time budget.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (empty = use defaults)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the headless simulation",
		RunE:  runSimulation,
	}
	runCmd.Flags().Bool("log-stats", false, "Output stats via slog")
	runCmd.Flags().Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	runCmd.Flags().String("output-dir", "", "Output directory for CSV logs and config snapshot")
	runCmd.Flags().Int64("seed", 0, "RNG seed (0 = time-based)")
	runCmd.Flags().Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	runCmd.Flags().Int("steps-per-update", 1, "Simulation ticks per update call")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = disabled)")
	runCmd.Flags().Bool("debug", false, "Enable debug logging")

	blobCmd := &cobra.Command{
		Use:   "blob <x> <y> <file>",
		Short: "Export a sector graph as a blob and verify it decodes",
		Args:  cobra.ExactArgs(3),
		RunE:  runBlob,
	}
	blobCmd.Flags().Bool("big-endian", false, "Write the blob in big-endian byte order")

	configCmd := &cobra.Command{
		Use:   "config [file]",
		Short: "Print or write the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfig,
	}

	rootCmd.AddCommand(runCmd, blobCmd, configCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if err := config.Init(path); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return config.Cfg(), nil
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logStats, _ := cmd.Flags().GetBool("log-stats")
	statsWindow, _ := cmd.Flags().GetFloat64("stats-window")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	seed, _ := cmd.Flags().GetInt64("seed")
	maxTicks, _ := cmd.Flags().GetInt("max-ticks")
	steps, _ := cmd.Flags().GetInt("steps-per-update")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	debug, _ := cmd.Flags().GetBool("debug")

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	g, err := game.NewGameWithOptions(cfg, game.Options{
		Seed:           seed,
		LogStats:       logStats,
		StatsWindowSec: statsWindow,
		OutputDir:      outputDir,
		StepsPerUpdate: steps,
		Logger:         logger,
		Registerer:     reg,
	})
	if err != nil {
		return err
	}

	logger.Info("starting headless simulation",
		"seed", seed,
		"bots", cfg.Bots.Count,
		"sectors_x", cfg.World.SectorsX,
		"sectors_y", cfg.World.SectorsY,
		"max_ticks", maxTicks,
		"steps_per_update", steps,
	)

	runErr := g.Run(ctx, maxTicks)
	if errors.Is(runErr, context.Canceled) {
		logger.Info("interrupted", "tick", g.Tick())
		runErr = nil
	} else if runErr == nil {
		logger.Info("max ticks reached", "tick", g.Tick())
	}
	return errors.Join(runErr, g.Unload())
}

func runBlob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var x, y int32
	if _, err := fmt.Sscan(args[0], &x); err != nil {
		return fmt.Errorf("sector x: %w", err)
	}
	if _, err := fmt.Sscan(args[1], &y); err != nil {
		return fmt.Errorf("sector y: %w", err)
	}
	bigEndian, _ := cmd.Flags().GetBool("big-endian")
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}

	p := world.SectorPos{X: x, Y: y}
	g, err := world.NewGenerator(cfg).Sector(p)
	if err != nil {
		return fmt.Errorf("generating %s: %w", p, err)
	}
	var buf bytes.Buffer
	if err := graph.EncodeGraph(&buf, g, order); err != nil {
		return fmt.Errorf("encoding %s: %w", p, err)
	}
	back, err := graph.DecodeGraph(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("decoding %s: %w", p, err)
	}
	if back.VertexCount() != g.VertexCount() || back.EdgeCount() != g.EdgeCount() {
		return fmt.Errorf("%s: blob round trip changed the graph", p)
	}
	if err := os.WriteFile(args[2], buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing blob: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s guid=%s cells=%d vertices=%d edges=%d bytes=%d\n",
		p, back.Guid, len(back.Cells), back.VertexCount(), back.EdgeCount(), buf.Len())
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		return cfg.WriteYAML(args[0])
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
