// Package main provides the command-line collaborator of the simulation
// engine: it sources price data and a run definition, selects a backend,
// executes the run (or a cross-backend parity check), and writes the result
// as JSON. The engine core itself does no I/O.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantforge/tradesim/internal/backend"
	"github.com/quantforge/tradesim/internal/data"
	"github.com/quantforge/tradesim/internal/parity"
	"github.com/quantforge/tradesim/internal/sweep"
	"github.com/quantforge/tradesim/internal/telemetry"
	"github.com/quantforge/tradesim/pkg/types"
)

// runConfig is the YAML run definition loaded through viper. It carries
// everything a SimulationInput needs except the series themselves, which come
// from the referenced CSV files.
type runConfig struct {
	Data struct {
		Candles string `mapstructure:"candles"`
		Signals string `mapstructure:"signals"`
	} `mapstructure:"data"`

	Capital      float64 `mapstructure:"capital"`
	Leverage     float64 `mapstructure:"leverage"`
	FeeRate      float64 `mapstructure:"fee_rate"`
	SlippageRate float64 `mapstructure:"slippage_rate"`
	Direction    string  `mapstructure:"direction"`
	Pyramiding   int     `mapstructure:"pyramiding"`
	MaxDuration  int     `mapstructure:"max_duration_bars"`
	ATRPeriod    int     `mapstructure:"atr_period"`
	BarsPerYear  float64 `mapstructure:"bars_per_year"`

	Sizing     types.SizingConfig     `mapstructure:"sizing"`
	Stop       types.StopConfig       `mapstructure:"stop"`
	TakeProfit types.TakeProfitConfig `mapstructure:"take_profit"`
	Trailing   types.TrailingConfig   `mapstructure:"trailing"`
	Breakeven  types.BreakevenConfig  `mapstructure:"breakeven"`
	DCA        types.DCAConfig        `mapstructure:"dca"`
	MonteCarlo types.MonteCarloConfig `mapstructure:"monte_carlo"`
}

func main() {
	configPath := flag.String("config", "run.yaml", "Run definition file")
	backendName := flag.String("backend", backend.NameReference, "Execution backend")
	outPath := flag.String("out", "result.json", "Output file")
	parityMode := flag.Bool("parity", false, "Run every registered backend and compare against the reference")
	sweepConfigs := flag.String("sweep", "", "Comma-separated run definition files to execute as one sweep")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if err := run(logger, *configPath, *backendName, *outPath, *parityMode, *sweepConfigs); err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, configPath, backendName, outPath string, parityMode bool, sweepConfigs string) error {
	registry := backend.NewDefaultRegistry(logger)

	if sweepConfigs != "" {
		return runSweep(logger, registry, backendName, strings.Split(sweepConfigs, ","), outPath)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	input, err := buildInput(logger, cfg)
	if err != nil {
		return err
	}

	if parityMode {
		return runParity(logger, registry, input, outPath)
	}

	out, err := registry.Run(backendName, input)
	if err != nil {
		return err
	}

	logger.Info("simulation complete",
		zap.String("backend", out.Backend),
		zap.Int("trades", len(out.Trades)),
		zap.Float64("netProfit", out.Metrics.NetProfit),
		zap.Float64("maxDrawdownPct", out.Metrics.MaxDrawdownPct),
		zap.Duration("duration", out.Duration),
	)
	return writeJSON(outPath, out)
}

// sweepResult is the serialized outcome of one sweep slot.
type sweepResult struct {
	Config string                  `json:"config"`
	Error  string                  `json:"error,omitempty"`
	Output *types.SimulationOutput `json:"output,omitempty"`
}

func runSweep(logger *zap.Logger, registry *backend.Registry, backendName string, paths []string, outPath string) error {
	inputs := make([]*types.SimulationInput, len(paths))
	for i, path := range paths {
		cfg, err := loadConfig(strings.TrimSpace(path))
		if err != nil {
			return err
		}
		input, err := buildInput(logger, cfg)
		if err != nil {
			return err
		}
		inputs[i] = input
	}

	tm := telemetry.New(prometheus.NewRegistry())
	runner := sweep.NewRunner(logger, registry, tm, sweep.Config{})
	results, err := runner.Run(context.Background(), backendName, inputs)
	if err != nil {
		return err
	}

	serialized := make([]sweepResult, len(results))
	for i, res := range results {
		serialized[i] = sweepResult{Config: strings.TrimSpace(paths[i]), Output: res.Output}
		if res.Err != nil {
			serialized[i].Error = res.Err.Error()
		}
	}
	return writeJSON(outPath, serialized)
}

func runParity(logger *zap.Logger, registry *backend.Registry, input *types.SimulationInput, outPath string) error {
	ref, err := registry.Run(backend.NameReference, input)
	if err != nil {
		return err
	}

	reports := make([]*parity.Report, 0, 2)
	for _, name := range registry.Names() {
		if name == backend.NameReference {
			continue
		}
		cand, err := registry.Run(name, input)
		if err != nil {
			return fmt.Errorf("backend %s: %w", name, err)
		}
		report := parity.Compare(ref, cand, parity.DefaultTolerance)
		reports = append(reports, report)
		logger.Info("parity check",
			zap.String("candidate", name),
			zap.Bool("pass", report.Pass),
			zap.Int("deltas", len(report.Deltas)),
		)
	}

	if err := writeJSON(outPath, reports); err != nil {
		return err
	}
	for _, report := range reports {
		if !report.Pass {
			return fmt.Errorf("parity failed: %s vs %s (%d deltas)",
				report.Reference, report.Candidate, len(report.Deltas))
		}
	}
	return nil
}

func loadConfig(path string) (*runConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("capital", 10000)
	v.SetDefault("direction", string(types.DirectionFilterBoth))
	v.SetDefault("sizing.mode", string(types.SizingFixedFraction))
	v.SetDefault("sizing.fraction", 0.1)
	v.SetDefault("stop.mode", string(types.StopModeNone))
	v.SetDefault("take_profit.mode", string(types.TakeProfitNone))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg runConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func buildInput(logger *zap.Logger, cfg *runConfig) (*types.SimulationInput, error) {
	bars, err := data.LoadBars(logger, cfg.Data.Candles)
	if err != nil {
		return nil, err
	}
	signals, err := data.LoadSignals(logger, cfg.Data.Signals, len(bars))
	if err != nil {
		return nil, err
	}

	return &types.SimulationInput{
		Bars:            bars,
		Signals:         signals,
		InitialCapital:  cfg.Capital,
		Sizing:          cfg.Sizing,
		Leverage:        cfg.Leverage,
		Stop:            cfg.Stop,
		TakeProfit:      cfg.TakeProfit,
		Trailing:        cfg.Trailing,
		Breakeven:       cfg.Breakeven,
		DCA:             cfg.DCA,
		FeeRate:         cfg.FeeRate,
		SlippageRate:    cfg.SlippageRate,
		Direction:       types.DirectionFilter(cfg.Direction),
		Pyramiding:      cfg.Pyramiding,
		MaxDurationBars: cfg.MaxDuration,
		ATRPeriod:       cfg.ATRPeriod,
		BarsPerYear:     cfg.BarsPerYear,
		MonteCarlo:      cfg.MonteCarlo,
	}, nil
}

func writeJSON(path string, v any) error {
	payload, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
