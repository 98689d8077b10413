package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ristlab/netbench/pkg/config"
	"github.com/ristlab/netbench/pkg/metrics"
	"github.com/ristlab/netbench/pkg/orchestrator"
	"github.com/ristlab/netbench/pkg/reporting"
	"github.com/ristlab/netbench/pkg/scenario"
)

// loadConfig loads the ambient config file named by --config (or the
// default path) and validates it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the run logger from config plus the --verbose flag.
func newLogger(cfg *config.Config) *reporting.Logger {
	level := reporting.LogLevel(cfg.Framework.LogLevel)
	if verbose {
		level = reporting.LogLevelDebug
	}
	return reporting.NewLogger(reporting.LoggerConfig{
		Level:  level,
		Format: reporting.LogFormat(cfg.Framework.LogFormat),
		Output: os.Stderr,
	})
}

// executeScenario runs a scenario end to end: metrics listener up,
// orchestrator execute, report persisted in every configured format.
func executeScenario(ctx context.Context, cfg *config.Config, logger *reporting.Logger, scen *scenario.TestScenario, format string) error {
	var prod *metrics.Producer
	if cfg.Metrics.Enabled {
		prod = metrics.New()
		errCh := make(chan error, 1)
		prod.Serve(cfg.Metrics.ListenAddr, errCh)
		defer prod.Shutdown()
		logger.Info("metrics listening", "addr", cfg.Metrics.ListenAddr)
	}

	progress := reporting.NewProgressReporter(reporting.OutputFormat(format), logger)

	orch := orchestrator.New(cfg, logger, orchestrator.Options{
		Metrics:  prod,
		Progress: progress,
	})

	report, runErr := orch.Execute(ctx, scen)

	if report != nil {
		progress.ReportTestCompleted(report)

		storage, err := reporting.NewStorage(cfg.Reporting.OutputDir, cfg.Reporting.KeepLastN, logger)
		if err != nil {
			logger.Warn("report storage unavailable", "error", err)
		} else {
			path, err := storage.SaveReport(report)
			if err != nil {
				logger.Warn("failed to save report", "error", err)
			} else {
				formatter := reporting.NewFormatter(logger)
				for _, f := range cfg.Reporting.Formats {
					rf := reporting.ReportFormat(f)
					if rf == reporting.ReportFormatJSON {
						continue // storage already wrote it
					}
					out := path[:len(path)-len(".json")] + "." + f
					if err := formatter.GenerateReport(report, rf, out); err != nil {
						logger.Warn("failed to generate report", "format", f, "error", err)
					}
				}
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	if report != nil && !report.Success {
		return fmt.Errorf("run did not complete cleanly: %s", report.Message)
	}
	return nil
}
