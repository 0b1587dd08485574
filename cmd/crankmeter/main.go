package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankmeter/internal/config"
	"github.com/torosent/crankmeter/internal/httpclient"
	"github.com/torosent/crankmeter/internal/instrument"
	"github.com/torosent/crankmeter/internal/logging"
	"github.com/torosent/crankmeter/internal/metrics"
	"github.com/torosent/crankmeter/internal/output"
	"github.com/torosent/crankmeter/internal/promexport"
	"github.com/torosent/crankmeter/internal/runner"
	"github.com/torosent/crankmeter/internal/threshold"
	"github.com/torosent/crankmeter/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	accept, err := instrument.ParseAcceptStatus(cfg.AcceptStatus)
	if err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	evaluator := threshold.NewEvaluator(thresholds)

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	agg := metrics.NewAggregator(
		metrics.WithLogger(logger),
		metrics.WithRetention(cfg.Metrics.Retention),
		metrics.WithSketch(metrics.SketchOptions{
			Min:   cfg.Metrics.SketchMin,
			Max:   cfg.Metrics.SketchMax,
			Ratio: cfg.Metrics.SketchRatio,
		}),
	)
	logger = logger.With(zap.String("run_id", agg.ID()))

	wrapperOpts := []instrument.Option{instrument.WithLogger(logger)}
	if provider.Enabled() {
		wrapperOpts = append(wrapperOpts, instrument.WithTracer(provider.Tracer()))
	}
	wrapper := instrument.New(agg, accept, wrapperOpts...)

	client := httpclient.NewClient(cfg.Timeout)
	selector, err := newEndpointSelector(cfg, client, wrapper, provider.ShouldPropagate())
	if err != nil {
		return err
	}

	reportQuantiles := mergeQuantiles(cfg.Report.Quantiles, evaluator.Quantiles())

	if cfg.Metrics.Addr != "" {
		srv, err := promexport.Listen(cfg.Metrics.Addr, promexport.Handler(promexport.NewCollector(agg, reportQuantiles...)), logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	var requester runner.Requester = &httpRequester{selector: selector, accept: accept}
	requester = runner.WithLogging(requester, logger)

	r := runner.New(runner.Options{
		Concurrency:   cfg.Concurrency,
		TotalRequests: cfg.Total,
		Duration:      cfg.Duration,
		RatePerSecond: cfg.Rate,
		ArrivalModel:  runner.ArrivalModel(cfg.Arrival.Model),
		Requester:     requester,
	})

	var progress *output.ProgressReporter
	if cfg.Report.Progress > 0 {
		progress = output.NewProgressReporter(agg, cfg.Report.Progress, stderr)
		progress.Start()
	}

	logger.Info("starting run",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("rate", cfg.Rate),
		zap.Int("total", cfg.Total),
		zap.Duration("duration", cfg.Duration),
	)
	result := r.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	logger.Info("run finished",
		zap.Int64("requests", result.Total),
		zap.Int64("errors", result.Errors),
		zap.Duration("elapsed", result.Duration),
	)

	report := agg.Snapshot(reportQuantiles...)
	if err := output.Print(stdout, cfg.Report.Format, report); err != nil {
		return err
	}
	if cfg.Report.HDRFile != "" {
		if err := output.WriteHDRFile(cfg.Report.HDRFile, agg.Sketch()); err != nil {
			return err
		}
	}

	if len(thresholds) > 0 {
		results := evaluator.Evaluate(report)
		output.PrintThresholds(stdout, results)
		if !threshold.AllPassed(results) {
			return errors.New("one or more thresholds failed")
		}
		return nil
	}

	if report.Failures > 0 {
		return fmt.Errorf("%d requests failed", report.Failures)
	}
	return nil
}

// mergeQuantiles keeps the configured report quantiles, or the defaults, and
// adds whatever the thresholds need.
func mergeQuantiles(configured, required []float64) []float64 {
	base := configured
	if len(base) == 0 {
		base = metrics.DefaultQuantiles
	}
	out := make([]float64, 0, len(base)+len(required))
	out = append(out, base...)
	return append(out, required...)
}
