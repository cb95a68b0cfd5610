// Package intake provides the adapter that runs the job intake poller.
package intake

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	obserrors "github.com/mediaforge/transcoder/internal/observability/errors"
	"github.com/mediaforge/transcoder/internal/observability/metrics"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
	"github.com/mediaforge/transcoder/internal/service"
)

// Runner drives the intake service on a fixed interval until its context is
// cancelled, then waits for in-flight pipelines to drain.
type Runner struct {
	intake   *service.IntakeService
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Intake   *service.IntakeService
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// NewRunner creates a new intake runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Intake == nil {
		return nil, errors.New("intake service is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		intake:   opts.Intake,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "intake_runner"),
		metrics:  opts.Metrics,
	}, nil
}

// Run starts the intake loop and runs until the context is cancelled.
// Returns nil on graceful shutdown after in-flight pipelines finish.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting intake runner", "interval", r.interval.String())

	defer r.intake.Wait()

	// Startup jitter desynchronizes replicas that deploy together.
	jitter := time.Duration(rand.Int63n(int64(r.interval)))
	select {
	case <-ctx.Done():
		return runErr(ctx)
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "intake runner stopping", "reason", ctx.Err())
			return runErr(ctx)

		case <-ticker.C:
			start := time.Now()
			dispatched, err := r.intake.Tick(ctx)
			r.emitTickMetrics(dispatched, time.Since(start), err)

			if err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "intake tick failed", "error", err)
				continue
			}
			if dispatched > 0 {
				r.logger.InfoContext(ctx, "intake dispatched jobs", "count", dispatched)
			}
		}
	}
}

func (r *Runner) emitTickMetrics(dispatched int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if dispatched == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("intake.tick", 1, tags)
	if dispatched > 0 {
		r.metrics.Count("intake.jobs_dispatched", int64(dispatched), tags)
	}
	if elapsed > 0 {
		r.metrics.Timing("intake.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("intake.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func runErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
