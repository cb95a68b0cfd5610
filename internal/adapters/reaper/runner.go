// Package reaper provides the adapter that runs the stale-job reaper.
package reaper

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

// Runner drives the reaper service on a fixed interval until its context is
// cancelled.
type Runner struct {
	reaper   *service.ReaperService
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Reaper   *service.ReaperService
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Reaper == nil {
		return nil, errors.New("reaper service is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		reaper:   opts.Reaper,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "reaper_runner"),
		metrics:  opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner", "interval", r.interval.String())

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
			r.logger.InfoContext(ctx, "reaper runner stopping", "reason", ctx.Err())
			return runErr(ctx)

		case now := <-ticker.C:
			reclaimed, err := r.reaper.Tick(ctx, now)
			r.emitTickMetrics(reclaimed, err)

			if err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "reaper tick failed", "error", err)
				continue
			}
			if reclaimed > 0 {
				r.logger.WarnContext(ctx, "reaper reclaimed jobs", "count", reclaimed)
			}
		}
	}
}

func (r *Runner) emitTickMetrics(reclaimed int, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if reclaimed == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("reaper.tick", 1, tags)
	if reclaimed > 0 {
		r.metrics.Count("reaper.jobs_reclaimed", int64(reclaimed), tags)
	}
}

func runErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
