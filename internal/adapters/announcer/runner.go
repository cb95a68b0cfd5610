// Package announcer provides the adapter that runs the completion announcer.
package announcer

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

// Runner drives the announcer service on a fixed interval until its context
// is cancelled.
type Runner struct {
	announcer *service.AnnouncerService
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Announcer *service.AnnouncerService
	Interval  time.Duration
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// NewRunner creates a new announcer runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Announcer == nil {
		return nil, errors.New("announcer service is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		announcer: opts.Announcer,
		interval:  opts.Interval,
		logger:    opts.Logger.With("component", "announcer_runner"),
		metrics:   opts.Metrics,
	}, nil
}

// Run starts the announcer loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting announcer runner", "interval", r.interval.String())

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
			r.logger.InfoContext(ctx, "announcer runner stopping", "reason", ctx.Err())
			return runErr(ctx)

		case now := <-ticker.C:
			start := time.Now()
			notified, err := r.announcer.Tick(ctx, now)
			r.emitTickMetrics(notified, time.Since(start), err)

			if err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "announcer tick failed", "error", err)
				continue
			}
			if notified > 0 {
				r.logger.InfoContext(ctx, "announcer notified jobs", "count", notified)
			}
		}
	}
}

func (r *Runner) emitTickMetrics(notified int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if notified == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("announcer.tick", 1, tags)
	if notified > 0 {
		r.metrics.Count("announcer.jobs_notified", int64(notified), tags)
	}
	if elapsed > 0 {
		r.metrics.Timing("announcer.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("announcer.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func runErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
