// Package metrics defines the metric vocabulary shared by the engine's
// runner loops and services.
package metrics

import (
	"time"

	obserrors "github.com/mediaforge/transcoder/internal/observability/errors"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle transition for emission.
type JobMetric struct {
	TenantID   string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := withErrorClass(map[string]string{
		"tenant_id":  in.TenantID,
		"transition": in.Transition,
		"result":     in.Result,
	}, in.Result, in.Err)

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EncodeMetric captures details about one rendition encode for emission.
type EncodeMetric struct {
	Profile  string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitEncode emits per-rendition encode metrics.
func EmitEncode(sink statsd.Sink, in EncodeMetric) {
	if sink == nil {
		return
	}

	tags := withErrorClass(map[string]string{
		"profile": in.Profile,
		"result":  in.Result,
	}, in.Result, in.Err)

	sink.Count("rendition.encode", 1, tags)
	if in.Duration > 0 {
		sink.Timing("rendition.encode_duration", in.Duration, CloneTags(tags))
	}
}

// EmitNotification records the outcome of one completion announcement attempt.
func EmitNotification(sink statsd.Sink, result string, attempts int) {
	if sink == nil {
		return
	}
	sink.Count("notification.attempt", 1, map[string]string{"result": result})
	if attempts > 0 {
		sink.Gauge("notification.attempts", float64(attempts), map[string]string{"result": result})
	}
}

// withErrorClass adds an error_class tag for failed outcomes when the error
// classifies to something useful.
func withErrorClass(tags map[string]string, result string, err error) map[string]string {
	if err == nil || result != ResultError {
		return tags
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
	return tags
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
