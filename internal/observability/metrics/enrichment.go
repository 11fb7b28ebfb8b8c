// Package metrics defines the standardised metric emission helpers used by
// the enrichment pipeline.
package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/signalhouse/domain-intel/internal/observability/errors"
	"github.com/signalhouse/domain-intel/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultCached  = "cached"
	ResultSkipped = "skipped"
)

// ModuleMetric captures one module enrichment attempt for metric emission.
type ModuleMetric struct {
	ModuleID string
	Wave     int
	Result   string
	Duration time.Duration
	Err      error
}

// EmitModuleEnrichment emits per-module enrichment metrics.
func EmitModuleEnrichment(sink statsd.Sink, in ModuleMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"module": in.ModuleID,
		"wave":   waveTag(in.Wave),
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("enrich.module", 1, tags)
	if in.Duration > 0 {
		sink.Timing("enrich.module.duration", in.Duration, CloneTags(tags))
	}
}

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
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

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// SnapshotMetric captures one snapshot write for metric emission.
type SnapshotMetric struct {
	ModuleID    string
	HasChanges  bool
	ChangeCount int
}

// EmitSnapshotWrite emits snapshot versioning metrics.
func EmitSnapshotWrite(sink statsd.Sink, in SnapshotMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"module": in.ModuleID}
	if in.HasChanges {
		tags["changed"] = "true"
	} else {
		tags["changed"] = "false"
	}

	sink.Count("snapshot.write", 1, tags)
	if in.ChangeCount > 0 {
		sink.Count("snapshot.change_events", int64(in.ChangeCount), CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func waveTag(w int) string {
	if w < 1 {
		return "0"
	}
	return strconv.Itoa(w)
}
