package metaengine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// engineTracer is the OTel tracer for one build's worth of spans. It uses
// the global provider, which is a no-op until the caller's telemetry setup
// installs a real one.
var engineTracer = otel.Tracer("github.com/MaZderMind/bwmeta/metaengine")

// engineMetrics holds the OTel instruments for engine activity.
// Instruments are registered against the global delegating provider at
// init time, so they automatically start forwarding once a real provider
// is installed.
var engineMetrics struct {
	reactorRuns    metric.Int64Counter
	reactorChanges metric.Int64Counter
	startOvers     metric.Int64Counter
	buildSeconds   metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/MaZderMind/bwmeta/metaengine")
	engineMetrics.reactorRuns, _ = m.Int64Counter("bwmeta.engine.reactor_runs",
		metric.WithDescription("metadata reactor invocations"),
		metric.WithUnit("{run}"),
	)
	engineMetrics.reactorChanges, _ = m.Int64Counter("bwmeta.engine.reactor_changes",
		metric.WithDescription("metadata reactor invocations that changed their node's output"),
		metric.WithUnit("{change}"),
	)
	engineMetrics.startOvers, _ = m.Int64Counter("bwmeta.engine.start_overs",
		metric.WithDescription("times the four-stage build loop restarted from stage one"),
		metric.WithUnit("{restart}"),
	)
	engineMetrics.buildSeconds, _ = m.Float64Histogram("bwmeta.engine.build_seconds",
		metric.WithDescription("wall time spent inside one call to DriveForward"),
		metric.WithUnit("s"),
	)
}
