package pruntime

import "github.com/prometheus/client_golang/prometheus"

// Runtime-wide counters. They are cheap enough to update unconditionally;
// nothing is exported until the host registers the collectors.
var (
	machinesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pruntime_machines_created_total",
		Help: "Number of machine instances created.",
	})

	eventsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pruntime_events_enqueued_total",
		Help: "Number of events enqueued into machine queues.",
	})

	eventsDequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pruntime_events_dequeued_total",
		Help: "Number of events removed from machine queues for " +
			"handling.",
	})

	eventsDeferred = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pruntime_events_deferred_total",
		Help: "Number of deferred events skipped during dispatch " +
			"scans.",
	})

	fatalErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pruntime_fatal_errors_total",
		Help: "Number of fatal runtime errors by kind.",
	}, []string{"kind"})

	stepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pruntime_scheduler_steps_total",
		Help: "Number of scheduler steps by result.",
	}, []string{"result"})
)

// RegisterMetrics registers the runtime's collectors with the given
// registerer. Hosts that don't care about metrics simply never call it.
func RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		machinesCreated, eventsEnqueued, eventsDequeued,
		eventsDeferred, fatalErrors, stepsTotal,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
