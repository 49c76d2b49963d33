// Package metrics defines the Prometheus collectors the Worker Runtime
// and Scheduler update: package-level collectors registered against the
// default registry (client_golang's own documented idiom) and scraped by
// the control-plane's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	JobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enq_jobs_processed_total",
		Help: "Jobs that finished processing, by handler_ref and outcome.",
	}, []string{"handler_ref", "outcome"})

	JobsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enq_jobs_in_flight",
		Help: "Jobs currently held by an executor.",
	}, []string{"handler_ref"})

	SchedulerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enq_scheduler_ticks_total",
		Help: "Scheduler ticks run while holding leadership.",
	})

	SchedulesFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enq_schedules_fired_total",
		Help: "Recurring schedules fired, by schedule name.",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(JobsProcessedTotal, JobsInFlight, SchedulerTicks, SchedulesFired)
}
