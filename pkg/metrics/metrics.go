// Package metrics holds the workflow counters exposed on the metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry collects every workflow metric; the metrics handler serves
// it.
var Registry = prometheus.NewRegistry()

var (
	SubmissionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "submissions_total",
		Help: "Number of project submissions, including resubmissions",
	})
	PublishesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "publishes_total",
		Help: "Number of successful project publications",
	})
	ArchivesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archives_total",
		Help: "Number of archived projects",
	})
	TaskRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "task_retries_total",
		Help: "Number of background task retries",
	})
)

func init() {
	Registry.MustRegister(SubmissionsTotal, PublishesTotal, ArchivesTotal, TaskRetriesTotal)
}
