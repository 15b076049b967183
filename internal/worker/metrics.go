package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_jobs_claimed_total",
		Help: "Total number of automation jobs claimed for execution",
	})
	JobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_jobs_running",
		Help: "Number of automation jobs currently executing",
	})
	JobsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_jobs_completed_total",
		Help: "Total number of automation jobs that finished all stages",
	})
	JobsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_jobs_failed_total",
		Help: "Total number of automation jobs that failed",
	})
	JobsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_jobs_cancelled_total",
		Help: "Total number of automation jobs that were cancelled",
	})
)

func init() {
	prometheus.MustRegister(JobsClaimedTotal, JobsRunning, JobsCompletedTotal, JobsFailedTotal, JobsCancelledTotal)
}
