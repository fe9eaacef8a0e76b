package taskmgr

import "github.com/prometheus/client_golang/prometheus"

// managerMetrics instruments the work-stealing task manager the same way
// fiber.schedulerMetrics instruments the fiber scheduler: real Prometheus
// collectors standing in for the teacher's hand-rolled Metrics struct.
type managerMetrics struct {
	jobsSubmitted prometheus.Counter
	jobsExecuted  prometheus.Counter
	stealsOK      prometheus.Counter
	stealsMissed  prometheus.Counter
	perWorkerJobs *prometheus.CounterVec
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	m := &managerMetrics{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmgr",
			Name:      "jobs_submitted_total",
			Help:      "Number of jobs pushed via Manager.Run.",
		}),
		jobsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmgr",
			Name:      "jobs_executed_total",
			Help:      "Number of jobs whose function has run to completion.",
		}),
		stealsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmgr",
			Name:      "steals_total",
			Help:      "Number of successful steals from another worker's deque.",
		}),
		stealsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmgr",
			Name:      "steals_missed_total",
			Help:      "Number of steal attempts that found the victim empty or lost the race.",
		}),
		perWorkerJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmgr",
			Name:      "worker_jobs_total",
			Help:      "Number of jobs executed, broken down by the owner index that ran them.",
		}, []string{"owner"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.jobsSubmitted, m.jobsExecuted, m.stealsOK, m.stealsMissed, m.perWorkerJobs} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}
	return m
}
