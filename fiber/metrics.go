package fiber

import "github.com/prometheus/client_golang/prometheus"

// schedulerMetrics replaces the teacher's hand-rolled Metrics struct
// (workerpool.go) with a small set of Prometheus collectors, registered
// against whichever Registerer the Config supplies.
type schedulerMetrics struct {
	fibersTotal          prometheus.Gauge
	fiberSwitches        prometheus.Counter
	tasksSubmitted       prometheus.Counter
	tasksCompleted       prometheus.Counter
	serviceFibersWaiting prometheus.Gauge
}

func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	m := &schedulerMetrics{
		fibersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fiber",
			Name:      "fibers_total",
			Help:      "Number of fibers allocated across all workers.",
		}),
		fiberSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiber",
			Name:      "switches_total",
			Help:      "Number of cooperative fiber switches performed.",
		}),
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiber",
			Name:      "tasks_submitted_total",
			Help:      "Number of tasks submitted via RunTasks.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiber",
			Name:      "tasks_completed_total",
			Help:      "Number of tasks that finished executing.",
		}),
		serviceFibersWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fiber",
			Name:      "service_fibers_waiting",
			Help:      "Number of fibers currently parked on a service response.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.fibersTotal, m.fiberSwitches, m.tasksSubmitted, m.tasksCompleted, m.serviceFibersWaiting} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}
	return m
}
