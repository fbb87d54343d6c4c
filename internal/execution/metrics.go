package execution

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsLaunched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procflow_executions_launched_total",
			Help: "Total number of executions launched.",
		},
	)

	timeoutsNotified = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procflow_execution_timeouts_total",
			Help: "Total number of timeout steps recorded by the sweep.",
		},
	)

	stepsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procflow_execution_steps_total",
			Help: "Total number of steps appended to executions, by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(executionsLaunched)
	prometheus.MustRegister(timeoutsNotified)
	prometheus.MustRegister(stepsAppended)
}
