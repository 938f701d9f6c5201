package branch

import "github.com/texmesh/go-texmesh/metrics"

const subsystem = "branch"

var (
	recoveries = metrics.NewCounter(
		"recoveries",
		subsystem,
		"number of recovery attempts by outcome",
		[]string{"outcome"},
	)
	collapsedRecoveries = metrics.NewCounter(
		"collapsed_recoveries",
		subsystem,
		"number of recovery requests joined to an attempt in flight",
		[]string{},
	).WithLabelValues()
)
