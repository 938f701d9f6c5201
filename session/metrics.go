package session

import "github.com/texmesh/go-texmesh/metrics"

const subsystem = "session"

var (
	active = metrics.NewGauge(
		"active",
		subsystem,
		"number of authenticated users",
		[]string{},
	).WithLabelValues()
	rebinds = metrics.NewCounter(
		"rebinds",
		subsystem,
		"number of sessions moved to a new connection",
		[]string{},
	).WithLabelValues()
)
