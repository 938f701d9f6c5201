package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/texmesh/go-texmesh/metrics"
)

const subsystem = "checkpoint"

var (
	persisted = metrics.NewCounter(
		"persisted",
		subsystem,
		"number of documents written to the database",
		[]string{},
	).WithLabelValues()

	recovered = metrics.NewCounter(
		"recovered",
		subsystem,
		"number of documents imported from the database by outcome",
		[]string{"outcome"},
	)
	recoveredOk      = recovered.WithLabelValues("ok")
	recoveredCorrupt = recovered.WithLabelValues("corrupt")

	duration = metrics.NewHistogramWithBuckets(
		"duration",
		subsystem,
		"duration of a checkpoint in seconds",
		[]string{},
		prometheus.ExponentialBuckets(0.001, 2, 16),
	).WithLabelValues()
)
