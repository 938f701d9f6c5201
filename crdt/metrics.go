package crdt

import (
	"github.com/texmesh/go-texmesh/metrics"
)

const subsystem = "crdt"

var (
	changes = metrics.NewCounter(
		"changes",
		subsystem,
		"number of changes by outcome",
		[]string{"outcome"},
	)
	localApplied    = changes.WithLabelValues("local")
	remoteApplied   = changes.WithLabelValues("remote")
	remoteDuplicate = changes.WithLabelValues("duplicate")
	remoteBuffered  = changes.WithLabelValues("buffered")
	remoteRejected  = changes.WithLabelValues("rejected")

	merges = metrics.NewCounter(
		"merges",
		subsystem,
		"number of snapshot merges",
		[]string{"changed"},
	)
	mergesChanged   = merges.WithLabelValues("true")
	mergesUnchanged = merges.WithLabelValues("false")

	documents = metrics.NewGauge(
		"documents",
		subsystem,
		"number of replicas held by the node",
		[]string{},
	).WithLabelValues()
)
