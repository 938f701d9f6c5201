package coordinator

import "github.com/texmesh/go-texmesh/metrics"

const subsystem = "coordinator"

var (
	operations = metrics.NewCounter(
		"operations",
		subsystem,
		"number of operations by origin and result code",
		[]string{"origin", "code"},
	)

	directFanouts = metrics.NewCounter(
		"direct_fanouts",
		subsystem,
		"number of envelopes sent directly because topics had too few peers",
		[]string{"kind"},
	)

	snapshotCache = metrics.NewCounter(
		"snapshot_cache",
		subsystem,
		"lookups of encoded snapshots served to peers",
		[]string{"result"},
	)
	snapshotHit  = snapshotCache.WithLabelValues("hit")
	snapshotMiss = snapshotCache.WithLabelValues("miss")
)

func observeOperation(origin string, err error) {
	code := "ok"
	if err != nil {
		code = string(toError(err).Code)
	}
	operations.WithLabelValues(origin, code).Inc()
}
