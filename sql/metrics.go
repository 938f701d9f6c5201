package sql

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/texmesh/go-texmesh/metrics"
)

const subsystem = "database"

// queryDuration in nanoseconds.
var queryDuration = metrics.NewHistogramWithBuckets(
	"query_duration",
	subsystem,
	"Duration of the query in nanoseconds",
	[]string{"op", "table"},
	prometheus.ExponentialBuckets(100_000, 2, 20),
)

var queryErrors = metrics.NewCounter(
	"query_errors",
	subsystem,
	"Number of failed queries",
	[]string{"table", "kind"},
)

var connsInUse = metrics.NewGauge(
	"conns_in_use",
	subsystem,
	"Number of connections taken from the pool",
	[]string{},
).WithLabelValues()

var connWaitLatency = metrics.NewHistogramWithBuckets(
	"conn_wait_latency",
	subsystem,
	"Time spent waiting for a pooled connection in seconds",
	[]string{},
	prometheus.ExponentialBuckets(0.0001, 2, 16),
).WithLabelValues()

var migrationsApplied = metrics.NewCounter(
	"migrations_applied",
	subsystem,
	"Number of schema migrations applied",
	[]string{},
).WithLabelValues()
