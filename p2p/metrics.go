package p2p

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/texmesh/go-texmesh/metrics"
)

const subsystem = "p2p"

var (
	peersByState = metrics.NewGauge(
		"peers",
		subsystem,
		"number of peers in the book by connection state",
		[]string{"state"},
	)
	receivedEnvelopes = metrics.NewCounter(
		"received_envelopes",
		subsystem,
		"number of envelopes passed to the handler",
		[]string{"kind"},
	)
	sentEnvelopes = metrics.NewCounter(
		"sent_envelopes",
		subsystem,
		"number of envelopes sent by path",
		[]string{"kind", "path"},
	)
	syncRequests = metrics.NewCounter(
		"sync_requests",
		subsystem,
		"number of snapshot requests by outcome",
		[]string{"outcome"},
	)
	syncLatency = metrics.NewHistogramWithBuckets(
		"sync_request_duration_seconds",
		subsystem,
		"duration of a single snapshot request",
		[]string{},
		prometheus.ExponentialBuckets(0.005, 2, 12),
	).WithLabelValues()
)
