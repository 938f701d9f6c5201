package pubsub

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/texmesh/go-texmesh/metrics"
)

var processedMessagesDuration = metrics.NewHistogramWithBuckets(
	"processed_messages_duration_seconds",
	"pubsub",
	"duration of gossip message validation",
	[]string{"topic", "result"},
	prometheus.ExponentialBuckets(0.0001, 2, 12),
)

func castResult(err error) string {
	switch {
	case err == nil:
		return "accept"
	case errors.Is(err, ErrValidationReject):
		return "reject"
	default:
		return "ignore"
	}
}
