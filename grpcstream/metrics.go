package grpcstream

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/status"
)

var (
	RequestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "grpc",
		Name:      "request_results_total",
	}, []string{"address", "method", "status"})

	RequestDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "grpc",
		Name:      "request_duration_seconds",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 20},
	}, []string{"address", "method"})
)

func ObserveError(address, method string, err error) {
	switch {
	case err == nil:
		RequestResults.WithLabelValues(address, method, "ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		RequestResults.WithLabelValues(address, method, "timeout").Inc()
	default:
		if s, ok := status.FromError(err); ok {
			RequestResults.WithLabelValues(address, method, s.Code().String()).Inc()
		} else {
			RequestResults.WithLabelValues(address, method, "error").Inc()
		}
	}
}

func ObserveDuration(address, method string) func() time.Duration {
	return prometheus.NewTimer(RequestDurations.WithLabelValues(address, method)).ObserveDuration
}
