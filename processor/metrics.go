package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "processor",
		Name:      "decode_errors_total",
	}, []string{"resource_type"})

	UnknownTransactionType = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "processor",
		Name:      "unknown_transaction_type_total",
	}, []string{"processor"})

	OwnershipFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "processor",
		Name:      "ownership_fallbacks_total",
	}, []string{"tier"})
)
