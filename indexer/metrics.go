package indexer

import (
	"sync"

	"github.com/aptos-labs/aptos-protos/protos/go/aptos/util/timestamp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step identifies where in the pipeline a batch was observed.
type Step string

const (
	// StepReceived marks batches taken off the gRPC stream.
	StepReceived Step = "1"
	// StepProcessedBatch marks batches a single worker has written.
	StepProcessedBatch Step = "2"
	// StepCommitted marks contiguous runs of batches whose checkpoint has
	// been advanced.
	StepCommitted Step = "3"
)

func (s Step) Description() string {
	switch s {
	case StepReceived:
		return "received transactions from the data service"
	case StepProcessedBatch:
		return "processed one batch of transactions"
	case StepCommitted:
		return "processed multiple batches of transactions"
	default:
		return "unknown"
	}
}

type BatchObservation struct {
	Step            Step
	StartVersion    uint64
	EndVersion      uint64
	NumTransactions uint64
	SizeInBytes     uint64
	TxnTimestamp    *timestamp.Timestamp
}

// MetricsSink receives pipeline observations. The prometheus sink is used in
// production, the in-memory recorder in tests.
type MetricsSink interface {
	ObserveBatch(processorName string, obs BatchObservation)
	SetChannelSize(size int)
	SetTransactionsPerSecond(processorName string, step Step, tps float64)
}

var (
	latestProcessedVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "latest_processed_version",
	}, []string{"processor", "step"})

	transactionUnixTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "latest_transaction_unix_timestamp",
	}, []string{"processor", "step"})

	processedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "processed_bytes_total",
	}, []string{"processor", "step"})

	processedTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "processed_transactions_total",
	}, []string{"processor", "step"})

	transactionsPerSecond = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "transactions_per_second",
	}, []string{"processor", "step"})

	channelSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "channel_size",
	})
)

type prometheusSink struct{}

func NewPrometheusSink() MetricsSink {
	return prometheusSink{}
}

func (prometheusSink) ObserveBatch(processorName string, obs BatchObservation) {
	step := string(obs.Step)
	latestProcessedVersion.WithLabelValues(processorName, step).Set(float64(obs.EndVersion))
	processedBytes.WithLabelValues(processorName, step).Add(float64(obs.SizeInBytes))
	processedTransactions.WithLabelValues(processorName, step).Add(float64(obs.NumTransactions))
	if ts := obs.TxnTimestamp; ts != nil {
		transactionUnixTimestamp.WithLabelValues(processorName, step).
			Set(float64(ts.Seconds) + float64(ts.Nanos)/1e9)
	}
}

func (prometheusSink) SetChannelSize(size int) {
	channelSize.Set(float64(size))
}

func (prometheusSink) SetTransactionsPerSecond(processorName string, step Step, tps float64) {
	transactionsPerSecond.WithLabelValues(processorName, string(step)).Set(tps)
}

// Recorder is a MetricsSink that keeps every observation in memory.
type Recorder struct {
	mu           sync.Mutex
	Observations []BatchObservation
	ChannelSizes []int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) ObserveBatch(processorName string, obs BatchObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Observations = append(r.Observations, obs)
}

func (r *Recorder) SetChannelSize(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ChannelSizes = append(r.ChannelSizes, size)
}

func (r *Recorder) SetTransactionsPerSecond(string, Step, float64) {}

// StepObservations returns the recorded observations for one step, in order.
func (r *Recorder) StepObservations(step Step) []BatchObservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BatchObservation
	for _, obs := range r.Observations {
		if obs.Step == step {
			out = append(out, obs)
		}
	}
	return out
}
