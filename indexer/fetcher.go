package indexer

import (
	"context"
	"fmt"
	"time"

	indexerv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/indexer/v1"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/grpcstream"
	"github.com/chainstream/txn-indexer/logging"
	"github.com/chainstream/txn-indexer/utils"
)

const (
	reconnectMaxRetries = 5
	reconnectDelay      = 100 * time.Millisecond
	drainPollInterval   = 100 * time.Millisecond
	tpsWindow           = 10 * time.Second
)

// Fetcher pulls transaction batches off a gRPC stream and forwards them to
// the dispatcher channel in version order. Transient stream failures are
// retried by reopening the stream at the next expected version, so the
// output channel always carries a contiguous run of versions.
type Fetcher struct {
	logger        logging.Logger
	client        grpcstream.Client
	streamCfg     *config.TransactionStreamConfig
	metrics       MetricsSink
	processorName string
	out           chan *TransactionBatch

	startingVersion uint64
	endingVersion   *uint64
}

func NewFetcher(
	logger logging.Logger,
	client grpcstream.Client,
	streamCfg *config.TransactionStreamConfig,
	metrics MetricsSink,
	processorName string,
	out chan *TransactionBatch,
	startingVersion uint64,
	endingVersion *uint64,
) *Fetcher {
	return &Fetcher{
		logger:          logger.WithField("component", "fetcher"),
		client:          client,
		streamCfg:       streamCfg,
		metrics:         metrics,
		processorName:   processorName,
		out:             out,
		startingVersion: startingVersion,
		endingVersion:   endingVersion,
	}
}

type streamItem struct {
	resp *indexerv1.TransactionsResponse
	err  error
}

// Run consumes the stream until the ending version is reached or an
// unrecoverable error occurs. On clean completion the output channel is
// drained and closed.
func (f *Fetcher) Run(ctx context.Context) error {
	nextVersion := f.startingVersion
	reconnects := 0
	tps := NewMovingAverage(tpsWindow)

	stream, err := f.client.Open(ctx, nextVersion, f.endingVersion)
	if err != nil {
		return err
	}
	defer func() { stream.Close() }()

	for {
		if f.endingVersion != nil && nextVersion > *f.endingVersion {
			return f.drainAndClose(ctx)
		}

		resp, err := f.recvWithTimeout(ctx, stream)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reconnects++
			if reconnects > reconnectMaxRetries {
				return fmt.Errorf("%w: %d failed attempts, last error: %s", ErrReconnectBudget, reconnects, err)
			}
			f.logger.WithError(err).WithFields(logrus.Fields{
				"connection_id": stream.ConnectionID(),
				"next_version":  nextVersion,
				"attempt":       reconnects,
			}).Warn("stream failed, reconnecting")

			stream.Close()
			if t := utils.ContextSleep(ctx, reconnectDelay); t == nil {
				return ctx.Err()
			}
			newStream, openErr := f.client.Open(ctx, nextVersion, f.endingVersion)
			if openErr != nil {
				return openErr
			}
			stream = newStream
			continue
		}

		if len(resp.Transactions) == 0 {
			return fmt.Errorf("%w: connection id %s, expected version %d",
				ErrEmptyBatch, stream.ConnectionID(), nextVersion)
		}
		first := resp.Transactions[0].Version
		last := resp.Transactions[len(resp.Transactions)-1].Version
		if first != nextVersion {
			return fmt.Errorf("%w: expected version %d, got %d", ErrVersionGap, nextVersion, first)
		}

		batch := f.makeBatch(resp)
		f.observe(batch, tps)

		select {
		case f.out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		f.metrics.SetChannelSize(len(f.out))

		nextVersion = last + 1
		reconnects = 0
	}
}

func (f *Fetcher) makeBatch(resp *indexerv1.TransactionsResponse) *TransactionBatch {
	txns := resp.Transactions
	chainID := uint64(0)
	if resp.ChainId != nil {
		chainID = *resp.ChainId
	}
	return &TransactionBatch{
		ChainID:           chainID,
		Transactions:      txns,
		SizeInBytes:       uint64(proto.Size(resp)),
		StartTxnTimestamp: txns[0].Timestamp,
		EndTxnTimestamp:   txns[len(txns)-1].Timestamp,
	}
}

func (f *Fetcher) observe(batch *TransactionBatch, tps *MovingAverage) {
	numTxns := uint64(len(batch.Transactions))
	tps.Tick(numTxns)
	f.metrics.ObserveBatch(f.processorName, BatchObservation{
		Step:            StepReceived,
		StartVersion:    batch.StartVersion(),
		EndVersion:      batch.EndVersion(),
		NumTransactions: numTxns,
		SizeInBytes:     batch.SizeInBytes,
		TxnTimestamp:    batch.EndTxnTimestamp,
	})
	f.metrics.SetTransactionsPerSecond(f.processorName, StepReceived, tps.AveragePerSecond())
}

// recvWithTimeout bounds the wait for the next stream item. A stream that
// goes quiet past the timeout is treated the same as a broken one.
func (f *Fetcher) recvWithTimeout(ctx context.Context, stream grpcstream.TransactionStream) (*indexerv1.TransactionsResponse, error) {
	ch := make(chan streamItem, 1)
	go func() {
		resp, err := stream.Recv()
		ch <- streamItem{resp, err}
	}()

	select {
	case item := <-ch:
		return item.resp, item.err
	case <-time.After(f.streamCfg.ResponseItemTimeout()):
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainAndClose waits for the dispatcher to empty the channel, then closes
// it to signal completion.
func (f *Fetcher) drainAndClose(ctx context.Context) error {
	f.logger.WithField("ending_version", *f.endingVersion).Info("reached ending version, waiting for the channel to drain")
	for len(f.out) > 0 {
		if t := utils.ContextSleep(ctx, drainPollInterval); t == nil {
			return ctx.Err()
		}
	}
	close(f.out)
	f.logger.Info("transaction fetching finished")
	return nil
}
