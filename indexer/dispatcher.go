package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aptos-labs/aptos-protos/protos/go/aptos/util/timestamp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/logging"
	"github.com/chainstream/txn-indexer/repository"
)

const watchdogTimeout = 5 * time.Minute

// Dispatcher is the single consumer of the batch channel. Each tick it takes
// up to the configured number of waiting batches, verifies chain id and
// cross-batch contiguity, fans the batches out to parallel workers, and
// advances the checkpoint to the highest processed version.
type Dispatcher struct {
	logger    logging.Logger
	cfg       *config.DispatcherConfig
	repo      *repository.Repo
	processor Processor
	metrics   MetricsSink
	in        chan *TransactionBatch

	// backfill is set in backfill mode; progress then goes to the backfill
	// row instead of the regular processor checkpoint.
	backfill *config.BackfillConfig

	nextVersion    uint64
	chainID        uint64
	chainIDChecked bool
	watchdog       time.Duration
}

func NewDispatcher(
	logger logging.Logger,
	cfg *config.DispatcherConfig,
	repo *repository.Repo,
	processor Processor,
	metrics MetricsSink,
	in chan *TransactionBatch,
	startingVersion uint64,
	backfill *config.BackfillConfig,
) *Dispatcher {
	return &Dispatcher{
		logger:      logger.WithField("component", "dispatcher"),
		cfg:         cfg,
		repo:        repo,
		processor:   processor,
		metrics:     metrics,
		in:          in,
		backfill:    backfill,
		nextVersion: startingVersion,
		watchdog:    watchdogTimeout,
	}
}

// Run processes batches until the channel is closed and drained. Any
// invariant violation or worker error is returned as a fatal error.
func (d *Dispatcher) Run(ctx context.Context) error {
	tps := NewMovingAverage(tpsWindow)

	for {
		batches, err := d.nextBatches(ctx)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			d.logger.Info("batch channel closed, dispatcher finished")
			return nil
		}
		if err := d.verifyBatches(ctx, batches); err != nil {
			return err
		}

		results, err := d.processBatches(ctx, batches)
		if err != nil {
			return err
		}
		if err := d.commit(ctx, batches, results, tps); err != nil {
			return err
		}
	}
}

// nextBatches blocks for the first batch under the watchdog, then drains
// whatever else is already waiting, up to the concurrency limit. A nil,nil
// return means the channel is closed and empty.
func (d *Dispatcher) nextBatches(ctx context.Context) ([]*TransactionBatch, error) {
	watchdog := time.NewTimer(d.watchdog)
	defer watchdog.Stop()

	var batches []*TransactionBatch
	select {
	case batch, ok := <-d.in:
		if !ok {
			return nil, nil
		}
		batches = append(batches, batch)
	case <-watchdog.C:
		return nil, fmt.Errorf("%w: nothing received for %s", ErrWatchdogTimeout, d.watchdog)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for uint(len(batches)) < d.cfg.NumberConcurrentProcessingTasks {
		select {
		case batch, ok := <-d.in:
			if !ok {
				return batches, nil
			}
			batches = append(batches, batch)
		default:
			return batches, nil
		}
	}
	return batches, nil
}

func (d *Dispatcher) verifyBatches(ctx context.Context, batches []*TransactionBatch) error {
	for _, batch := range batches {
		if !d.chainIDChecked {
			if err := d.checkOrStoreChainID(ctx, batch.ChainID); err != nil {
				return err
			}
		} else if batch.ChainID != d.chainID {
			return fmt.Errorf("%w: stored %d, received %d", ErrChainIDMismatch, d.chainID, batch.ChainID)
		}

		if batch.StartVersion() != d.nextVersion {
			return fmt.Errorf("%w: expected version %d, got %d", ErrVersionGap, d.nextVersion, batch.StartVersion())
		}
		d.nextVersion = batch.EndVersion() + 1
	}
	return nil
}

// checkOrStoreChainID pins the deployment to one ledger. The first run
// persists the observed chain id; every later run must see the same one.
func (d *Dispatcher) checkOrStoreChainID(ctx context.Context, chainID uint64) error {
	info, err := d.repo.LedgerInfos.Get(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
		d.logger.WithField("chain_id", chainID).Info("storing chain id")
		if err = d.repo.LedgerInfos.Insert(ctx, &entity.LedgerInfo{ChainID: int64(chainID)}); err != nil {
			return fmt.Errorf("can't store chain id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("can't read chain id: %w", err)
	case uint64(info.ChainID) != chainID:
		return fmt.Errorf("%w: stored %d, received %d", ErrChainIDMismatch, info.ChainID, chainID)
	}
	d.chainID = chainID
	d.chainIDChecked = true
	return nil
}

func (d *Dispatcher) processBatches(ctx context.Context, batches []*TransactionBatch) ([]*ProcessingResult, error) {
	results := make([]*ProcessingResult, len(batches))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		group.Go(func() error {
			result, err := d.processor.Process(groupCtx, batch, d.chainID)
			if err != nil {
				return fmt.Errorf("processor %s failed on versions [%d, %d]: %w",
					d.processor.Name(), batch.StartVersion(), batch.EndVersion(), err)
			}
			results[i] = result
			d.metrics.ObserveBatch(d.processor.Name(), BatchObservation{
				Step:            StepProcessedBatch,
				StartVersion:    result.StartVersion,
				EndVersion:      result.EndVersion,
				NumTransactions: uint64(len(batch.Transactions)),
				SizeInBytes:     batch.SizeInBytes,
				TxnTimestamp:    batch.EndTxnTimestamp,
			})
			if d.cfg.EnableVerboseLogging {
				d.logger.WithFields(logrus.Fields{
					"start_version":         result.StartVersion,
					"end_version":           result.EndVersion,
					"processing_duration":   result.ProcessingDuration.String(),
					"db_insertion_duration": result.DBInsertionDuration.String(),
				}).Debug("processed batch")
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].StartVersion < results[j].StartVersion })
	for i := 1; i < len(results); i++ {
		if results[i].StartVersion != results[i-1].EndVersion+1 {
			return nil, fmt.Errorf("%w: [..., %d] followed by [%d, ...]",
				ErrResultGap, results[i-1].EndVersion, results[i].StartVersion)
		}
	}
	return results, nil
}

func (d *Dispatcher) commit(ctx context.Context, batches []*TransactionBatch, results []*ProcessingResult, tps *MovingAverage) error {
	last := results[len(results)-1]
	lastTimestamp := toTime(last.LastTxnTimestamp)

	if d.backfill != nil {
		status := &entity.BackfillStatus{
			BackfillAlias:            d.backfill.BackfillID,
			Status:                   entity.BackfillInProgress,
			LastSuccessVersion:       last.EndVersion,
			BackfillStartVersion:     d.backfill.InitialStartingVersion,
			BackfillEndVersion:       d.backfill.EndingVersion,
			LastTransactionTimestamp: lastTimestamp,
		}
		if last.EndVersion >= d.backfill.EndingVersion {
			status.Status = entity.BackfillComplete
		}
		if err := d.repo.BackfillStatuses.Upsert(ctx, status); err != nil {
			return fmt.Errorf("can't advance backfill status: %w", err)
		}
	} else {
		err := d.repo.ProcessorStatuses.Upsert(ctx, &entity.ProcessorStatus{
			ProcessorName:            d.processor.Name(),
			LastSuccessVersion:       last.EndVersion,
			LastTransactionTimestamp: lastTimestamp,
		})
		if err != nil {
			return fmt.Errorf("can't advance checkpoint: %w", err)
		}
	}

	numTxns := uint64(0)
	sizeInBytes := uint64(0)
	for _, batch := range batches {
		numTxns += uint64(len(batch.Transactions))
		sizeInBytes += batch.SizeInBytes
	}
	tps.Tick(numTxns)
	d.metrics.ObserveBatch(d.processor.Name(), BatchObservation{
		Step:            StepCommitted,
		StartVersion:    results[0].StartVersion,
		EndVersion:      last.EndVersion,
		NumTransactions: numTxns,
		SizeInBytes:     sizeInBytes,
		TxnTimestamp:    last.LastTxnTimestamp,
	})
	d.metrics.SetTransactionsPerSecond(d.processor.Name(), StepCommitted, tps.AveragePerSecond())

	d.logger.WithFields(logrus.Fields{
		"start_version": results[0].StartVersion,
		"end_version":   last.EndVersion,
		"num_batches":   len(batches),
	}).Info("advanced checkpoint")
	return nil
}

func toTime(ts *timestamp.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
	return &t
}
