package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/logging"
	"github.com/chainstream/txn-indexer/repository"
)

type dispatcherEnv struct {
	dispatcher *Dispatcher
	in         chan *TransactionBatch
	statuses   *fakeStatusesRepo
	ledger     *fakeLedgerRepo
	backfills  *fakeBackfillsRepo
	processor  *fakeProcessor
	recorder   *Recorder
}

func newDispatcherEnv(concurrentTasks uint, startingVersion uint64, backfill *config.BackfillConfig) *dispatcherEnv {
	env := &dispatcherEnv{
		in:        make(chan *TransactionBatch, 50),
		statuses:  newFakeStatusesRepo(),
		ledger:    &fakeLedgerRepo{},
		backfills: newFakeBackfillsRepo(),
		processor: &fakeProcessor{},
		recorder:  NewRecorder(),
	}
	repo := &repository.Repo{
		ProcessorStatuses: env.statuses,
		LedgerInfos:       env.ledger,
		BackfillStatuses:  env.backfills,
	}
	cfg := &config.DispatcherConfig{NumberConcurrentProcessingTasks: concurrentTasks, ChannelBufferSize: 50}
	env.dispatcher = NewDispatcher(logging.New(), cfg, repo, env.processor, env.recorder, env.in, startingVersion, backfill)
	return env
}

func (env *dispatcherEnv) run(t *testing.T) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- env.dispatcher.Run(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not finish")
		return nil
	}
}

func (env *dispatcherEnv) checkpoint(t *testing.T) uint64 {
	t.Helper()
	status, err := env.statuses.GetByName(context.Background(), env.processor.Name())
	require.NoError(t, err)
	return status.LastSuccessVersion
}

func TestDispatcherProcessesAndAdvancesCheckpoint(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(2, 0, nil)
	env.in <- makeBatch(1, 0, 5)
	env.in <- makeBatch(1, 5, 5)
	close(env.in)

	require.NoError(t, env.run(t))
	require.EqualValues(t, 9, env.checkpoint(t))

	info, err := env.ledger.Get(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, info.ChainID)

	require.Len(t, env.recorder.StepObservations(StepProcessedBatch), 2)
	committed := env.recorder.StepObservations(StepCommitted)
	require.NotEmpty(t, committed)
	require.EqualValues(t, 9, committed[len(committed)-1].EndVersion)
}

func TestDispatcherChainIDMismatch(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(1, 0, nil)
	require.NoError(t, env.ledger.Insert(context.Background(), &entity.LedgerInfo{ChainID: 2}))
	env.in <- makeBatch(1, 0, 5)

	require.ErrorIs(t, env.run(t), ErrChainIDMismatch)
}

func TestDispatcherChainIDChangesMidStream(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(2, 0, nil)
	env.in <- makeBatch(1, 0, 5)
	env.in <- makeBatch(7, 5, 5)

	require.ErrorIs(t, env.run(t), ErrChainIDMismatch)
}

func TestDispatcherDetectsCrossBatchGap(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(2, 0, nil)
	env.in <- makeBatch(1, 0, 5)
	env.in <- makeBatch(1, 6, 5)

	require.ErrorIs(t, env.run(t), ErrVersionGap)
}

func TestDispatcherSurfacesWorkerError(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(1, 0, nil)
	env.processor.err = errors.New("insert failed")
	env.in <- makeBatch(1, 0, 5)

	require.ErrorContains(t, env.run(t), "insert failed")
}

func TestDispatcherWatchdog(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(1, 0, nil)
	env.dispatcher.watchdog = 50 * time.Millisecond

	require.ErrorIs(t, env.run(t), ErrWatchdogTimeout)
}

func TestDispatcherCheckpointIsOrderInsensitive(t *testing.T) {
	t.Parallel()

	for _, tasks := range []uint{1, 4} {
		env := newDispatcherEnv(tasks, 0, nil)
		// Earlier batches finish later, so completion order is reversed
		// relative to version order when workers run in parallel.
		env.processor.delay = func(batch *TransactionBatch) {
			time.Sleep(time.Duration(200-batch.StartVersion()) * time.Millisecond)
		}
		for start := uint64(0); start < 20; start += 5 {
			env.in <- makeBatch(1, start, 5)
		}
		close(env.in)

		require.NoError(t, env.run(t))
		require.EqualValues(t, 19, env.checkpoint(t))
	}
}

func TestDispatcherBackfillCompletion(t *testing.T) {
	t.Parallel()

	backfill := &config.BackfillConfig{
		BackfillID:             "tokens-backfill",
		InitialStartingVersion: 0,
		EndingVersion:          9,
	}
	env := newDispatcherEnv(2, 0, backfill)
	env.in <- makeBatch(1, 0, 5)
	env.in <- makeBatch(1, 5, 5)
	close(env.in)

	require.NoError(t, env.run(t))

	status, err := env.backfills.GetByAlias(context.Background(), "tokens-backfill")
	require.NoError(t, err)
	require.Equal(t, entity.BackfillComplete, status.Status)
	require.EqualValues(t, 9, status.LastSuccessVersion)

	// Backfill progress must not touch the regular checkpoint.
	_, err = env.statuses.GetByName(context.Background(), env.processor.Name())
	require.Error(t, err)
}

func TestDispatcherStartsFromResolvedVersion(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(1, 100, nil)
	env.in <- makeBatch(1, 100, 5)
	close(env.in)

	require.NoError(t, env.run(t))
	require.EqualValues(t, 104, env.checkpoint(t))
}
