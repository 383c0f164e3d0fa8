package indexer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	indexerv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/indexer/v1"
	"github.com/stretchr/testify/require"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/logging"
)

func testStreamConfig() *config.TransactionStreamConfig {
	return &config.TransactionStreamConfig{
		DataServiceURL:          "http://localhost:50051",
		RequestNameHeader:       "test",
		ReconnectionTimeoutSecs: 1,
		ResponseItemTimeoutSecs: 5,
	}
}

func collectBatches(t *testing.T, out chan *TransactionBatch) []*TransactionBatch {
	t.Helper()
	var batches []*TransactionBatch
	for {
		select {
		case batch, ok := <-out:
			if !ok {
				return batches
			}
			batches = append(batches, batch)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for batches")
		}
	}
}

func uint64Ptr(v uint64) *uint64 { return &v }

func TestFetcherForwardsContiguousBatches(t *testing.T) {
	t.Parallel()

	client := &fakeClient{queue: []*fakeStream{{
		responses: []*indexerv1.TransactionsResponse{
			makeResp(1, 0, 5),
			makeResp(1, 5, 5),
			makeResp(1, 10, 5),
		},
	}}}
	recorder := NewRecorder()
	out := make(chan *TransactionBatch, 10)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), recorder, "test", out, 0, uint64Ptr(14))

	require.NoError(t, fetcher.Run(context.Background()))

	batches := collectBatches(t, out)
	require.Len(t, batches, 3)
	require.EqualValues(t, 0, batches[0].StartVersion())
	require.EqualValues(t, 4, batches[0].EndVersion())
	require.EqualValues(t, 10, batches[2].StartVersion())
	require.EqualValues(t, 14, batches[2].EndVersion())
	for _, batch := range batches {
		require.EqualValues(t, 1, batch.ChainID)
		require.NotZero(t, batch.SizeInBytes)
		require.NotNil(t, batch.StartTxnTimestamp)
		require.NotNil(t, batch.EndTxnTimestamp)
	}

	received := recorder.StepObservations(StepReceived)
	require.Len(t, received, 3)
	require.EqualValues(t, 14, received[2].EndVersion)
	require.Equal(t, []uint64{0}, client.opens)
}

func TestFetcherReconnectsAtNextVersion(t *testing.T) {
	t.Parallel()

	client := &fakeClient{queue: []*fakeStream{
		{
			responses: []*indexerv1.TransactionsResponse{makeResp(1, 0, 5)},
			finalErr:  io.EOF,
		},
		{
			responses: []*indexerv1.TransactionsResponse{makeResp(1, 5, 5)},
		},
	}}
	out := make(chan *TransactionBatch, 10)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), NewRecorder(), "test", out, 0, uint64Ptr(9))

	require.NoError(t, fetcher.Run(context.Background()))

	batches := collectBatches(t, out)
	require.Len(t, batches, 2)
	require.EqualValues(t, 5, batches[1].StartVersion())
	require.Equal(t, []uint64{0, 5}, client.opens)
}

func TestFetcherDetectsVersionGap(t *testing.T) {
	t.Parallel()

	client := &fakeClient{queue: []*fakeStream{{
		responses: []*indexerv1.TransactionsResponse{
			makeResp(1, 0, 5),
			makeResp(1, 7, 5),
		},
	}}}
	out := make(chan *TransactionBatch, 10)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), NewRecorder(), "test", out, 0, nil)

	err := fetcher.Run(context.Background())
	require.ErrorIs(t, err, ErrVersionGap)
}

func TestFetcherRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	client := &fakeClient{queue: []*fakeStream{{
		responses: []*indexerv1.TransactionsResponse{{}},
	}}}
	out := make(chan *TransactionBatch, 10)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), NewRecorder(), "test", out, 0, nil)

	err := fetcher.Run(context.Background())
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestFetcherExhaustsReconnectBudget(t *testing.T) {
	t.Parallel()

	// Every opened stream fails immediately.
	client := &fakeClient{}
	out := make(chan *TransactionBatch, 10)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), NewRecorder(), "test", out, 0, nil)

	err := fetcher.Run(context.Background())
	require.ErrorIs(t, err, ErrReconnectBudget)
	// The initial open plus one per allowed reconnection attempt.
	require.Len(t, client.opens, reconnectMaxRetries+1)
}

func TestFetcherReturnsOpenError(t *testing.T) {
	t.Parallel()

	expected := errors.New("no route to host")
	client := &fakeClient{openErr: expected}
	out := make(chan *TransactionBatch, 10)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), NewRecorder(), "test", out, 0, nil)

	require.ErrorIs(t, fetcher.Run(context.Background()), expected)
}

func TestFetcherDrainsBeforeClosing(t *testing.T) {
	t.Parallel()

	client := &fakeClient{queue: []*fakeStream{{
		responses: []*indexerv1.TransactionsResponse{
			makeResp(1, 0, 5),
			makeResp(1, 5, 5),
		},
	}}}
	out := make(chan *TransactionBatch, 2)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), NewRecorder(), "test", out, 0, uint64Ptr(9))

	done := make(chan error, 1)
	go func() { done <- fetcher.Run(context.Background()) }()

	// Consume slowly; the fetcher must wait for the channel to empty before
	// closing it.
	var batches []*TransactionBatch
	for batch := range out {
		time.Sleep(150 * time.Millisecond)
		batches = append(batches, batch)
	}
	require.Len(t, batches, 2)
	require.NoError(t, <-done)
}

func TestFetcherStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	client := &fakeClient{queue: []*fakeStream{{
		responses: []*indexerv1.TransactionsResponse{makeResp(1, 0, 5)},
	}}}
	// Unbuffered channel with no consumer, the fetcher blocks on send.
	out := make(chan *TransactionBatch)
	fetcher := NewFetcher(logging.New(), client, testStreamConfig(), NewRecorder(), "test", out, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fetcher.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("fetcher did not stop on context cancel")
	}
}
