package indexer

import (
	"context"
	"errors"
	"time"

	transactionv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/transaction/v1"
	"github.com/aptos-labs/aptos-protos/protos/go/aptos/util/timestamp"
)

var (
	ErrVersionGap      = errors.New("received batch does not continue the previous one")
	ErrChainIDMismatch = errors.New("stream chain id does not match the stored chain id")
	ErrReconnectBudget = errors.New("exhausted the stream reconnection budget")
	ErrWatchdogTimeout = errors.New("no batch received within the watchdog timeout")
	ErrEmptyBatch      = errors.New("received an empty transaction batch")
	ErrResultGap       = errors.New("processed batches do not form a contiguous range")
)

// TransactionBatch is one contiguous run of transactions taken off the
// stream. Transactions are ordered by version with no gaps.
type TransactionBatch struct {
	ChainID           uint64
	Transactions      []*transactionv1.Transaction
	SizeInBytes       uint64
	StartTxnTimestamp *timestamp.Timestamp
	EndTxnTimestamp   *timestamp.Timestamp
}

func (b *TransactionBatch) StartVersion() uint64 {
	return b.Transactions[0].Version
}

func (b *TransactionBatch) EndVersion() uint64 {
	return b.Transactions[len(b.Transactions)-1].Version
}

// ProcessingResult reports the version range a processor has durably written.
type ProcessingResult struct {
	StartVersion        uint64
	EndVersion          uint64
	LastTxnTimestamp    *timestamp.Timestamp
	ProcessingDuration  time.Duration
	DBInsertionDuration time.Duration
}

// Processor consumes transaction batches and writes derived rows. Process
// must be safe to call concurrently for disjoint batches and must be
// idempotent, since the same versions may be redelivered after a restart.
// chainID is the verified ledger chain id the deployment is pinned to.
type Processor interface {
	Name() string
	Process(ctx context.Context, batch *TransactionBatch, chainID uint64) (*ProcessingResult, error)
}
