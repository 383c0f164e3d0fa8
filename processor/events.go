package processor

import (
	"context"
	"time"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/indexer"
	"github.com/chainstream/txn-indexer/logging"
	"github.com/chainstream/txn-indexer/repository"
)

const maxEventDataLength = 300000

// EventProcessor writes every event of every user transaction as a raw row,
// keyed by (transaction_version, event_index).
type EventProcessor struct {
	logger logging.Logger
	pool   *db.DB
	tx     transactor
	repo   *repository.Repo
}

func NewEventProcessor(logger logging.Logger, pool *db.DB, repo *repository.Repo) *EventProcessor {
	return &EventProcessor{
		logger: logger.WithField("processor", "event_processor"),
		pool:   pool,
		tx:     pool,
		repo:   repo,
	}
}

func (p *EventProcessor) Name() string { return "event_processor" }

func (p *EventProcessor) ConnectionPool() *db.DB { return p.pool }

func (p *EventProcessor) Process(ctx context.Context, batch *indexer.TransactionBatch, chainID uint64) (*indexer.ProcessingResult, error) {
	start := time.Now()

	var rows []*entity.Event
	for _, txn := range batch.Transactions {
		user := txn.GetUser()
		if user == nil {
			UnknownTransactionType.WithLabelValues(p.Name()).Inc()
			continue
		}
		txnTimestamp := parseTimestamp(txn.Timestamp)
		for i, event := range user.Events {
			rows = append(rows, &entity.Event{
				TransactionVersion:   txn.Version,
				EventIndex:           int64(i),
				SequenceNumber:       event.SequenceNumber,
				CreationNumber:       event.GetKey().GetCreationNumber(),
				AccountAddress:       StandardizeAddress(event.GetKey().GetAccountAddress()),
				Type:                 event.TypeStr,
				Data:                 event.Data,
				TransactionTimestamp: txnTimestamp,
			})
		}
	}
	parsed := time.Now()

	if err := p.insertWithRetry(ctx, rows); err != nil {
		return nil, err
	}
	return &indexer.ProcessingResult{
		StartVersion:        batch.StartVersion(),
		EndVersion:          batch.EndVersion(),
		LastTxnTimestamp:    batch.EndTxnTimestamp,
		ProcessingDuration:  parsed.Sub(start),
		DBInsertionDuration: time.Since(parsed),
	}, nil
}

func (p *EventProcessor) insertWithRetry(ctx context.Context, rows []*entity.Event) error {
	err := p.insert(ctx, rows)
	if err == nil {
		return nil
	}
	p.logger.WithError(err).Warn("batch insert failed, retrying with cleaned data")

	for _, row := range rows {
		row.Type = StripNulls(row.Type)
		row.Data = CleanText(row.Data, maxEventDataLength)
	}
	return p.insert(ctx, rows)
}

func (p *EventProcessor) insert(ctx context.Context, rows []*entity.Event) error {
	return p.tx.Transact(ctx, func(tx db.Conn) error {
		return p.repo.Events.InsertAll(ctx, tx, rows)
	})
}
