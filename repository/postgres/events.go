package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
)

type eventsRepo basePostgresRepo

func NewEventsRepo(table string, db *db.DB) entity.EventsRepo {
	return (*eventsRepo)(newBasePostgresRepo(table, db))
}

func (r *eventsRepo) InsertAll(ctx context.Context, conn db.Conn, events []*entity.Event) error {
	if len(events) == 0 {
		return nil
	}
	builder := sq.Insert(r.table).
		Columns("transaction_version", "event_index", "sequence_number", "creation_number",
			"account_address", "type", "data", "transaction_timestamp")
	for _, e := range events {
		builder = builder.Values(e.TransactionVersion, e.EventIndex, e.SequenceNumber, e.CreationNumber,
			e.AccountAddress, e.Type, e.Data, e.TransactionTimestamp)
	}
	q, args, err := builder.
		Suffix("ON CONFLICT (transaction_version, event_index) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = conn.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert events: %w", err)
	}
	return nil
}
