package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
)

type processorStatusesRepo basePostgresRepo

func NewProcessorStatusesRepo(table string, db *db.DB) entity.ProcessorStatusesRepo {
	return (*processorStatusesRepo)(newBasePostgresRepo(table, db))
}

func (r *processorStatusesRepo) Upsert(ctx context.Context, status *entity.ProcessorStatus) error {
	q, args, err := sq.Insert(r.table).
		Columns("processor_name", "last_success_version", "last_transaction_timestamp").
		Values(status.ProcessorName, status.LastSuccessVersion, status.LastTransactionTimestamp).
		Suffix("ON CONFLICT (processor_name) DO UPDATE SET last_updated = NOW(), " +
			"last_success_version = EXCLUDED.last_success_version, " +
			"last_transaction_timestamp = EXCLUDED.last_transaction_timestamp " +
			"WHERE " + r.table + ".last_success_version <= EXCLUDED.last_success_version").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't upsert processor status: %w", err)
	}
	return nil
}

func (r *processorStatusesRepo) GetByName(ctx context.Context, processorName string) (*entity.ProcessorStatus, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"processor_name": processorName}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	status := new(entity.ProcessorStatus)
	err = r.db.GetContext(ctx, status, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("can't get processor status by name: %w", err)
	}
	return status, nil
}
