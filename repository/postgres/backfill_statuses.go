package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
)

type backfillStatusesRepo basePostgresRepo

func NewBackfillStatusesRepo(table string, db *db.DB) entity.BackfillStatusesRepo {
	return (*backfillStatusesRepo)(newBasePostgresRepo(table, db))
}

func (r *backfillStatusesRepo) Upsert(ctx context.Context, status *entity.BackfillStatus) error {
	q, args, err := sq.Insert(r.table).
		Columns("backfill_alias", "status", "last_success_version",
			"backfill_start_version", "backfill_end_version", "last_transaction_timestamp").
		Values(status.BackfillAlias, status.Status, status.LastSuccessVersion,
			status.BackfillStartVersion, status.BackfillEndVersion, status.LastTransactionTimestamp).
		Suffix("ON CONFLICT (backfill_alias) DO UPDATE SET last_updated = NOW(), " +
			"status = EXCLUDED.status, " +
			"last_success_version = EXCLUDED.last_success_version, " +
			"backfill_start_version = EXCLUDED.backfill_start_version, " +
			"backfill_end_version = EXCLUDED.backfill_end_version, " +
			"last_transaction_timestamp = EXCLUDED.last_transaction_timestamp").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't upsert backfill status: %w", err)
	}
	return nil
}

func (r *backfillStatusesRepo) GetByAlias(ctx context.Context, backfillAlias string) (*entity.BackfillStatus, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"backfill_alias": backfillAlias}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	status := new(entity.BackfillStatus)
	err = r.db.GetContext(ctx, status, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("can't get backfill status by alias: %w", err)
	}
	return status, nil
}
