package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
)

type ledgerInfosRepo basePostgresRepo

func NewLedgerInfosRepo(table string, db *db.DB) entity.LedgerInfosRepo {
	return (*ledgerInfosRepo)(newBasePostgresRepo(table, db))
}

func (r *ledgerInfosRepo) Get(ctx context.Context) (*entity.LedgerInfo, error) {
	q, args, err := sq.Select("chain_id").
		From(r.table).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	info := new(entity.LedgerInfo)
	err = r.db.GetContext(ctx, info, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("can't get ledger info: %w", err)
	}
	return info, nil
}

func (r *ledgerInfosRepo) Insert(ctx context.Context, info *entity.LedgerInfo) error {
	q, args, err := sq.Insert(r.table).
		Columns("chain_id").
		Values(info.ChainID).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert ledger info: %w", err)
	}
	return nil
}
