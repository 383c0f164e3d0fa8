package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
)

type tokenOwnershipsRepo basePostgresRepo

func NewTokenOwnershipsRepo(table string, db *db.DB) entity.TokenOwnershipsRepo {
	return (*tokenOwnershipsRepo)(newBasePostgresRepo(table, db))
}

func (r *tokenOwnershipsRepo) InsertAll(ctx context.Context, conn db.Conn, ownerships []*entity.TokenOwnership) error {
	if len(ownerships) == 0 {
		return nil
	}
	builder := sq.Insert(r.table).
		Columns("transaction_version", "write_set_change_index", "token_data_id", "property_version",
			"owner_address", "storage_id", "amount", "is_soulbound", "transaction_timestamp")
	for _, o := range ownerships {
		builder = builder.Values(o.TransactionVersion, o.WriteSetChangeIndex, o.TokenDataID, o.PropertyVersion,
			o.OwnerAddress, o.StorageID, o.Amount, o.IsSoulbound, o.TransactionTimestamp)
	}
	q, args, err := builder.
		Suffix("ON CONFLICT (transaction_version, write_set_change_index) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = conn.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert token ownerships: %w", err)
	}
	return nil
}

type currentTokenOwnershipsRepo basePostgresRepo

func NewCurrentTokenOwnershipsRepo(table string, db *db.DB) entity.CurrentTokenOwnershipsRepo {
	return (*currentTokenOwnershipsRepo)(newBasePostgresRepo(table, db))
}

func (r *currentTokenOwnershipsRepo) UpsertAll(ctx context.Context, conn db.Conn, ownerships []*entity.CurrentTokenOwnership) error {
	if len(ownerships) == 0 {
		return nil
	}
	builder := sq.Insert(r.table).
		Columns("token_data_id", "property_version", "owner_address", "storage_id",
			"amount", "is_soulbound", "last_transaction_version", "last_transaction_timestamp")
	for _, o := range ownerships {
		builder = builder.Values(o.TokenDataID, o.PropertyVersion, o.OwnerAddress, o.StorageID,
			o.Amount, o.IsSoulbound, o.LastTransactionVersion, o.LastTransactionTimestamp)
	}
	q, args, err := builder.
		Suffix("ON CONFLICT (token_data_id, property_version, owner_address, storage_id) DO UPDATE SET " +
			"amount = EXCLUDED.amount, " +
			"is_soulbound = EXCLUDED.is_soulbound, " +
			"last_transaction_version = EXCLUDED.last_transaction_version, " +
			"last_transaction_timestamp = EXCLUDED.last_transaction_timestamp " +
			"WHERE " + r.table + ".last_transaction_version <= EXCLUDED.last_transaction_version").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = conn.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't upsert current token ownerships: %w", err)
	}
	return nil
}

func (r *currentTokenOwnershipsRepo) GetLatestByTokenDataID(ctx context.Context, tokenDataID string) (*entity.CurrentTokenOwnership, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"token_data_id": tokenDataID}).
		Where(sq.Gt{"amount": 0}).
		OrderBy("last_transaction_version DESC").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	ownership := new(entity.CurrentTokenOwnership)
	err = r.db.GetContext(ctx, ownership, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("can't get latest ownership by token data id: %w", err)
	}
	return ownership, nil
}
