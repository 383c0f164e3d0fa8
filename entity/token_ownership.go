package entity

import (
	"context"
	"time"

	"github.com/chainstream/txn-indexer/db"
)

// TokenOwnership is one row of the append-only ownership history, keyed by
// (transaction_version, write_set_change_index).
type TokenOwnership struct {
	TransactionVersion   uint64    `db:"transaction_version"`
	WriteSetChangeIndex  int64     `db:"write_set_change_index"`
	TokenDataID          string    `db:"token_data_id"`
	PropertyVersion      uint64    `db:"property_version"`
	OwnerAddress         string    `db:"owner_address"`
	StorageID            string    `db:"storage_id"`
	Amount               string    `db:"amount"`
	IsSoulbound          bool      `db:"is_soulbound"`
	TransactionTimestamp time.Time `db:"transaction_timestamp"`
}

// CurrentTokenOwnership is the latest-value-per-key projection of the
// ownership history, keyed by (token_data_id, property_version,
// owner_address, storage_id).
type CurrentTokenOwnership struct {
	TokenDataID              string    `db:"token_data_id"`
	PropertyVersion          uint64    `db:"property_version"`
	OwnerAddress             string    `db:"owner_address"`
	StorageID                string    `db:"storage_id"`
	Amount                   string    `db:"amount"`
	IsSoulbound              bool      `db:"is_soulbound"`
	LastTransactionVersion   uint64    `db:"last_transaction_version"`
	LastTransactionTimestamp time.Time `db:"last_transaction_timestamp"`
}

type TokenOwnershipsRepo interface {
	InsertAll(ctx context.Context, conn db.Conn, ownerships []*TokenOwnership) error
}

type CurrentTokenOwnershipsRepo interface {
	// UpsertAll overwrites each current row only when the incoming
	// last_transaction_version is not below the stored one.
	UpsertAll(ctx context.Context, conn db.Conn, ownerships []*CurrentTokenOwnership) error
	GetLatestByTokenDataID(ctx context.Context, tokenDataID string) (*CurrentTokenOwnership, error)
}
