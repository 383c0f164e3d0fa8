package entity

import "context"

type LedgerInfo struct {
	ChainID int64 `db:"chain_id"`
}

type LedgerInfosRepo interface {
	Get(ctx context.Context) (*LedgerInfo, error)
	// Insert writes the chain id. It is only valid when no chain id has been
	// persisted yet; overwriting is not supported.
	Insert(ctx context.Context, info *LedgerInfo) error
}
