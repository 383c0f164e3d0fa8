package entity

import (
	"context"
	"time"
)

type BackfillState string

const (
	BackfillInProgress BackfillState = "in_progress"
	BackfillComplete   BackfillState = "complete"
)

type BackfillStatus struct {
	BackfillAlias            string        `db:"backfill_alias"`
	Status                   BackfillState `db:"status"`
	LastSuccessVersion       uint64        `db:"last_success_version"`
	BackfillStartVersion     uint64        `db:"backfill_start_version"`
	BackfillEndVersion       uint64        `db:"backfill_end_version"`
	LastUpdated              *time.Time    `db:"last_updated"`
	LastTransactionTimestamp *time.Time    `db:"last_transaction_timestamp"`
}

type BackfillStatusesRepo interface {
	GetByAlias(ctx context.Context, backfillAlias string) (*BackfillStatus, error)
	Upsert(ctx context.Context, status *BackfillStatus) error
}
