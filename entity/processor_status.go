package entity

import (
	"context"
	"time"
)

type ProcessorStatus struct {
	ProcessorName            string     `db:"processor_name"`
	LastSuccessVersion       uint64     `db:"last_success_version"`
	LastUpdated              *time.Time `db:"last_updated"`
	LastTransactionTimestamp *time.Time `db:"last_transaction_timestamp"`
}

type ProcessorStatusesRepo interface {
	GetByName(ctx context.Context, processorName string) (*ProcessorStatus, error)
	// Upsert advances the checkpoint; the write is conditional on
	// last_success_version not decreasing.
	Upsert(ctx context.Context, status *ProcessorStatus) error
}
