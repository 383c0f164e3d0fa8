package entity

import (
	"context"
	"time"

	"github.com/chainstream/txn-indexer/db"
)

// Event is one raw event row, keyed by (transaction_version, event_index).
type Event struct {
	TransactionVersion   uint64    `db:"transaction_version"`
	EventIndex           int64     `db:"event_index"`
	SequenceNumber       uint64    `db:"sequence_number"`
	CreationNumber       uint64    `db:"creation_number"`
	AccountAddress       string    `db:"account_address"`
	Type                 string    `db:"type"`
	Data                 string    `db:"data"`
	TransactionTimestamp time.Time `db:"transaction_timestamp"`
}

type EventsRepo interface {
	InsertAll(ctx context.Context, conn db.Conn, events []*Event) error
}
