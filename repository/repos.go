package repository

import (
	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/repository/postgres"
)

type Repo struct {
	ProcessorStatuses      entity.ProcessorStatusesRepo
	LedgerInfos            entity.LedgerInfosRepo
	BackfillStatuses       entity.BackfillStatusesRepo
	TokenOwnerships        entity.TokenOwnershipsRepo
	CurrentTokenOwnerships entity.CurrentTokenOwnershipsRepo
	Events                 entity.EventsRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		ProcessorStatuses:      postgres.NewProcessorStatusesRepo("processor_status", db),
		LedgerInfos:            postgres.NewLedgerInfosRepo("ledger_infos", db),
		BackfillStatuses:       postgres.NewBackfillStatusesRepo("backfill_processor_status", db),
		TokenOwnerships:        postgres.NewTokenOwnershipsRepo("token_ownerships", db),
		CurrentTokenOwnerships: postgres.NewCurrentTokenOwnershipsRepo("current_token_ownerships", db),
		Events:                 postgres.NewEventsRepo("events", db),
	}
}
