package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/logging"
)

// Resolution is the outcome of deciding where ingestion resumes.
type Resolution struct {
	StartingVersion uint64
	EndingVersion   *uint64
	// AlreadyComplete is set when a backfill has finished in a previous run
	// and overwrite_checkpoint is off; there is nothing left to do.
	AlreadyComplete bool
}

// ResolveStartingVersion decides from where to resume based on the run mode
// and the durable checkpoints.
func ResolveStartingVersion(
	ctx context.Context,
	logger logging.Logger,
	cfg *config.Config,
	statuses entity.ProcessorStatusesRepo,
	backfills entity.BackfillStatusesRepo,
	processorName string,
) (*Resolution, error) {
	switch cfg.Mode.Type {
	case config.ModeBackfill:
		return resolveBackfill(ctx, logger, cfg.Mode.Backfill, backfills)
	case config.ModeTesting:
		return &Resolution{
			StartingVersion: cfg.Mode.Testing.OverrideStartingVersion,
			EndingVersion:   cfg.Mode.Testing.EndingVersion,
		}, nil
	default:
		return resolveDefault(ctx, logger, cfg, statuses, processorName)
	}
}

func resolveDefault(
	ctx context.Context,
	logger logging.Logger,
	cfg *config.Config,
	statuses entity.ProcessorStatusesRepo,
	processorName string,
) (*Resolution, error) {
	starting := cfg.InitialStartingVersion()

	status, err := statuses.GetByName(ctx, processorName)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("can't read checkpoint: %w", err)
	case status.LastSuccessVersion > starting:
		starting = status.LastSuccessVersion
	}

	logger.WithFields(logrus.Fields{
		"processor":        processorName,
		"starting_version": starting,
	}).Info("resolved starting version")
	return &Resolution{StartingVersion: starting, EndingVersion: cfg.EndingVersion()}, nil
}

func resolveBackfill(
	ctx context.Context,
	logger logging.Logger,
	cfg *config.BackfillConfig,
	backfills entity.BackfillStatusesRepo,
) (*Resolution, error) {
	ending := cfg.EndingVersion
	resolution := &Resolution{EndingVersion: &ending}

	status, err := backfills.GetByAlias(ctx, cfg.BackfillID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		resolution.StartingVersion = cfg.InitialStartingVersion
	case err != nil:
		return nil, fmt.Errorf("can't read backfill status: %w", err)
	case status.Status == entity.BackfillComplete && !cfg.OverwriteCheckpoint:
		resolution.StartingVersion = cfg.EndingVersion
		resolution.AlreadyComplete = true
	case cfg.OverwriteCheckpoint:
		err = backfills.Upsert(ctx, &entity.BackfillStatus{
			BackfillAlias:        cfg.BackfillID,
			Status:               entity.BackfillInProgress,
			LastSuccessVersion:   cfg.InitialStartingVersion,
			BackfillStartVersion: cfg.InitialStartingVersion,
			BackfillEndVersion:   cfg.EndingVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("can't reset backfill status: %w", err)
		}
		resolution.StartingVersion = cfg.InitialStartingVersion
	default:
		resolution.StartingVersion = status.LastSuccessVersion + 1
	}

	logger.WithFields(logrus.Fields{
		"backfill_id":      cfg.BackfillID,
		"starting_version": resolution.StartingVersion,
		"ending_version":   ending,
		"already_complete": resolution.AlreadyComplete,
	}).Info("resolved backfill starting version")
	return resolution, nil
}

// ResolveStartingVersionMultiTable resolves for a processor that writes
// several tables, each with its own checkpoint. The slowest table wins so
// that no table skips versions.
func ResolveStartingVersionMultiTable(
	ctx context.Context,
	statuses entity.ProcessorStatusesRepo,
	initialStartingVersion uint64,
	tableNames []string,
) (uint64, error) {
	minCheckpoint := uint64(0)
	found := false
	for _, name := range tableNames {
		status, err := statuses.GetByName(ctx, name)
		if errors.Is(err, db.ErrNotFound) {
			// A table with no checkpoint has processed nothing yet.
			return initialStartingVersion, nil
		}
		if err != nil {
			return 0, fmt.Errorf("can't read checkpoint for %s: %w", name, err)
		}
		if !found || status.LastSuccessVersion < minCheckpoint {
			minCheckpoint = status.LastSuccessVersion
			found = true
		}
	}
	if !found || minCheckpoint < initialStartingVersion {
		return initialStartingVersion, nil
	}
	return minCheckpoint, nil
}
