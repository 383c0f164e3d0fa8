package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/grpcstream"
	"github.com/chainstream/txn-indexer/indexer"
	"github.com/chainstream/txn-indexer/logging"
	"github.com/chainstream/txn-indexer/ops"
	"github.com/chainstream/txn-indexer/processor"
	"github.com/chainstream/txn-indexer/repository"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the yaml config file")
	flag.Parse()

	logger := logging.New()

	cfg, err := config.ReadConfigFromFile(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	dbConn, err := db.ConnectToDBAndMigrate(cfg.DBConfig)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to database and apply migrations")
	}
	defer dbConn.Close()
	repo := repository.NewRepo(dbConn)

	opsServer := ops.NewServer(logger.WithField("service", "ops"), dbConn)
	go func() {
		if err2 := opsServer.Serve(cfg.MetricsHost); err2 != nil {
			logger.WithError(err2).Fatal("can't serve ops endpoints")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := grpcstream.NewClient(logger.WithField("service", "grpc_client"), cfg.TransactionStream)
	if err != nil {
		logger.WithError(err).Fatal("can't create transaction stream client")
	}

	chainID, err := client.FetchChainID(ctx)
	if err != nil {
		logger.WithError(err).Fatal("can't fetch chain id from data service")
	}
	if err = checkOrStoreChainID(ctx, repo, chainID); err != nil {
		logger.WithError(err).Fatal("chain id check failed")
	}
	logger.WithField("chain_id", chainID).Info("connected to data service")

	proc, err := buildProcessor(logger, dbConn, repo, cfg.Processor.Type)
	if err != nil {
		logger.WithError(err).Fatal("can't build processor")
	}

	resolution, err := indexer.ResolveStartingVersion(ctx, logger, cfg, repo.ProcessorStatuses, repo.BackfillStatuses, proc.Name())
	if err != nil {
		logger.WithError(err).Fatal("can't resolve starting version")
	}
	if resolution.AlreadyComplete {
		logger.Info("backfill already complete, nothing to do")
		return
	}

	var backfill *config.BackfillConfig
	if cfg.Mode.Type == config.ModeBackfill {
		backfill = cfg.Mode.Backfill
	}

	metrics := indexer.NewPrometheusSink()
	batches := make(chan *indexer.TransactionBatch, cfg.Dispatcher.ChannelBufferSize)
	fetcher := indexer.NewFetcher(logger, client, cfg.TransactionStream, metrics, proc.Name(),
		batches, resolution.StartingVersion, resolution.EndingVersion)
	dispatcher := indexer.NewDispatcher(logger, cfg.Dispatcher, repo, proc, metrics,
		batches, resolution.StartingVersion, backfill)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fetcher.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		indexer.Abort(logger, err)
	}
	logger.Info("pipeline finished, exiting")
}

func buildProcessor(logger logging.Logger, dbConn *db.DB, repo *repository.Repo, procType string) (indexer.Processor, error) {
	switch procType {
	case "token_processor":
		return processor.NewTokenProcessor(logger, dbConn, repo), nil
	case "event_processor":
		return processor.NewEventProcessor(logger, dbConn, repo), nil
	default:
		return nil, fmt.Errorf("unknown processor type %q", procType)
	}
}

// checkOrStoreChainID persists the chain id on first startup and refuses to
// run against a different chain afterwards.
func checkOrStoreChainID(ctx context.Context, repo *repository.Repo, chainID uint64) error {
	info, err := repo.LedgerInfos.Get(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return repo.LedgerInfos.Insert(ctx, &entity.LedgerInfo{ChainID: int64(chainID)})
	}
	if err != nil {
		return err
	}
	if uint64(info.ChainID) != chainID {
		return indexer.ErrChainIDMismatch
	}
	return nil
}
