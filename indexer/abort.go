package indexer

import (
	"os"

	"github.com/chainstream/txn-indexer/logging"
)

// Abort logs a fatal pipeline error and terminates the process. Restart
// supervision is left to the orchestrator, which restarts from the durable
// checkpoint.
func Abort(logger logging.Logger, err error) {
	logger.WithError(err).Error("pipeline hit an unrecoverable error, exiting")
	os.Exit(1)
}
