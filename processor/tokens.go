package processor

import (
	"context"
	"sort"
	"time"

	transactionv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/transaction/v1"
	"github.com/aptos-labs/aptos-protos/protos/go/aptos/util/timestamp"
	"github.com/sirupsen/logrus"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/indexer"
	"github.com/chainstream/txn-indexer/logging"
	"github.com/chainstream/txn-indexer/repository"
)

const (
	amountOne  = "1"
	amountZero = "0"
)

type transactor interface {
	Transact(ctx context.Context, fn func(tx db.Conn) error) error
}

// TokenProcessor derives token ownership history and current ownership from
// write sets and burn events.
type TokenProcessor struct {
	logger logging.Logger
	pool   *db.DB
	tx     transactor
	repo   *repository.Repo
}

func NewTokenProcessor(logger logging.Logger, pool *db.DB, repo *repository.Repo) *TokenProcessor {
	return &TokenProcessor{
		logger: logger.WithField("processor", "token_processor"),
		pool:   pool,
		tx:     pool,
		repo:   repo,
	}
}

func (p *TokenProcessor) Name() string { return "token_processor" }

func (p *TokenProcessor) ConnectionPool() *db.DB { return p.pool }

func (p *TokenProcessor) Process(ctx context.Context, batch *indexer.TransactionBatch, chainID uint64) (*indexer.ProcessingResult, error) {
	start := time.Now()
	ownerships, currents := p.parseBatch(ctx, batch)
	parsed := time.Now()

	if err := p.insertWithRetry(ctx, ownerships, currents); err != nil {
		return nil, err
	}
	return &indexer.ProcessingResult{
		StartVersion:        batch.StartVersion(),
		EndVersion:          batch.EndVersion(),
		LastTxnTimestamp:    batch.EndTxnTimestamp,
		ProcessingDuration:  parsed.Sub(start),
		DBInsertionDuration: time.Since(parsed),
	}, nil
}

type currentKey struct {
	tokenDataID     string
	propertyVersion uint64
	ownerAddress    string
	storageID       string
}

type rankedCurrent struct {
	row      *entity.CurrentTokenOwnership
	wscIndex int64
}

// parseBatch walks every transaction of the batch. Object metadata and
// prior ownership are carried across transactions so a token transferred
// and burned within the same batch still resolves its previous owner.
func (p *TokenProcessor) parseBatch(ctx context.Context, batch *indexer.TransactionBatch) ([]*entity.TokenOwnership, []*entity.CurrentTokenOwnership) {
	objects := ObjectAggregatedDataMapping{}
	prior := NewPriorOwnershipCache()
	previousOwners := ChainOwnershipLookup(
		prior,
		NewDBOwnershipLookup(p.repo.CurrentTokenOwnerships),
		NewZeroAddressLookup(),
	)

	var ownerships []*entity.TokenOwnership
	currents := map[currentKey]*rankedCurrent{}

	for _, txn := range batch.Transactions {
		user := txn.GetUser()
		if user == nil {
			UnknownTransactionType.WithLabelValues(p.Name()).Inc()
			continue
		}
		txnTimestamp := parseTimestamp(txn.Timestamp)

		AggregateObjects(p.logger, txn, objects)
		burned := CollectTokenEvents(p.logger, txn, user.Events, objects)

		for wscIndex, wsc := range txn.GetInfo().GetChanges() {
			if wr := wsc.GetWriteResource(); wr != nil {
				if wr.TypeStr == tokenV2Type {
					p.handleTokenWrite(txn, int64(wscIndex), wr, objects, prior, txnTimestamp, &ownerships, currents)
				}
				if burn, ok := burned[StandardizeAddress(wr.Address)]; ok {
					p.handleBurn(ctx, txn, int64(wscIndex), burn, previousOwners, prior, txnTimestamp, &ownerships, currents)
				}
				continue
			}
			if dr := wsc.GetDeleteResource(); dr != nil {
				if burn, ok := burned[StandardizeAddress(dr.Address)]; ok {
					p.handleBurn(ctx, txn, int64(wscIndex), burn, previousOwners, prior, txnTimestamp, &ownerships, currents)
				}
			}
		}
	}

	return ownerships, flattenCurrents(currents)
}

// handleTokenWrite emits the live ownership row for a written token plus a
// zero-amount row per transfer event, marking the previous holder.
func (p *TokenProcessor) handleTokenWrite(
	txn *transactionv1.Transaction,
	wscIndex int64,
	wr *transactionv1.WriteResource,
	objects ObjectAggregatedDataMapping,
	prior *PriorOwnershipCache,
	txnTimestamp time.Time,
	ownerships *[]*entity.TokenOwnership,
	currents map[currentKey]*rankedCurrent,
) {
	tokenDataID := StandardizeAddress(wr.Address)
	data, ok := objects[tokenDataID]
	if !ok || data.Object == nil || data.Token == nil {
		return
	}
	owner := data.Object.ObjectCore.OwnerAddress()
	isSoulbound := !data.Object.ObjectCore.AllowUngatedTransfer

	*ownerships = append(*ownerships, &entity.TokenOwnership{
		TransactionVersion:   txn.Version,
		WriteSetChangeIndex:  wscIndex,
		TokenDataID:          tokenDataID,
		OwnerAddress:         owner,
		StorageID:            tokenDataID,
		Amount:               amountOne,
		IsSoulbound:          isSoulbound,
		TransactionTimestamp: txnTimestamp,
	})
	putCurrent(currents, &entity.CurrentTokenOwnership{
		TokenDataID:              tokenDataID,
		OwnerAddress:             owner,
		StorageID:                tokenDataID,
		Amount:                   amountOne,
		IsSoulbound:              isSoulbound,
		LastTransactionVersion:   txn.Version,
		LastTransactionTimestamp: txnTimestamp,
	}, wscIndex)
	prior.Put(NFTOwnership{TokenDataID: tokenDataID, OwnerAddress: owner, IsSoulbound: isSoulbound})

	for _, te := range data.TransferEvents {
		from := te.Transfer.FromAddress()
		if from == te.Transfer.ToAddress() {
			continue
		}
		// The negated event index keeps transfer rows out of the
		// write-set-change index space.
		*ownerships = append(*ownerships, &entity.TokenOwnership{
			TransactionVersion:   txn.Version,
			WriteSetChangeIndex:  -te.EventIndex,
			TokenDataID:          tokenDataID,
			OwnerAddress:         from,
			StorageID:            tokenDataID,
			Amount:               amountZero,
			IsSoulbound:          isSoulbound,
			TransactionTimestamp: txnTimestamp,
		})
		putCurrent(currents, &entity.CurrentTokenOwnership{
			TokenDataID:              tokenDataID,
			OwnerAddress:             from,
			StorageID:                tokenDataID,
			Amount:                   amountZero,
			IsSoulbound:              isSoulbound,
			LastTransactionVersion:   txn.Version,
			LastTransactionTimestamp: txnTimestamp,
		}, -te.EventIndex)
	}
}

// handleBurn emits the zero-amount row for a burned token. The previous
// owner comes from the burn event itself when present, otherwise from the
// lookup chain, ending at the zero-address sentinel.
func (p *TokenProcessor) handleBurn(
	ctx context.Context,
	txn *transactionv1.Transaction,
	wscIndex int64,
	burn *Burn,
	previousOwners OwnershipLookup,
	prior *PriorOwnershipCache,
	txnTimestamp time.Time,
	ownerships *[]*entity.TokenOwnership,
	currents map[currentKey]*rankedCurrent,
) {
	tokenDataID := burn.TokenAddress()
	owner, ok := burn.PreviousOwnerAddress()
	if !ok {
		owner, _ = previousOwners.LookupOwner(ctx, tokenDataID)
		if owner == ZeroAddress {
			p.logger.WithFields(logrus.Fields{
				"version":       txn.Version,
				"token_data_id": tokenDataID,
			}).Error("can't find previous owner for burned token")
		}
	}

	*ownerships = append(*ownerships, &entity.TokenOwnership{
		TransactionVersion:   txn.Version,
		WriteSetChangeIndex:  wscIndex,
		TokenDataID:          tokenDataID,
		OwnerAddress:         owner,
		StorageID:            tokenDataID,
		Amount:               amountZero,
		TransactionTimestamp: txnTimestamp,
	})
	putCurrent(currents, &entity.CurrentTokenOwnership{
		TokenDataID:              tokenDataID,
		OwnerAddress:             owner,
		StorageID:                tokenDataID,
		Amount:                   amountZero,
		LastTransactionVersion:   txn.Version,
		LastTransactionTimestamp: txnTimestamp,
	}, wscIndex)
	prior.Put(NFTOwnership{TokenDataID: tokenDataID, OwnerAddress: owner})
}

// putCurrent keeps the latest row per current-state key, ranked by
// (transaction version, write set change index).
func putCurrent(currents map[currentKey]*rankedCurrent, row *entity.CurrentTokenOwnership, wscIndex int64) {
	key := currentKey{
		tokenDataID:     row.TokenDataID,
		propertyVersion: row.PropertyVersion,
		ownerAddress:    row.OwnerAddress,
		storageID:       row.StorageID,
	}
	existing, ok := currents[key]
	if ok && (existing.row.LastTransactionVersion > row.LastTransactionVersion ||
		(existing.row.LastTransactionVersion == row.LastTransactionVersion && existing.wscIndex > wscIndex)) {
		return
	}
	currents[key] = &rankedCurrent{row: row, wscIndex: wscIndex}
}

func flattenCurrents(currents map[currentKey]*rankedCurrent) []*entity.CurrentTokenOwnership {
	rows := make([]*entity.CurrentTokenOwnership, 0, len(currents))
	for _, ranked := range currents {
		rows = append(rows, ranked.row)
	}
	// Deterministic order keeps concurrent batch commits from deadlocking.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TokenDataID != rows[j].TokenDataID {
			return rows[i].TokenDataID < rows[j].TokenDataID
		}
		if rows[i].OwnerAddress != rows[j].OwnerAddress {
			return rows[i].OwnerAddress < rows[j].OwnerAddress
		}
		return rows[i].PropertyVersion < rows[j].PropertyVersion
	})
	return rows
}

func (p *TokenProcessor) insertWithRetry(ctx context.Context, ownerships []*entity.TokenOwnership, currents []*entity.CurrentTokenOwnership) error {
	err := p.insert(ctx, ownerships, currents)
	if err == nil {
		return nil
	}
	p.logger.WithError(err).Warn("batch insert failed, retrying with cleaned data")

	for _, row := range ownerships {
		row.TokenDataID = StripNulls(row.TokenDataID)
		row.OwnerAddress = StripNulls(row.OwnerAddress)
		row.StorageID = StripNulls(row.StorageID)
	}
	for _, row := range currents {
		row.TokenDataID = StripNulls(row.TokenDataID)
		row.OwnerAddress = StripNulls(row.OwnerAddress)
		row.StorageID = StripNulls(row.StorageID)
	}
	return p.insert(ctx, ownerships, currents)
}

func (p *TokenProcessor) insert(ctx context.Context, ownerships []*entity.TokenOwnership, currents []*entity.CurrentTokenOwnership) error {
	return p.tx.Transact(ctx, func(tx db.Conn) error {
		if err := p.repo.TokenOwnerships.InsertAll(ctx, tx, ownerships); err != nil {
			return err
		}
		return p.repo.CurrentTokenOwnerships.UpsertAll(ctx, tx, currents)
	})
}

func parseTimestamp(ts *timestamp.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}
