package processor

import (
	"context"
	"fmt"

	transactionv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/transaction/v1"
	"github.com/aptos-labs/aptos-protos/protos/go/aptos/util/timestamp"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/indexer"
	"github.com/chainstream/txn-indexer/logging"
	"github.com/chainstream/txn-indexer/repository"
)

func testLogger() logging.Logger {
	return logging.New()
}

func writeResource(address, typeStr, data string) *transactionv1.WriteSetChange {
	return &transactionv1.WriteSetChange{
		Change: &transactionv1.WriteSetChange_WriteResource{
			WriteResource: &transactionv1.WriteResource{
				Address:      address,
				TypeStr:      typeStr,
				Data:         data,
				StateKeyHash: []byte{0x01},
			},
		},
	}
}

func deleteResource(address string) *transactionv1.WriteSetChange {
	return &transactionv1.WriteSetChange{
		Change: &transactionv1.WriteSetChange_DeleteResource{
			DeleteResource: &transactionv1.DeleteResource{
				Address:      address,
				TypeStr:      "0x1::object::ObjectGroup",
				StateKeyHash: []byte{0x02},
			},
		},
	}
}

func objectCoreData(owner string, allowUngatedTransfer bool) string {
	return fmt.Sprintf(`{"allow_ungated_transfer": %t, "guid_creation_num": "1125899906842624", "owner": %q}`,
		allowUngatedTransfer, owner)
}

func tokenData(collection, name string) string {
	return fmt.Sprintf(`{"collection": {"inner": %q}, "description": "d", "name": %q, "uri": "https://example.com"}`,
		collection, name)
}

func event(typeStr, accountAddress, data string) *transactionv1.Event {
	return &transactionv1.Event{
		Key: &transactionv1.EventKey{
			CreationNumber: 3,
			AccountAddress: accountAddress,
		},
		SequenceNumber: 7,
		TypeStr:        typeStr,
		Data:           data,
	}
}

func userTxn(version uint64, changes []*transactionv1.WriteSetChange, events []*transactionv1.Event) *transactionv1.Transaction {
	return &transactionv1.Transaction{
		Version:   version,
		Timestamp: &timestamp.Timestamp{Seconds: int64(1700000000 + version)},
		Info:      &transactionv1.TransactionInfo{Changes: changes},
		TxnData: &transactionv1.Transaction_User{
			User: &transactionv1.UserTransaction{Events: events},
		},
	}
}

func genesisTxn(version uint64) *transactionv1.Transaction {
	return &transactionv1.Transaction{
		Version:   version,
		Timestamp: &timestamp.Timestamp{Seconds: int64(1700000000 + version)},
		Info:      &transactionv1.TransactionInfo{},
		TxnData:   &transactionv1.Transaction_Genesis{Genesis: &transactionv1.GenesisTransaction{}},
	}
}

func batchOf(txns ...*transactionv1.Transaction) *indexer.TransactionBatch {
	return &indexer.TransactionBatch{
		ChainID:           1,
		Transactions:      txns,
		SizeInBytes:       1024,
		StartTxnTimestamp: txns[0].Timestamp,
		EndTxnTimestamp:   txns[len(txns)-1].Timestamp,
	}
}

type fakeTransactor struct {
	calls int
}

func (f *fakeTransactor) Transact(_ context.Context, fn func(tx db.Conn) error) error {
	f.calls++
	return fn(nil)
}

type fakeTokenOwnershipsRepo struct {
	rows     []*entity.TokenOwnership
	failures int
}

func (r *fakeTokenOwnershipsRepo) InsertAll(_ context.Context, _ db.Conn, rows []*entity.TokenOwnership) error {
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("insert rejected")
	}
	r.rows = append(r.rows, rows...)
	return nil
}

type fakeCurrentOwnershipsRepo struct {
	rows   []*entity.CurrentTokenOwnership
	latest map[string]*entity.CurrentTokenOwnership
}

func (r *fakeCurrentOwnershipsRepo) UpsertAll(_ context.Context, _ db.Conn, rows []*entity.CurrentTokenOwnership) error {
	r.rows = append(r.rows, rows...)
	return nil
}

func (r *fakeCurrentOwnershipsRepo) GetLatestByTokenDataID(_ context.Context, tokenDataID string) (*entity.CurrentTokenOwnership, error) {
	row, ok := r.latest[tokenDataID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return row, nil
}

type fakeEventsRepo struct {
	rows     []*entity.Event
	failures int
}

func (r *fakeEventsRepo) InsertAll(_ context.Context, _ db.Conn, rows []*entity.Event) error {
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("insert rejected")
	}
	r.rows = append(r.rows, rows...)
	return nil
}

func newTestTokenProcessor(ownerships *fakeTokenOwnershipsRepo, currents *fakeCurrentOwnershipsRepo) (*TokenProcessor, *fakeTransactor) {
	tx := &fakeTransactor{}
	p := &TokenProcessor{
		logger: testLogger(),
		tx:     tx,
		repo: &repository.Repo{
			TokenOwnerships:        ownerships,
			CurrentTokenOwnerships: currents,
		},
	}
	return p, tx
}

func newTestEventProcessor(events *fakeEventsRepo) *EventProcessor {
	return &EventProcessor{
		logger: testLogger(),
		tx:     &fakeTransactor{},
		repo:   &repository.Repo{Events: events},
	}
}
