package indexer

import (
	"context"
	"io"
	"sync"

	indexerv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/indexer/v1"
	transactionv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/transaction/v1"
	"github.com/aptos-labs/aptos-protos/protos/go/aptos/util/timestamp"

	"github.com/chainstream/txn-indexer/db"
	"github.com/chainstream/txn-indexer/entity"
	"github.com/chainstream/txn-indexer/grpcstream"
)

func makeTxns(start, count uint64) []*transactionv1.Transaction {
	txns := make([]*transactionv1.Transaction, 0, count)
	for v := start; v < start+count; v++ {
		txns = append(txns, &transactionv1.Transaction{
			Version:   v,
			Timestamp: &timestamp.Timestamp{Seconds: int64(1700000000 + v)},
		})
	}
	return txns
}

func makeResp(chainID, start, count uint64) *indexerv1.TransactionsResponse {
	return &indexerv1.TransactionsResponse{
		Transactions: makeTxns(start, count),
		ChainId:      &chainID,
	}
}

func makeBatch(chainID, start, count uint64) *TransactionBatch {
	txns := makeTxns(start, count)
	return &TransactionBatch{
		ChainID:           chainID,
		Transactions:      txns,
		SizeInBytes:       count * 100,
		StartTxnTimestamp: txns[0].Timestamp,
		EndTxnTimestamp:   txns[len(txns)-1].Timestamp,
	}
}

type fakeStream struct {
	responses []*indexerv1.TransactionsResponse
	finalErr  error
	idx       int
	closed    bool
}

func (s *fakeStream) Recv() (*indexerv1.TransactionsResponse, error) {
	if s.idx < len(s.responses) {
		resp := s.responses[s.idx]
		s.idx++
		return resp, nil
	}
	if s.finalErr != nil {
		return nil, s.finalErr
	}
	select {}
}

func (s *fakeStream) ConnectionID() string { return "fake-connection" }

func (s *fakeStream) Close() { s.closed = true }

type fakeClient struct {
	mu      sync.Mutex
	queue   []*fakeStream
	opens   []uint64
	openErr error
}

func (c *fakeClient) Open(_ context.Context, startingVersion uint64, _ *uint64) (grpcstream.TransactionStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens = append(c.opens, startingVersion)
	if c.openErr != nil {
		return nil, c.openErr
	}
	if len(c.queue) == 0 {
		return &fakeStream{finalErr: io.EOF}, nil
	}
	stream := c.queue[0]
	c.queue = c.queue[1:]
	return stream, nil
}

func (c *fakeClient) FetchChainID(context.Context) (uint64, error) { return 1, nil }

func (c *fakeClient) Target() string { return "fake" }

type fakeStatusesRepo struct {
	mu       sync.Mutex
	statuses map[string]*entity.ProcessorStatus
	err      error
}

func newFakeStatusesRepo() *fakeStatusesRepo {
	return &fakeStatusesRepo{statuses: map[string]*entity.ProcessorStatus{}}
}

func (r *fakeStatusesRepo) GetByName(_ context.Context, name string) (*entity.ProcessorStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	status, ok := r.statuses[name]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *status
	return &copied, nil
}

func (r *fakeStatusesRepo) Upsert(_ context.Context, status *entity.ProcessorStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	stored, ok := r.statuses[status.ProcessorName]
	if ok && stored.LastSuccessVersion > status.LastSuccessVersion {
		return nil
	}
	copied := *status
	r.statuses[status.ProcessorName] = &copied
	return nil
}

type fakeLedgerRepo struct {
	mu   sync.Mutex
	info *entity.LedgerInfo
}

func (r *fakeLedgerRepo) Get(context.Context) (*entity.LedgerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.info == nil {
		return nil, db.ErrNotFound
	}
	copied := *r.info
	return &copied, nil
}

func (r *fakeLedgerRepo) Insert(_ context.Context, info *entity.LedgerInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *info
	r.info = &copied
	return nil
}

type fakeBackfillsRepo struct {
	mu       sync.Mutex
	statuses map[string]*entity.BackfillStatus
}

func newFakeBackfillsRepo() *fakeBackfillsRepo {
	return &fakeBackfillsRepo{statuses: map[string]*entity.BackfillStatus{}}
}

func (r *fakeBackfillsRepo) GetByAlias(_ context.Context, alias string) (*entity.BackfillStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[alias]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *status
	return &copied, nil
}

func (r *fakeBackfillsRepo) Upsert(_ context.Context, status *entity.BackfillStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *status
	r.statuses[status.BackfillAlias] = &copied
	return nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed [][2]uint64
	chainIDs  []uint64
	delay     func(batch *TransactionBatch)
	err       error
}

func (p *fakeProcessor) Name() string { return "fake_processor" }

func (p *fakeProcessor) Process(_ context.Context, batch *TransactionBatch, chainID uint64) (*ProcessingResult, error) {
	if p.delay != nil {
		p.delay(batch)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.processed = append(p.processed, [2]uint64{batch.StartVersion(), batch.EndVersion()})
	p.chainIDs = append(p.chainIDs, chainID)
	return &ProcessingResult{
		StartVersion:     batch.StartVersion(),
		EndVersion:       batch.EndVersion(),
		LastTxnTimestamp: batch.EndTxnTimestamp,
	}, nil
}
