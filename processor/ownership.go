package processor

import (
	"context"

	"github.com/chainstream/txn-indexer/entity"
)

// NFTOwnership is the in-memory record of who held a token, kept per batch
// so that a burn can name the previous owner even when the burn and the last
// transfer land in the same batch.
type NFTOwnership struct {
	TokenDataID  string
	OwnerAddress string
	IsSoulbound  bool
}

// OwnershipLookup resolves the last known owner of a token. Implementations
// form a chain: batch-scoped cache, then the database, then the zero-address
// sentinel. Expressing the tiers as one interface lets the database tier be
// absent without branching at the call sites.
type OwnershipLookup interface {
	LookupOwner(ctx context.Context, tokenDataID string) (string, bool)
}

// PriorOwnershipCache is the batch-scoped tier. It is not safe for
// concurrent use; each Process call owns its own cache.
type PriorOwnershipCache struct {
	owners map[string]NFTOwnership
}

func NewPriorOwnershipCache() *PriorOwnershipCache {
	return &PriorOwnershipCache{owners: map[string]NFTOwnership{}}
}

func (c *PriorOwnershipCache) Put(ownership NFTOwnership) {
	c.owners[ownership.TokenDataID] = ownership
}

func (c *PriorOwnershipCache) LookupOwner(_ context.Context, tokenDataID string) (string, bool) {
	ownership, ok := c.owners[tokenDataID]
	if !ok {
		return "", false
	}
	return ownership.OwnerAddress, true
}

type dbOwnershipLookup struct {
	repo entity.CurrentTokenOwnershipsRepo
}

// NewDBOwnershipLookup resolves owners from the current_token_ownerships
// table, for burns whose transfer history predates this batch.
func NewDBOwnershipLookup(repo entity.CurrentTokenOwnershipsRepo) OwnershipLookup {
	return &dbOwnershipLookup{repo: repo}
}

func (l *dbOwnershipLookup) LookupOwner(ctx context.Context, tokenDataID string) (string, bool) {
	ownership, err := l.repo.GetLatestByTokenDataID(ctx, tokenDataID)
	if err != nil {
		return "", false
	}
	OwnershipFallbacks.WithLabelValues("database").Inc()
	return ownership.OwnerAddress, true
}

type zeroAddressLookup struct{}

// NewZeroAddressLookup always resolves to the zero address. It terminates a
// lookup chain so that a burned token with no recoverable owner still
// produces a row.
func NewZeroAddressLookup() OwnershipLookup {
	return zeroAddressLookup{}
}

func (zeroAddressLookup) LookupOwner(context.Context, string) (string, bool) {
	OwnershipFallbacks.WithLabelValues("zero_address").Inc()
	return ZeroAddress, true
}

type chainLookup struct {
	tiers []OwnershipLookup
}

// ChainOwnershipLookup tries each tier in order.
func ChainOwnershipLookup(tiers ...OwnershipLookup) OwnershipLookup {
	return &chainLookup{tiers: tiers}
}

func (c *chainLookup) LookupOwner(ctx context.Context, tokenDataID string) (string, bool) {
	for _, tier := range c.tiers {
		if owner, ok := tier.LookupOwner(ctx, tokenDataID); ok {
			return owner, true
		}
	}
	return "", false
}
