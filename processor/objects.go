package processor

import (
	"encoding/json"

	transactionv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/transaction/v1"
	"github.com/sirupsen/logrus"

	"github.com/chainstream/txn-indexer/logging"
)

const (
	objectCoreType      = "0x1::object::ObjectCore"
	tokenV2Type         = "0x4::token::Token"
	fixedSupplyType     = "0x4::collection::FixedSupply"
	unlimitedSupplyType = "0x4::collection::UnlimitedSupply"
	propertyMapType     = "0x4::property_map::PropertyMap"
)

// ObjectCore is the 0x1::object::ObjectCore resource.
type ObjectCore struct {
	AllowUngatedTransfer bool   `json:"allow_ungated_transfer"`
	GuidCreationNum      string `json:"guid_creation_num"`
	Owner                string `json:"owner"`
}

func (c *ObjectCore) OwnerAddress() string {
	return StandardizeAddress(c.Owner)
}

// ObjectWithMetadata pairs the decoded object core with the state key hash
// of the write that produced it.
type ObjectWithMetadata struct {
	ObjectCore   ObjectCore
	StateKeyHash string
}

type ResourceReference struct {
	Inner string `json:"inner"`
}

func (r *ResourceReference) ReferenceAddress() string {
	return StandardizeAddress(r.Inner)
}

// TokenV2 is the 0x4::token::Token resource.
type TokenV2 struct {
	Collection  ResourceReference `json:"collection"`
	Description string            `json:"description"`
	Name        string            `json:"name"`
	URI         string            `json:"uri"`
}

func (t *TokenV2) CollectionAddress() string {
	return t.Collection.ReferenceAddress()
}

type FixedSupply struct {
	CurrentSupply string `json:"current_supply"`
	MaxSupply     string `json:"max_supply"`
	TotalMinted   string `json:"total_minted"`
}

type UnlimitedSupply struct {
	CurrentSupply string `json:"current_supply"`
	TotalMinted   string `json:"total_minted"`
}

type PropertyMap struct {
	Inner json.RawMessage `json:"inner"`
}

// TransferEventWithIndex carries the synthetic event index alongside the
// decoded transfer so ownership rows derived from it cannot collide with
// write-set-change indexes.
type TransferEventWithIndex struct {
	EventIndex int64
	Transfer   *TransferEvent
}

// ObjectAggregatedData collects everything observed about one object
// address within a batch.
type ObjectAggregatedData struct {
	Object          *ObjectWithMetadata
	Token           *TokenV2
	FixedSupply     *FixedSupply
	UnlimitedSupply *UnlimitedSupply
	PropertyMap     *PropertyMap
	TransferEvents  []TransferEventWithIndex
}

// ObjectAggregatedDataMapping maps object address to its aggregated data.
// It is carried across all transactions of a batch so that burned objects
// keep their metadata visible for the rest of the batch.
type ObjectAggregatedDataMapping map[string]*ObjectAggregatedData

// AggregateObjects walks a transaction's write set twice: the first pass
// registers every object core, the second attaches related resources to the
// objects found. Two passes are required because the write set does not
// guarantee that the object core precedes its sub-resources.
func AggregateObjects(logger logging.Logger, txn *transactionv1.Transaction, objects ObjectAggregatedDataMapping) {
	changes := txn.GetInfo().GetChanges()

	for _, wsc := range changes {
		wr := wsc.GetWriteResource()
		if wr == nil || wr.TypeStr != objectCoreType {
			continue
		}
		core := new(ObjectCore)
		if !decodeResource(logger, txn.Version, wr, core) {
			continue
		}
		objects[StandardizeAddress(wr.Address)] = &ObjectAggregatedData{
			Object: &ObjectWithMetadata{
				ObjectCore:   *core,
				StateKeyHash: StandardizeAddressBytes(wr.StateKeyHash),
			},
		}
	}

	for _, wsc := range changes {
		wr := wsc.GetWriteResource()
		if wr == nil {
			continue
		}
		data, ok := objects[StandardizeAddress(wr.Address)]
		if !ok {
			continue
		}
		switch wr.TypeStr {
		case tokenV2Type:
			token := new(TokenV2)
			if decodeResource(logger, txn.Version, wr, token) {
				data.Token = token
			}
		case fixedSupplyType:
			supply := new(FixedSupply)
			if decodeResource(logger, txn.Version, wr, supply) {
				data.FixedSupply = supply
			}
		case unlimitedSupplyType:
			supply := new(UnlimitedSupply)
			if decodeResource(logger, txn.Version, wr, supply) {
				data.UnlimitedSupply = supply
			}
		case propertyMapType:
			properties := new(PropertyMap)
			if decodeResource(logger, txn.Version, wr, properties) {
				data.PropertyMap = properties
			}
		}
	}
}

// decodeResource unmarshals a write resource payload. Undecodable resources
// are counted and skipped rather than failing the batch.
func decodeResource(logger logging.Logger, version uint64, wr *transactionv1.WriteResource, dest interface{}) bool {
	if err := json.Unmarshal([]byte(wr.Data), dest); err != nil {
		DecodeErrors.WithLabelValues(wr.TypeStr).Inc()
		logger.WithError(err).WithFields(logrus.Fields{
			"version":       version,
			"resource_type": wr.TypeStr,
			"address":       wr.Address,
		}).Warn("can't decode write resource, skipping")
		return false
	}
	return true
}
