package processor

import (
	"encoding/json"

	transactionv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/transaction/v1"
	"github.com/sirupsen/logrus"

	"github.com/chainstream/txn-indexer/logging"
)

const (
	burnEventTypeV2     = "0x4::collection::Burn"
	burnEventTypeLegacy = "0x4::collection::BurnEvent"
	transferEventType   = "0x1::object::TransferEvent"
)

// Burn is the 0x4::collection::Burn event. The legacy BurnEvent shape is
// normalized into this struct with an empty PreviousOwner.
type Burn struct {
	Collection    string `json:"collection"`
	Token         string `json:"token"`
	PreviousOwner string `json:"previous_owner"`
}

func (b *Burn) TokenAddress() string {
	return StandardizeAddress(b.Token)
}

func (b *Burn) CollectionAddress() string {
	return StandardizeAddress(b.Collection)
}

// PreviousOwnerAddress returns the owner recorded in the event, or false for
// legacy burns that never carried one.
func (b *Burn) PreviousOwnerAddress() (string, bool) {
	if b.PreviousOwner == "" {
		return "", false
	}
	return StandardizeAddress(b.PreviousOwner), true
}

type legacyBurnEvent struct {
	Index string `json:"index"`
	Token string `json:"token"`
}

// TransferEvent is the 0x1::object::TransferEvent event.
type TransferEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Object string `json:"object"`
}

func (e *TransferEvent) FromAddress() string   { return StandardizeAddress(e.From) }
func (e *TransferEvent) ToAddress() string     { return StandardizeAddress(e.To) }
func (e *TransferEvent) ObjectAddress() string { return StandardizeAddress(e.Object) }

// TokensBurned maps burned token address to its burn event within one
// transaction.
type TokensBurned map[string]*Burn

// CollectTokenEvents walks a user transaction's events once, gathering burn
// events and attaching transfer events to the objects they moved. Transfer
// events receive a synthetic index (the event index, or len(events) when the
// index is zero) that callers negate, so the resulting ownership rows never
// collide with write-set-change indexes.
func CollectTokenEvents(
	logger logging.Logger,
	txn *transactionv1.Transaction,
	events []*transactionv1.Event,
	objects ObjectAggregatedDataMapping,
) TokensBurned {
	burned := TokensBurned{}

	for i, event := range events {
		switch event.TypeStr {
		case burnEventTypeV2:
			burn := new(Burn)
			if !decodeEvent(logger, txn.Version, event, burn) {
				continue
			}
			burned[burn.TokenAddress()] = burn

		case burnEventTypeLegacy:
			legacy := new(legacyBurnEvent)
			if !decodeEvent(logger, txn.Version, event, legacy) {
				continue
			}
			burn := &Burn{
				Collection: StandardizeAddress(event.GetKey().GetAccountAddress()),
				Token:      legacy.Token,
			}
			burned[burn.TokenAddress()] = burn

		case transferEventType:
			transfer := new(TransferEvent)
			if !decodeEvent(logger, txn.Version, event, transfer) {
				continue
			}
			data, ok := objects[transfer.ObjectAddress()]
			if !ok {
				continue
			}
			index := int64(i)
			if index == 0 {
				index = int64(len(events))
			}
			data.TransferEvents = append(data.TransferEvents, TransferEventWithIndex{
				EventIndex: index,
				Transfer:   transfer,
			})
		}
	}
	return burned
}

func decodeEvent(logger logging.Logger, version uint64, event *transactionv1.Event, dest interface{}) bool {
	if err := json.Unmarshal([]byte(event.Data), dest); err != nil {
		DecodeErrors.WithLabelValues(event.TypeStr).Inc()
		logger.WithError(err).WithFields(logrus.Fields{
			"version":    version,
			"event_type": event.TypeStr,
		}).Warn("can't decode event, skipping")
		return false
	}
	return true
}
