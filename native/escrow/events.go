package escrow

import (
	"encoding/hex"
	"strconv"

	"omnisettle/core/events"
	"omnisettle/native/ledger"
)

const (
	EventTypeEscrowCreated  = "escrow.created"
	EventTypeEscrowReleased = "escrow.released"
	EventTypeEscrowRefunded = "escrow.refunded"
	EventTypeFeeCollected   = "fee.collected"
)

// Fee kinds carried on fee.collected events.
const (
	FeeKindMarketplace    = "marketplace"
	FeeKindArbitration    = "arbitration"
	FeeKindForfeitedStake = "forfeited_stake"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *events.Payload {
	return newEscrowEvent(EventTypeEscrowCreated, e, func(attrs map[string]string) {
		attrs["expiresAt"] = strconv.FormatInt(e.ExpiresAt, 10)
	})
}

// NewReleasedEvent returns the event payload for a release of escrow funds to
// the seller, covering both the voluntary and the dispute-resolved paths.
func NewReleasedEvent(e *Escrow, net, fee ledger.Amount, defaulted bool) *events.Payload {
	return newEscrowEvent(EventTypeEscrowReleased, e, func(attrs map[string]string) {
		attrs["net"] = net.String()
		attrs["fee"] = fee.String()
		attrs["defaulted"] = strconv.FormatBool(defaulted)
	})
}

// NewRefundedEvent returns the event payload for an escrow refund to the
// buyer, covering both the voluntary and the dispute-resolved paths.
func NewRefundedEvent(e *Escrow, net ledger.Amount, defaulted bool) *events.Payload {
	return newEscrowEvent(EventTypeEscrowRefunded, e, func(attrs map[string]string) {
		attrs["net"] = net.String()
		attrs["defaulted"] = strconv.FormatBool(defaulted)
	})
}

// NewFeeCollectedEvent returns the event payload for one fee disbursement.
// Exactly one event is emitted per recipient per fee charge, including the
// arbitration and forfeiture paths.
func NewFeeCollectedEvent(e *Escrow, kind string, recipient ledger.Address, amount ledger.Amount) *events.Payload {
	return newEscrowEvent(EventTypeFeeCollected, e, func(attrs map[string]string) {
		attrs["kind"] = kind
		attrs["recipient"] = hex.EncodeToString(recipient[:])
		attrs["amount"] = amount.String()
	})
}

func newEscrowEvent(eventType string, e *Escrow, extra func(map[string]string)) *events.Payload {
	attrs := make(map[string]string)
	if e != nil {
		attrs["id"] = strconv.FormatUint(uint64(e.ID), 10)
		attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
		attrs["seller"] = hex.EncodeToString(e.Seller[:])
		attrs["asset"] = e.Asset
		if e.Amount != nil {
			attrs["amount"] = e.Amount.String()
		}
		attrs["state"] = e.State.String()
		if extra != nil {
			extra(attrs)
		}
	}
	return &events.Payload{Type: eventType, Attributes: attrs}
}
