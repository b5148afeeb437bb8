package settlement

import (
	"encoding/hex"

	"omnisettle/core/events"
	"omnisettle/native/ledger"
)

// EventTypeFundsClaimed is emitted once per successful non-empty claim.
const EventTypeFundsClaimed = "funds.claimed"

// NewFundsClaimedEvent returns the payload for a claimable-balance drain.
func NewFundsClaimedEvent(asset string, account ledger.Address, amount ledger.Amount) *events.Payload {
	return &events.Payload{
		Type: EventTypeFundsClaimed,
		Attributes: map[string]string{
			"asset":   asset,
			"account": hex.EncodeToString(account[:]),
			"amount":  amount.String(),
		},
	}
}
