package arbitration

import (
	"encoding/hex"
	"strconv"

	"omnisettle/core/events"
	"omnisettle/native/ledger"
)

const (
	EventTypeDisputeRaised    = "dispute.raised"
	EventTypeCounterStake     = "dispute.counter_staked"
	EventTypePanelSelected    = "dispute.panel_selected"
	EventTypeVoteCast         = "dispute.vote_cast"
	EventTypeDisputeResolved  = "dispute.resolved"
	EventTypeDisputeDefaulted = "dispute.defaulted"
)

// NewDisputeRaisedEvent returns the canonical payload for a newly opened
// dispute.
func NewDisputeRaisedEvent(d *Dispute) *events.Payload {
	return newDisputeEvent(EventTypeDisputeRaised, d, nil)
}

// NewCounterStakeEvent returns the payload emitted when the respondent posts
// a matching stake.
func NewCounterStakeEvent(d *Dispute) *events.Payload {
	return newDisputeEvent(EventTypeCounterStake, d, nil)
}

// NewPanelSelectedEvent returns the payload emitted once the panel is drawn.
func NewPanelSelectedEvent(d *Dispute) *events.Payload {
	return newDisputeEvent(EventTypePanelSelected, d, func(attrs map[string]string) {
		for i, member := range d.Panel {
			attrs["panel."+strconv.Itoa(i)] = hex.EncodeToString(member[:])
		}
		attrs["votingDeadline"] = strconv.FormatInt(d.VotingDeadline, 10)
	})
}

// NewVoteCastEvent returns the payload for one arbitrator's vote.
func NewVoteCastEvent(d *Dispute, arbitrator ledger.Address, outcome Outcome) *events.Payload {
	return newDisputeEvent(EventTypeVoteCast, d, func(attrs map[string]string) {
		attrs["arbitrator"] = hex.EncodeToString(arbitrator[:])
		attrs["vote"] = outcome.String()
	})
}

// NewDisputeResolvedEvent returns the payload emitted when quorum is reached.
func NewDisputeResolvedEvent(d *Dispute) *events.Payload {
	return newDisputeEvent(EventTypeDisputeResolved, d, func(attrs map[string]string) {
		attrs["outcome"] = d.Outcome.String()
	})
}

// NewDisputeDefaultedEvent returns the payload emitted on a deadline default.
func NewDisputeDefaultedEvent(d *Dispute, winner ledger.Address) *events.Payload {
	return newDisputeEvent(EventTypeDisputeDefaulted, d, func(attrs map[string]string) {
		attrs["winner"] = hex.EncodeToString(winner[:])
	})
}

func newDisputeEvent(eventType string, d *Dispute, extra func(map[string]string)) *events.Payload {
	attrs := make(map[string]string)
	if d != nil {
		attrs["disputeId"] = hex.EncodeToString(d.ID[:])
		attrs["escrowId"] = hex.EncodeToString(d.EscrowID[:])
		attrs["disputer"] = hex.EncodeToString(d.Disputer[:])
		attrs["respondent"] = hex.EncodeToString(d.Respondent[:])
		attrs["status"] = d.Status.String()
		if extra != nil {
			extra(attrs)
		}
	}
	return &events.Payload{Type: eventType, Attributes: attrs}
}
