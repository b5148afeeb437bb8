package arbitration

import (
	"fmt"

	"omnisettle/native/ledger"
)

// DisputeStatus represents the lifecycle states of a dispute.
type DisputeStatus uint8

const (
	DisputeAwaitingCounterStake DisputeStatus = iota
	DisputePanelSelected
	DisputeVoting
	DisputeResolved
	DisputeDefaulted
)

// Valid reports whether the status value is within the supported range.
func (s DisputeStatus) Valid() bool {
	switch s {
	case DisputeAwaitingCounterStake, DisputePanelSelected, DisputeVoting, DisputeResolved, DisputeDefaulted:
		return true
	default:
		return false
	}
}

func (s DisputeStatus) String() string {
	switch s {
	case DisputeAwaitingCounterStake:
		return "awaiting_counter_stake"
	case DisputePanelSelected:
		return "panel_selected"
	case DisputeVoting:
		return "voting"
	case DisputeResolved:
		return "resolved"
	case DisputeDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Outcome is the direction a dispute resolves in.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeRelease
	OutcomeRefund
	OutcomeDefaulted
)

// Valid reports whether the outcome value is within the supported range.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeRelease, OutcomeRefund, OutcomeDefaulted:
		return true
	default:
		return false
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeRelease:
		return "release"
	case OutcomeRefund:
		return "refund"
	case OutcomeDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Dispute captures one arbitration process owned by exactly one escrow. The
// commitment is the disputer's keccak-hashed entropy seed, revealed only
// after the counter-stake phase so panel selection cannot be ground from
// public inputs.
type Dispute struct {
	ID                   [32]byte
	EscrowID             [32]byte
	Disputer             ledger.Address
	Respondent           ledger.Address
	CommittedHash        [32]byte
	RevealedAt           int64
	CounterStakedAt      int64
	CounterStakeDeadline int64
	VotingDeadline       int64
	Panel                []ledger.Address
	Votes                map[ledger.Address]Outcome
	Outcome              Outcome
	Status               DisputeStatus
	CreatedAt            int64
}

// Clone returns a deep copy of the dispute so callers can safely mutate the
// copy without affecting the stored instance.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Panel = append([]ledger.Address(nil), d.Panel...)
	if d.Votes != nil {
		clone.Votes = make(map[ledger.Address]Outcome, len(d.Votes))
		for addr, outcome := range d.Votes {
			clone.Votes[addr] = outcome
		}
	}
	return &clone
}

// CounterStaked reports whether the respondent matched the disputer's stake.
func (d *Dispute) CounterStaked() bool {
	return d != nil && d.CounterStakedAt != 0
}

// Terminal reports whether the dispute reached a final state.
func (d *Dispute) Terminal() bool {
	if d == nil {
		return false
	}
	return d.Status == DisputeResolved || d.Status == DisputeDefaulted
}

// SanitizeDispute validates the supplied dispute and returns a clone with
// non-nil collections. The function does not mutate the original value.
func SanitizeDispute(d *Dispute) (*Dispute, error) {
	if d == nil {
		return nil, fmt.Errorf("arbitration: nil dispute")
	}
	clone := d.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("arbitration: invalid dispute status %d", clone.Status)
	}
	if !clone.Outcome.Valid() {
		return nil, fmt.Errorf("arbitration: invalid dispute outcome %d", clone.Outcome)
	}
	if clone.Votes == nil {
		clone.Votes = make(map[ledger.Address]Outcome)
	}
	for addr := range clone.Votes {
		if !memberOf(clone.Panel, addr) {
			return nil, fmt.Errorf("arbitration: vote from non-panel member")
		}
	}
	return clone, nil
}

func memberOf(panel []ledger.Address, addr ledger.Address) bool {
	for _, member := range panel {
		if member == addr {
			return true
		}
	}
	return false
}
