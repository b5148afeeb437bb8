package escrow

import (
	"encoding/binary"
	"fmt"

	"omnisettle/native/ledger"
)

// EscrowID is the monotonically-assigned identifier of an escrow record.
type EscrowID uint64

// Key returns the 32-byte key form of the identifier used when deriving
// dispute identifiers and event attributes.
func (id EscrowID) Key() [32]byte {
	var key [32]byte
	binary.BigEndian.PutUint64(key[24:], uint64(id))
	return key
}

// IDFromKey recovers the identifier from its 32-byte key form.
func IDFromKey(key [32]byte) EscrowID {
	return EscrowID(binary.BigEndian.Uint64(key[24:]))
}

// State represents the lifecycle states of an escrow. Open is the only
// non-terminal state besides Disputed; the three right-hand states are
// terminal and set the resolved flag exactly once.
type State uint8

const (
	StateOpen State = iota
	StateDisputed
	StateReleased
	StateRefunded
	StateDefaulted
)

// Valid reports whether the state value is within the supported range.
func (s State) Valid() bool {
	switch s {
	case StateOpen, StateDisputed, StateReleased, StateRefunded, StateDefaulted:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDisputed:
		return "disputed"
	case StateReleased:
		return "released"
	case StateRefunded:
		return "refunded"
	case StateDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateReleased, StateRefunded, StateDefaulted:
		return true
	default:
		return false
	}
}

// Escrow captures one bilateral conditional-payment agreement. The principal
// is held under LockID in the ledger from creation until a terminal state.
// An escrow owns at most one dispute for its whole lifetime; DisputeID is the
// back-reference once raised and stays set forever, which is what makes a
// second dispute on the same escrow impossible.
type Escrow struct {
	ID        EscrowID
	Buyer     ledger.Address
	Seller    ledger.Address
	Asset     string
	Amount    ledger.Amount
	LockID    ledger.LockID
	CreatedAt int64
	ExpiresAt int64
	State     State
	Resolved  bool

	Disputed         bool
	DisputeID        [32]byte
	Disputer         ledger.Address
	StakeLockID      ledger.LockID
	CounterStaked    bool
	CounterStakeLock ledger.LockID
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = e.Amount.Clone()
	}
	return &clone
}

// Participant reports whether the address is the buyer or the seller.
func (e *Escrow) Participant(addr ledger.Address) bool {
	if e == nil {
		return false
	}
	return addr == e.Buyer || addr == e.Seller
}

// Counterparty returns the other trade party relative to addr.
func (e *Escrow) Counterparty(addr ledger.Address) ledger.Address {
	if addr == e.Buyer {
		return e.Seller
	}
	return e.Buyer
}

// SanitizeEscrow validates the supplied escrow definition and returns a
// cloned instance with a non-nil amount. The function does not mutate the
// original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	if clone.Amount == nil {
		return nil, fmt.Errorf("escrow: nil amount")
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: amount must be non-negative")
	}
	if clone.Buyer == clone.Seller {
		return nil, fmt.Errorf("escrow: buyer and seller must differ")
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("escrow: invalid state %d", clone.State)
	}
	if clone.Resolved && !clone.State.Terminal() {
		return nil, fmt.Errorf("escrow: resolved flag on non-terminal state %s", clone.State)
	}
	return clone, nil
}
