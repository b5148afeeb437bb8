package fees

import (
	"errors"
	"fmt"

	"omnisettle/native/ledger"
)

const totalBps = 10_000

var (
	ErrNoShares     = errors.New("fees: share table must not be empty")
	ErrBpsSum       = errors.New("fees: share bps must sum to 10000")
	ErrBpsRange     = errors.New("fees: share bps out of range")
	ErrNilAmount    = errors.New("fees: nil amount")
	ErrDuplicateRcp = errors.New("fees: duplicate recipient")
)

// Share assigns a basis-point slice of a fee to a recipient.
type Share struct {
	Recipient ledger.Address
	Bps       uint32
}

// Payout is one resolved output of a split.
type Payout struct {
	Recipient ledger.Address
	Amount    ledger.Amount
}

// Table is a fee split policy validated once at configuration time. Every
// fee-charging call site in the module routes through a Table so the split
// arithmetic cannot drift between marketplace, arbitration and conversion
// fees. The first share is the primary recipient and absorbs the integer
// division remainder, so outputs always sum exactly to the input.
type Table struct {
	shares []Share
}

// NewTable validates and freezes a share table. Shares must be non-empty,
// free of duplicates, each within range, and sum to exactly 10000 bps.
func NewTable(shares ...Share) (*Table, error) {
	if len(shares) == 0 {
		return nil, ErrNoShares
	}
	seen := make(map[ledger.Address]struct{}, len(shares))
	sum := uint64(0)
	for _, share := range shares {
		if share.Bps > totalBps {
			return nil, fmt.Errorf("%w: %d", ErrBpsRange, share.Bps)
		}
		if _, ok := seen[share.Recipient]; ok {
			return nil, ErrDuplicateRcp
		}
		seen[share.Recipient] = struct{}{}
		sum += uint64(share.Bps)
	}
	if sum != totalBps {
		return nil, fmt.Errorf("%w: got %d", ErrBpsSum, sum)
	}
	return &Table{shares: append([]Share(nil), shares...)}, nil
}

// SingleRecipient builds the degenerate table paying everything to one
// account.
func SingleRecipient(recipient ledger.Address) *Table {
	return &Table{shares: []Share{{Recipient: recipient, Bps: totalBps}}}
}

// Primary returns the remainder-absorbing recipient.
func (t *Table) Primary() ledger.Address {
	return t.shares[0].Recipient
}

// Shares returns a copy of the underlying share table.
func (t *Table) Shares() []Share {
	return append([]Share(nil), t.shares...)
}

// Split divides the amount across the table. The sum of the returned payouts
// equals the input exactly; the remainder of each floored bps multiplication
// lands on the primary recipient. Zero-valued payouts are retained so callers
// can emit a complete fee event per configured recipient.
func (t *Table) Split(total ledger.Amount) ([]Payout, error) {
	if t == nil || len(t.shares) == 0 {
		return nil, ErrNoShares
	}
	if total == nil {
		return nil, ErrNilAmount
	}
	payouts := make([]Payout, len(t.shares))
	assigned, err := total.MulBps(0)
	if err != nil {
		return nil, err
	}
	for i, share := range t.shares {
		cut, err := total.MulBps(share.Bps)
		if err != nil {
			return nil, err
		}
		payouts[i] = Payout{Recipient: share.Recipient, Amount: cut}
		assigned, err = assigned.Add(cut)
		if err != nil {
			return nil, err
		}
	}
	remainder, err := total.Sub(assigned)
	if err != nil {
		return nil, err
	}
	if remainder.Sign() > 0 {
		bumped, err := payouts[0].Amount.Add(remainder)
		if err != nil {
			return nil, err
		}
		payouts[0].Amount = bumped
	}
	return payouts, nil
}
