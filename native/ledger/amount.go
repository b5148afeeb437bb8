package ledger

import (
	"errors"
	"math/big"
)

// Encoding identifies how an Amount stores its value.
type Encoding uint8

const (
	// EncodingPlain amounts carry an ordinary unsigned big integer.
	EncodingPlain Encoding = iota
	// EncodingSealed amounts carry an opaque handle whose arithmetic is
	// delegated to a SealedCodec.
	EncodingSealed
)

var (
	ErrAmountOverflow    = errors.New("ledger: amount overflow")
	ErrAmountUnderflow   = errors.New("ledger: amount underflow")
	ErrAmountNegative    = errors.New("ledger: amount must be non-negative")
	ErrEncodingMismatch  = errors.New("ledger: amount encoding mismatch")
	ErrBpsOutOfRange     = errors.New("ledger: bps out of range")
	ErrNilAmount         = errors.New("ledger: nil amount")
	ErrSealedCodecAbsent = errors.New("ledger: sealed codec not configured")
)

// Amount is the single value abstraction every engine in the module operates
// on. Both the public and the privacy-preserving settlement variants run the
// same state machine over this interface; only the encoding differs. All
// operations are checked: overflow and underflow surface as explicit errors,
// never as silent wraparound.
type Amount interface {
	Encoding() Encoding
	// Add returns a new amount holding the checked sum.
	Add(other Amount) (Amount, error)
	// Sub returns a new amount holding the checked difference. Subtracting
	// more than the receiver holds yields ErrAmountUnderflow.
	Sub(other Amount) (Amount, error)
	// MulBps returns floor(amount * bps / 10000). Rejects bps > 10000.
	MulBps(bps uint32) (Amount, error)
	// Cmp compares two amounts of the same encoding.
	Cmp(other Amount) (int, error)
	// CmpUint64 compares the amount against a plaintext threshold. Sealed
	// encodings evaluate the comparison inside their codec.
	CmpUint64(v uint64) (int, error)
	// Sign reports -1, 0 or +1 for the underlying value.
	Sign() int
	// IsZero reports whether the underlying value is zero.
	IsZero() bool
	// Clone returns a deep copy callers can mutate safely.
	Clone() Amount
	String() string
}

// Plain is the big-integer Amount encoding used by public-balance assets.
type Plain struct {
	value *big.Int
}

// NewPlain wraps the supplied big integer. The value is copied; nil becomes
// zero. Negative values are rejected.
func NewPlain(v *big.Int) (*Plain, error) {
	if v == nil {
		return &Plain{value: big.NewInt(0)}, nil
	}
	if v.Sign() < 0 {
		return nil, ErrAmountNegative
	}
	return &Plain{value: new(big.Int).Set(v)}, nil
}

// PlainFromUint64 is a convenience constructor used pervasively in tests.
func PlainFromUint64(v uint64) *Plain {
	return &Plain{value: new(big.Int).SetUint64(v)}
}

// PlainZero returns a zero-valued plain amount.
func PlainZero() *Plain { return &Plain{value: big.NewInt(0)} }

// Value returns a copy of the underlying integer.
func (p *Plain) Value() *big.Int {
	if p == nil || p.value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(p.value)
}

func (p *Plain) Encoding() Encoding { return EncodingPlain }

func (p *Plain) Add(other Amount) (Amount, error) {
	o, err := asPlain(other)
	if err != nil {
		return nil, err
	}
	return &Plain{value: new(big.Int).Add(p.Value(), o.Value())}, nil
}

func (p *Plain) Sub(other Amount) (Amount, error) {
	o, err := asPlain(other)
	if err != nil {
		return nil, err
	}
	diff := new(big.Int).Sub(p.Value(), o.Value())
	if diff.Sign() < 0 {
		return nil, ErrAmountUnderflow
	}
	return &Plain{value: diff}, nil
}

func (p *Plain) MulBps(bps uint32) (Amount, error) {
	if bps > 10_000 {
		return nil, ErrBpsOutOfRange
	}
	v := new(big.Int).Mul(p.Value(), new(big.Int).SetUint64(uint64(bps)))
	v.Div(v, big.NewInt(10_000))
	return &Plain{value: v}, nil
}

func (p *Plain) Cmp(other Amount) (int, error) {
	o, err := asPlain(other)
	if err != nil {
		return 0, err
	}
	return p.Value().Cmp(o.Value()), nil
}

func (p *Plain) CmpUint64(v uint64) (int, error) {
	return p.Value().Cmp(new(big.Int).SetUint64(v)), nil
}

func (p *Plain) Sign() int {
	if p == nil || p.value == nil {
		return 0
	}
	return p.value.Sign()
}

func (p *Plain) IsZero() bool { return p.Sign() == 0 }

func (p *Plain) Clone() Amount {
	return &Plain{value: p.Value()}
}

func (p *Plain) String() string {
	if p == nil || p.value == nil {
		return "0"
	}
	return p.value.String()
}

func asPlain(a Amount) (*Plain, error) {
	if a == nil {
		return nil, ErrNilAmount
	}
	p, ok := a.(*Plain)
	if !ok {
		return nil, ErrEncodingMismatch
	}
	return p, nil
}
