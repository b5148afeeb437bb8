package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// maxSealedBits bounds the plaintext width of sealed values so checked
// arithmetic has a concrete overflow ceiling, mirroring the fixed-width
// encrypted integers the private settlement variant runs on.
const maxSealedBits = 128

// SealedCodec performs arithmetic over sealed amounts. It stands in for an
// external encrypted-arithmetic backend (MPC co-processor, FHE service): the
// ciphertexts it produces are opaque to every caller, and all operations are
// checked against the codec's value bound. Hosts with a real backend supply
// their own codec; this reference implementation keeps values under a keyed
// keystream so tests exercise the full sealed path in-process.
type SealedCodec struct {
	key   [32]byte
	bound *big.Int
}

// NewSealedCodec creates a codec with a random key.
func NewSealedCodec() (*SealedCodec, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("ledger: sealed codec key: %w", err)
	}
	return newSealedCodec(key), nil
}

func newSealedCodec(key [32]byte) *SealedCodec {
	bound := new(big.Int).Lsh(big.NewInt(1), maxSealedBits)
	return &SealedCodec{key: key, bound: bound}
}

// Seal encrypts a plaintext value into an opaque sealed amount.
func (c *SealedCodec) Seal(v *big.Int) (*Sealed, error) {
	if c == nil {
		return nil, ErrSealedCodecAbsent
	}
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 {
		return nil, ErrAmountNegative
	}
	if v.Cmp(c.bound) >= 0 {
		return nil, ErrAmountOverflow
	}
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("ledger: sealed nonce: %w", err)
	}
	return &Sealed{codec: c, nonce: nonce, ct: c.mask(v, nonce)}, nil
}

// Zero returns a sealed zero value.
func (c *SealedCodec) Zero() (*Sealed, error) {
	return c.Seal(big.NewInt(0))
}

// open recovers the plaintext of a sealed value minted by this codec.
func (c *SealedCodec) open(s *Sealed) (*big.Int, error) {
	if s == nil {
		return nil, ErrNilAmount
	}
	if s.codec != c {
		return nil, ErrEncodingMismatch
	}
	return c.unmask(s.ct, s.nonce), nil
}

func (c *SealedCodec) mask(v *big.Int, nonce [16]byte) []byte {
	buf := make([]byte, maxSealedBits/8)
	v.FillBytes(buf)
	stream := c.keystream(nonce, len(buf))
	for i := range buf {
		buf[i] ^= stream[i]
	}
	return buf
}

func (c *SealedCodec) unmask(ct []byte, nonce [16]byte) *big.Int {
	buf := append([]byte(nil), ct...)
	stream := c.keystream(nonce, len(buf))
	for i := range buf {
		buf[i] ^= stream[i]
	}
	return new(big.Int).SetBytes(buf)
}

func (c *SealedCodec) keystream(nonce [16]byte, n int) []byte {
	out := make([]byte, 0, n)
	counter := byte(0)
	for len(out) < n {
		block := ethcrypto.Keccak256(c.key[:], nonce[:], []byte{counter})
		out = append(out, block...)
		counter++
	}
	return out[:n]
}

// Sealed is the opaque encrypted Amount encoding. Its arithmetic round-trips
// through the owning codec with explicit overflow and underflow signaling.
type Sealed struct {
	codec *SealedCodec
	nonce [16]byte
	ct    []byte
}

func (s *Sealed) Encoding() Encoding { return EncodingSealed }

func (s *Sealed) Add(other Amount) (Amount, error) {
	a, b, err := s.openPair(other)
	if err != nil {
		return nil, err
	}
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(s.codec.bound) >= 0 {
		return nil, ErrAmountOverflow
	}
	return s.codec.Seal(sum)
}

func (s *Sealed) Sub(other Amount) (Amount, error) {
	a, b, err := s.openPair(other)
	if err != nil {
		return nil, err
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return nil, ErrAmountUnderflow
	}
	return s.codec.Seal(diff)
}

func (s *Sealed) MulBps(bps uint32) (Amount, error) {
	if bps > 10_000 {
		return nil, ErrBpsOutOfRange
	}
	v, err := s.codec.open(s)
	if err != nil {
		return nil, err
	}
	v = new(big.Int).Mul(v, new(big.Int).SetUint64(uint64(bps)))
	v.Div(v, big.NewInt(10_000))
	return s.codec.Seal(v)
}

func (s *Sealed) Cmp(other Amount) (int, error) {
	a, b, err := s.openPair(other)
	if err != nil {
		return 0, err
	}
	return a.Cmp(b), nil
}

func (s *Sealed) CmpUint64(v uint64) (int, error) {
	if s == nil || s.codec == nil {
		return 0, ErrSealedCodecAbsent
	}
	value, err := s.codec.open(s)
	if err != nil {
		return 0, err
	}
	return value.Cmp(new(big.Int).SetUint64(v)), nil
}

func (s *Sealed) Sign() int {
	v, err := s.codec.open(s)
	if err != nil {
		return 0
	}
	return v.Sign()
}

func (s *Sealed) IsZero() bool { return s.Sign() == 0 }

func (s *Sealed) Clone() Amount {
	if s == nil {
		return nil
	}
	clone := *s
	clone.ct = append([]byte(nil), s.ct...)
	return &clone
}

// String never discloses the plaintext; sealed values render as an opaque
// commitment digest.
func (s *Sealed) String() string {
	if s == nil {
		return "sealed:0x0"
	}
	digest := ethcrypto.Keccak256(s.ct)
	return fmt.Sprintf("sealed:0x%x", digest[:8])
}

func (s *Sealed) openPair(other Amount) (*big.Int, *big.Int, error) {
	if s == nil || s.codec == nil {
		return nil, nil, ErrSealedCodecAbsent
	}
	o, ok := other.(*Sealed)
	if !ok || o == nil {
		return nil, nil, ErrEncodingMismatch
	}
	a, err := s.codec.open(s)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.codec.open(o)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
