package ledger

import (
	"encoding/binary"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type accountKey struct {
	asset   string
	account Address
}

type assetInfo struct {
	encoding Encoding
	codec    *SealedCodec
}

type lockRecord struct {
	owner   Address
	asset   string
	balance Amount
}

// MemoryLedger is the reference in-process Ledger implementation. Every
// operation takes the ledger mutex and applies validate-then-commit ordering,
// so a failed call never leaves a partial debit or credit behind.
type MemoryLedger struct {
	mu        sync.Mutex
	assets    map[string]assetInfo
	available map[accountKey]Amount
	claimable map[accountKey]Amount
	locks     map[LockID]*lockRecord
	lockSeq   uint64
}

// NewMemoryLedger returns an empty ledger with no registered assets.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		assets:    make(map[string]assetInfo),
		available: make(map[accountKey]Amount),
		claimable: make(map[accountKey]Amount),
		locks:     make(map[LockID]*lockRecord),
	}
}

// RegisterAsset declares a plain-encoded asset.
func (l *MemoryLedger) RegisterAsset(asset string) error {
	return l.registerAsset(asset, assetInfo{encoding: EncodingPlain})
}

// RegisterSealedAsset declares an asset whose balances are sealed handles
// minted by the supplied codec.
func (l *MemoryLedger) RegisterSealedAsset(asset string, codec *SealedCodec) error {
	if codec == nil {
		return ErrSealedCodecAbsent
	}
	return l.registerAsset(asset, assetInfo{encoding: EncodingSealed, codec: codec})
}

func (l *MemoryLedger) registerAsset(asset string, info assetInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.assets[asset]; ok {
		return ErrAssetExists
	}
	l.assets[asset] = info
	return nil
}

// Mint credits an account's spendable balance. Host-side funding entry point
// used to seed balances; escrowed value never flows through it.
func (l *MemoryLedger) Mint(asset string, account Address, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.assetInfo(asset)
	if err != nil {
		return err
	}
	if err := checkEncoding(info, amount); err != nil {
		return err
	}
	return l.credit(l.available, accountKey{asset, account}, amount)
}

// Lock implements the Ledger interface.
func (l *MemoryLedger) Lock(from Address, asset string, amount Amount) (LockID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.assetInfo(asset)
	if err != nil {
		return LockID{}, err
	}
	if err := checkEncoding(info, amount); err != nil {
		return LockID{}, err
	}
	if amount.Sign() <= 0 {
		return LockID{}, ErrAmountNegative
	}
	key := accountKey{asset, from}
	if err := l.debit(l.available, key, amount); err != nil {
		return LockID{}, err
	}
	l.lockSeq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.lockSeq)
	id := LockID(ethcrypto.Keccak256Hash(from[:], []byte(asset), seq[:]))
	l.locks[id] = &lockRecord{owner: from, asset: asset, balance: amount.Clone()}
	return id, nil
}

// TransferFromLock implements the Ledger interface.
func (l *MemoryLedger) TransferFromLock(id LockID, to Address, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.locks[id]
	if !ok {
		return ErrLockNotFound
	}
	if amount == nil {
		return ErrNilAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	remaining, err := rec.balance.Sub(amount)
	if err != nil {
		if err == ErrAmountUnderflow {
			return ErrInsufficientFunds
		}
		return err
	}
	if err := l.credit(l.claimable, accountKey{rec.asset, to}, amount); err != nil {
		return err
	}
	rec.balance = remaining
	if rec.balance.IsZero() {
		delete(l.locks, id)
	}
	return nil
}

// ReleaseLock implements the Ledger interface.
func (l *MemoryLedger) ReleaseLock(id LockID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.locks[id]
	if !ok {
		return ErrLockNotFound
	}
	if rec.balance.Sign() > 0 {
		if err := l.credit(l.claimable, accountKey{rec.asset, rec.owner}, rec.balance); err != nil {
			return err
		}
	}
	delete(l.locks, id)
	return nil
}

// CreditClaimable implements the Ledger interface.
func (l *MemoryLedger) CreditClaimable(asset string, account Address, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.assetInfo(asset)
	if err != nil {
		return err
	}
	if err := checkEncoding(info, amount); err != nil {
		return err
	}
	return l.credit(l.claimable, accountKey{asset, account}, amount)
}

// Claim implements the Ledger interface.
func (l *MemoryLedger) Claim(asset string, account Address) (Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.assetInfo(asset)
	if err != nil {
		return nil, err
	}
	key := accountKey{asset, account}
	pending, ok := l.claimable[key]
	if !ok || pending.IsZero() {
		return zeroAmount(info)
	}
	if err := l.credit(l.available, key, pending); err != nil {
		return nil, err
	}
	delete(l.claimable, key)
	return pending.Clone(), nil
}

// BalanceOf implements the Ledger interface.
func (l *MemoryLedger) BalanceOf(asset string, account Address) (Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poolBalance(l.available, asset, account)
}

// ClaimableOf implements the Ledger interface.
func (l *MemoryLedger) ClaimableOf(asset string, account Address) (Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poolBalance(l.claimable, asset, account)
}

// LockBalance implements the Ledger interface.
func (l *MemoryLedger) LockBalance(id LockID) (Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.locks[id]
	if !ok {
		return nil, ErrLockNotFound
	}
	return rec.balance.Clone(), nil
}

// Zero implements the Ledger interface.
func (l *MemoryLedger) Zero(asset string) (Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.assetInfo(asset)
	if err != nil {
		return nil, err
	}
	return zeroAmount(info)
}

func (l *MemoryLedger) poolBalance(pool map[accountKey]Amount, asset string, account Address) (Amount, error) {
	info, err := l.assetInfo(asset)
	if err != nil {
		return nil, err
	}
	bal, ok := pool[accountKey{asset, account}]
	if !ok {
		return zeroAmount(info)
	}
	return bal.Clone(), nil
}

func (l *MemoryLedger) assetInfo(asset string) (assetInfo, error) {
	info, ok := l.assets[asset]
	if !ok {
		return assetInfo{}, ErrAssetUnknown
	}
	return info, nil
}

func (l *MemoryLedger) credit(pool map[accountKey]Amount, key accountKey, amount Amount) error {
	current, ok := pool[key]
	if !ok {
		pool[key] = amount.Clone()
		return nil
	}
	next, err := current.Add(amount)
	if err != nil {
		return err
	}
	pool[key] = next
	return nil
}

func (l *MemoryLedger) debit(pool map[accountKey]Amount, key accountKey, amount Amount) error {
	current, ok := pool[key]
	if !ok {
		return ErrInsufficientFunds
	}
	next, err := current.Sub(amount)
	if err != nil {
		if err == ErrAmountUnderflow {
			return ErrInsufficientFunds
		}
		return err
	}
	pool[key] = next
	return nil
}

func checkEncoding(info assetInfo, amount Amount) error {
	if amount == nil {
		return ErrNilAmount
	}
	if amount.Encoding() != info.encoding {
		return ErrEncodingMismatch
	}
	return nil
}

func zeroAmount(info assetInfo) (Amount, error) {
	switch info.encoding {
	case EncodingSealed:
		if info.codec == nil {
			return nil, ErrSealedCodecAbsent
		}
		return info.codec.Zero()
	default:
		return PlainZero(), nil
	}
}

var _ Ledger = (*MemoryLedger)(nil)

// String renders a lock id for diagnostics.
func (id LockID) String() string { return fmt.Sprintf("0x%x", id[:8]) }
