package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func addr(fill byte) Address {
	var a Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func requireAmount(t *testing.T, want uint64, got Amount) {
	t.Helper()
	cmp, err := got.CmpUint64(want)
	require.NoError(t, err)
	require.Zero(t, cmp, "want %d, got %s", want, got)
}

func newFundedLedger(t *testing.T, owner Address, balance uint64) *MemoryLedger {
	t.Helper()
	l := NewMemoryLedger()
	require.NoError(t, l.RegisterAsset("usd"))
	require.NoError(t, l.Mint("usd", owner, PlainFromUint64(balance)))
	return l
}

func TestRegisterAssetDuplicate(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.RegisterAsset("usd"))
	require.ErrorIs(t, l.RegisterAsset("usd"), ErrAssetExists)
}

func TestMintUnknownAsset(t *testing.T) {
	l := NewMemoryLedger()
	err := l.Mint("usd", addr(0x01), PlainFromUint64(1))
	require.ErrorIs(t, err, ErrAssetUnknown)
}

func TestLockDebitsOwner(t *testing.T) {
	owner := addr(0x01)
	l := newFundedLedger(t, owner, 1_000)

	id, err := l.Lock(owner, "usd", PlainFromUint64(600))
	require.NoError(t, err)

	bal, err := l.BalanceOf("usd", owner)
	require.NoError(t, err)
	requireAmount(t, 400, bal)

	locked, err := l.LockBalance(id)
	require.NoError(t, err)
	requireAmount(t, 600, locked)
}

func TestLockInsufficientFundsLeavesBalance(t *testing.T) {
	owner := addr(0x01)
	l := newFundedLedger(t, owner, 100)

	_, err := l.Lock(owner, "usd", PlainFromUint64(101))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := l.BalanceOf("usd", owner)
	require.NoError(t, err)
	requireAmount(t, 100, bal)
}

func TestTransferFromLockCreditsClaimable(t *testing.T) {
	owner := addr(0x01)
	payee := addr(0x02)
	l := newFundedLedger(t, owner, 1_000)

	id, err := l.Lock(owner, "usd", PlainFromUint64(1_000))
	require.NoError(t, err)
	require.NoError(t, l.TransferFromLock(id, payee, PlainFromUint64(990)))

	// Spendable is untouched until the payee claims.
	bal, err := l.BalanceOf("usd", payee)
	require.NoError(t, err)
	requireAmount(t, 0, bal)

	pending, err := l.ClaimableOf("usd", payee)
	require.NoError(t, err)
	requireAmount(t, 990, pending)

	locked, err := l.LockBalance(id)
	require.NoError(t, err)
	requireAmount(t, 10, locked)
}

func TestTransferFromLockOverdraw(t *testing.T) {
	owner := addr(0x01)
	l := newFundedLedger(t, owner, 100)

	id, err := l.Lock(owner, "usd", PlainFromUint64(100))
	require.NoError(t, err)
	err = l.TransferFromLock(id, addr(0x02), PlainFromUint64(101))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	locked, err := l.LockBalance(id)
	require.NoError(t, err)
	requireAmount(t, 100, locked)
}

func TestDrainedLockRetired(t *testing.T) {
	owner := addr(0x01)
	l := newFundedLedger(t, owner, 100)

	id, err := l.Lock(owner, "usd", PlainFromUint64(100))
	require.NoError(t, err)
	require.NoError(t, l.TransferFromLock(id, addr(0x02), PlainFromUint64(100)))

	_, err = l.LockBalance(id)
	require.ErrorIs(t, err, ErrLockNotFound)
	err = l.TransferFromLock(id, addr(0x02), PlainFromUint64(1))
	require.ErrorIs(t, err, ErrLockNotFound)
}

func TestReleaseLockReturnsRemainderToOwnerClaimable(t *testing.T) {
	owner := addr(0x01)
	l := newFundedLedger(t, owner, 1_000)

	id, err := l.Lock(owner, "usd", PlainFromUint64(1_000))
	require.NoError(t, err)
	require.NoError(t, l.TransferFromLock(id, addr(0x02), PlainFromUint64(300)))
	require.NoError(t, l.ReleaseLock(id))

	pending, err := l.ClaimableOf("usd", owner)
	require.NoError(t, err)
	requireAmount(t, 700, pending)

	require.ErrorIs(t, l.ReleaseLock(id), ErrLockNotFound)
}

func TestClaimIdempotentAtZero(t *testing.T) {
	account := addr(0x03)
	l := NewMemoryLedger()
	require.NoError(t, l.RegisterAsset("usd"))

	// Claiming an empty pool succeeds and yields zero.
	got, err := l.Claim("usd", account)
	require.NoError(t, err)
	requireAmount(t, 0, got)

	require.NoError(t, l.CreditClaimable("usd", account, PlainFromUint64(250)))

	got, err = l.Claim("usd", account)
	require.NoError(t, err)
	requireAmount(t, 250, got)
	bal, err := l.BalanceOf("usd", account)
	require.NoError(t, err)
	requireAmount(t, 250, bal)

	// A second drain in a row yields zero again.
	got, err = l.Claim("usd", account)
	require.NoError(t, err)
	requireAmount(t, 0, got)
	bal, err = l.BalanceOf("usd", account)
	require.NoError(t, err)
	requireAmount(t, 250, bal)
}

func TestSealedAssetFlow(t *testing.T) {
	codec, err := NewSealedCodec()
	require.NoError(t, err)
	owner := addr(0x01)
	payee := addr(0x02)

	l := NewMemoryLedger()
	require.NoError(t, l.RegisterSealedAsset("susd", codec))

	seed, err := codec.Seal(big.NewInt(1_000))
	require.NoError(t, err)
	require.NoError(t, l.Mint("susd", owner, seed))

	part, err := codec.Seal(big.NewInt(400))
	require.NoError(t, err)
	id, err := l.Lock(owner, "susd", part)
	require.NoError(t, err)
	require.NoError(t, l.TransferFromLock(id, payee, part))

	got, err := l.Claim("susd", payee)
	require.NoError(t, err)
	requireAmount(t, 400, got)

	// Plain amounts cannot move a sealed asset.
	err = l.Mint("susd", owner, PlainFromUint64(1))
	require.ErrorIs(t, err, ErrEncodingMismatch)
}

func TestZeroMatchesAssetEncoding(t *testing.T) {
	codec, err := NewSealedCodec()
	require.NoError(t, err)
	l := NewMemoryLedger()
	require.NoError(t, l.RegisterAsset("usd"))
	require.NoError(t, l.RegisterSealedAsset("susd", codec))

	z, err := l.Zero("usd")
	require.NoError(t, err)
	require.Equal(t, EncodingPlain, z.Encoding())
	require.True(t, z.IsZero())

	z, err = l.Zero("susd")
	require.NoError(t, err)
	require.Equal(t, EncodingSealed, z.Encoding())
	require.True(t, z.IsZero())

	_, err = l.Zero("missing")
	require.ErrorIs(t, err, ErrAssetUnknown)
}

func TestLockIDsUnique(t *testing.T) {
	owner := addr(0x01)
	l := newFundedLedger(t, owner, 1_000)

	a, err := l.Lock(owner, "usd", PlainFromUint64(100))
	require.NoError(t, err)
	b, err := l.Lock(owner, "usd", PlainFromUint64(100))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
