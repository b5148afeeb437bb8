package ledger

import "errors"

// Address identifies a ledger account.
type Address [20]byte

// LockID identifies an active custody lock.
type LockID [32]byte

var (
	ErrAssetUnknown      = errors.New("ledger: asset not registered")
	ErrAssetExists       = errors.New("ledger: asset already registered")
	ErrLockNotFound      = errors.New("ledger: lock not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
)

// Ledger is the abstract atomic value-transfer collaborator the settlement
// core runs on. Implementations must guarantee every call either fully
// succeeds or leaves balances untouched; the escrow solvency invariant rests
// on that. Disbursement is pull-based: TransferFromLock credits the
// recipient's claimable pool, and Claim moves claimable funds into the
// spendable balance on the recipient's own initiative.
type Ledger interface {
	// Lock debits the spendable balance of the owner and places the amount
	// under a new custody lock.
	Lock(from Address, asset string, amount Amount) (LockID, error)
	// TransferFromLock debits the lock and credits the recipient's
	// claimable balance.
	TransferFromLock(id LockID, to Address, amount Amount) error
	// ReleaseLock returns the lock's remaining balance to the owner's
	// claimable pool and retires the lock.
	ReleaseLock(id LockID) error
	// CreditClaimable credits an account's claimable pool directly from
	// thin air; reserved for host-side funding flows, never used by the
	// settlement engines for escrowed value.
	CreditClaimable(asset string, account Address, amount Amount) error
	// Claim drains the account's claimable pool into its spendable balance
	// and returns the claimed amount. Claiming an empty pool succeeds and
	// returns zero.
	Claim(asset string, account Address) (Amount, error)
	// BalanceOf reports the spendable balance for the account.
	BalanceOf(asset string, account Address) (Amount, error)
	// ClaimableOf reports the pending claimable balance for the account.
	ClaimableOf(asset string, account Address) (Amount, error)
	// LockBalance reports the balance still held under the lock.
	LockBalance(id LockID) (Amount, error)
	// Zero returns a zero amount in the asset's encoding.
	Zero(asset string) (Amount, error)
}
