package escrow

import (
	"errors"
	"fmt"
	"time"

	"omnisettle/core/events"
	"omnisettle/native/fees"
	"omnisettle/native/ledger"
)

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: ledger not configured")
)

// Direction is the side a disputed escrow settles toward.
type Direction uint8

const (
	DirectionRelease Direction = iota
	DirectionRefund
)

func (d Direction) String() string {
	if d == DirectionRefund {
		return "refund"
	}
	return "release"
}

// Config carries the escrow engine's fee and validation policy. Both fee
// tables are resolved once at configuration time; every fee-charging path in
// the engine routes through them so no call site can drift from the split
// policy.
type Config struct {
	MinEscrowAmount   uint64
	MinDuration       int64
	DisputeStakeBps   uint32
	MarketplaceFeeBps uint32
	ArbitrationFeeBps uint32
	MarketplaceFees   *fees.Table
	ArbitrationFees   *fees.Table
}

// Validate enforces the structural constraints on the configuration.
func (c Config) Validate() error {
	if c.MinDuration <= 0 {
		return fmt.Errorf("escrow: minimum duration must be positive")
	}
	if c.DisputeStakeBps > 10_000 {
		return fmt.Errorf("escrow: dispute stake bps out of range: %d", c.DisputeStakeBps)
	}
	if c.MarketplaceFeeBps > 10_000 {
		return fmt.Errorf("escrow: marketplace fee bps out of range: %d", c.MarketplaceFeeBps)
	}
	if c.ArbitrationFeeBps > 10_000 {
		return fmt.Errorf("escrow: arbitration fee bps out of range: %d", c.ArbitrationFeeBps)
	}
	if c.MarketplaceFees == nil {
		return fmt.Errorf("escrow: marketplace fee table not configured")
	}
	if c.ArbitrationFees == nil {
		return fmt.Errorf("escrow: arbitration fee table not configured")
	}
	return nil
}

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(EscrowID) (*Escrow, bool)
	NextEscrowID() (EscrowID, error)
}

// Engine owns the escrow state machine and fund custody. All value movement
// goes through the ledger's lock and claimable primitives: payouts credit
// claimable balances the recipient pulls later, so a blocked recipient can
// never stall the other party's settlement.
type Engine struct {
	state   engineState
	ledger  ledger.Ledger
	emitter events.Emitter
	nowFn   func() int64
	cfg     Config
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		cfg:     cfg,
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the fund custody backend.
func (e *Engine) SetLedger(l ledger.Ledger) { e.ledger = l }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Config returns the engine's policy configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) emit(evt *events.Payload) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) loadEscrow(id EscrowID) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	return e.state.EscrowPut(esc)
}

// Get returns a copy of the escrow record.
func (e *Engine) Get(id EscrowID) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// Create validates and persists a new escrow, locking the buyer's principal
// atomically with record creation: the record is fully sanitized before the
// lock is taken, and a failed store releases the lock again so neither
// half-effect survives.
func (e *Engine) Create(buyer, seller ledger.Address, asset string, amount ledger.Amount, duration int64) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if buyer == seller {
		return nil, fmt.Errorf("%w: buyer and seller must differ", ErrInvalidInput)
	}
	if below, err := amount.CmpUint64(e.cfg.MinEscrowAmount); err != nil {
		return nil, err
	} else if below < 0 {
		return nil, fmt.Errorf("%w: amount below minimum %d", ErrInvalidInput, e.cfg.MinEscrowAmount)
	}
	if duration < e.cfg.MinDuration {
		return nil, fmt.Errorf("%w: duration below minimum %d", ErrInvalidInput, e.cfg.MinDuration)
	}
	now := e.now()
	esc := &Escrow{
		Buyer:     buyer,
		Seller:    seller,
		Asset:     asset,
		Amount:    amount.Clone(),
		CreatedAt: now,
		ExpiresAt: now + duration,
		State:     StateOpen,
	}
	if _, err := SanitizeEscrow(esc); err != nil {
		return nil, err
	}
	id, err := e.state.NextEscrowID()
	if err != nil {
		return nil, err
	}
	esc.ID = id
	lockID, err := e.ledger.Lock(buyer, asset, amount)
	if err != nil {
		return nil, err
	}
	esc.LockID = lockID
	if err := e.storeEscrow(esc); err != nil {
		if releaseErr := e.ledger.ReleaseLock(lockID); releaseErr != nil {
			return nil, errors.Join(err, releaseErr)
		}
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Release settles the escrow in favour of the seller on the buyer's
// initiative. The marketplace fee is charged on this path and only this
// path: fees apply if and only if funds move to the seller.
func (e *Engine) Release(id EscrowID, caller ledger.Address) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Resolved {
		return nil, ErrAlreadyResolved
	}
	if esc.State != StateOpen {
		return nil, fmt.Errorf("%w: cannot release in state %s", ErrInvalidState, esc.State)
	}
	if caller != esc.Buyer {
		return nil, fmt.Errorf("%w: only the buyer may release", ErrNotAuthorized)
	}
	if e.now() >= esc.ExpiresAt {
		return nil, ErrExpired
	}
	fee, err := esc.Amount.MulBps(e.cfg.MarketplaceFeeBps)
	if err != nil {
		return nil, err
	}
	net, err := esc.Amount.Sub(fee)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.TransferFromLock(esc.LockID, esc.Seller, net); err != nil {
		return nil, err
	}
	if err := e.disburseFee(esc, fee, e.cfg.MarketplaceFees, FeeKindMarketplace); err != nil {
		return nil, err
	}
	esc.State = StateReleased
	esc.Resolved = true
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(esc, net, fee, false))
	return esc.Clone(), nil
}

// Refund returns the full principal to the buyer, fee-free. The seller may
// refund voluntarily at any time; once the escrow has expired with no
// dispute, anyone may trigger it.
func (e *Engine) Refund(id EscrowID, caller ledger.Address) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Resolved {
		return nil, ErrAlreadyResolved
	}
	if esc.State != StateOpen {
		return nil, fmt.Errorf("%w: cannot refund in state %s", ErrInvalidState, esc.State)
	}
	if caller != esc.Seller && e.now() < esc.ExpiresAt {
		return nil, ErrNotYetExpired
	}
	if err := e.ledger.TransferFromLock(esc.LockID, esc.Buyer, esc.Amount); err != nil {
		return nil, err
	}
	esc.State = StateRefunded
	esc.Resolved = true
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(esc, esc.Amount, false))
	return esc.Clone(), nil
}

// StakeFor computes the dispute stake owed by a party on this escrow.
func (e *Engine) StakeFor(esc *Escrow) (ledger.Amount, error) {
	return esc.Amount.MulBps(e.cfg.DisputeStakeBps)
}

// CheckDispute performs the read-only validation for raising a dispute and
// returns the escrow on success.
func (e *Engine) CheckDispute(id EscrowID, caller ledger.Address) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Resolved {
		return nil, ErrAlreadyResolved
	}
	if esc.Disputed {
		return nil, ErrAlreadyDisputed
	}
	if esc.State != StateOpen {
		return nil, fmt.Errorf("%w: cannot dispute in state %s", ErrInvalidState, esc.State)
	}
	if !esc.Participant(caller) {
		return nil, fmt.Errorf("%w: only buyer or seller may dispute", ErrNotAuthorized)
	}
	if e.now() >= esc.ExpiresAt {
		return nil, ErrExpired
	}
	return esc.Clone(), nil
}

// MarkDisputed transitions the escrow to Disputed, locking the disputer's
// stake and recording the owning dispute's identifier. Raising a dispute is
// the only operation that ever enters the Disputed state.
func (e *Engine) MarkDisputed(id EscrowID, caller ledger.Address, disputeID [32]byte) (*Escrow, error) {
	esc, err := e.CheckDispute(id, caller)
	if err != nil {
		return nil, err
	}
	stake, err := e.StakeFor(esc)
	if err != nil {
		return nil, err
	}
	if stake.Sign() > 0 {
		lockID, err := e.ledger.Lock(caller, esc.Asset, stake)
		if err != nil {
			return nil, err
		}
		esc.StakeLockID = lockID
	}
	esc.State = StateDisputed
	esc.Disputed = true
	esc.Disputer = caller
	esc.DisputeID = disputeID
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// LockCounterStake locks the respondent's matching stake. Window enforcement
// belongs to the dispute resolver; the engine only moves and records funds.
func (e *Engine) LockCounterStake(id EscrowID, caller ledger.Address) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Resolved {
		return nil, ErrAlreadyResolved
	}
	if esc.State != StateDisputed {
		return nil, fmt.Errorf("%w: no open dispute", ErrInvalidState)
	}
	if caller != esc.Counterparty(esc.Disputer) {
		return nil, fmt.Errorf("%w: only the dispute respondent may counter-stake", ErrNotAuthorized)
	}
	if esc.CounterStaked {
		return nil, fmt.Errorf("%w: counter-stake already posted", ErrInvalidState)
	}
	stake, err := e.StakeFor(esc)
	if err != nil {
		return nil, err
	}
	if stake.Sign() > 0 {
		lockID, err := e.ledger.Lock(caller, esc.Asset, stake)
		if err != nil {
			return nil, err
		}
		esc.CounterStakeLock = lockID
	}
	esc.CounterStaked = true
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// UndoCounterStake reverses LockCounterStake when the resolver rejects the
// posting. The stake lands in the respondent's claimable pool.
func (e *Engine) UndoCounterStake(id EscrowID) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if !esc.CounterStaked {
		return nil
	}
	if esc.CounterStakeLock != (ledger.LockID{}) {
		if err := e.ledger.ReleaseLock(esc.CounterStakeLock); err != nil {
			return err
		}
	}
	esc.CounterStaked = false
	esc.CounterStakeLock = ledger.LockID{}
	return e.storeEscrow(esc)
}

// ApplyOutcome settles a disputed escrow in the direction the resolver
// decided. The arbitration fee is deducted identically for both directions;
// the marketplace fee applies only when funds move to the seller. The
// prevailing party's stake is returned; a losing party that posted a stake
// forfeits it to the arbitration fee recipients.
func (e *Engine) ApplyOutcome(id EscrowID, direction Direction, defaulted bool) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Resolved {
		return nil, ErrAlreadyResolved
	}
	if esc.State != StateDisputed {
		return nil, fmt.Errorf("%w: cannot apply outcome in state %s", ErrInvalidState, esc.State)
	}
	arbFee, err := esc.Amount.MulBps(e.cfg.ArbitrationFeeBps)
	if err != nil {
		return nil, err
	}
	net, err := esc.Amount.Sub(arbFee)
	if err != nil {
		return nil, err
	}
	var mktFee ledger.Amount
	recipient := esc.Buyer
	if direction == DirectionRelease {
		recipient = esc.Seller
		mktFee, err = esc.Amount.MulBps(e.cfg.MarketplaceFeeBps)
		if err != nil {
			return nil, err
		}
		net, err = net.Sub(mktFee)
		if err != nil {
			return nil, err
		}
	}
	if err := e.ledger.TransferFromLock(esc.LockID, recipient, net); err != nil {
		return nil, err
	}
	if mktFee != nil {
		if err := e.disburseFee(esc, mktFee, e.cfg.MarketplaceFees, FeeKindMarketplace); err != nil {
			return nil, err
		}
	}
	if err := e.disburseFee(esc, arbFee, e.cfg.ArbitrationFees, FeeKindArbitration); err != nil {
		return nil, err
	}
	if err := e.settleStakes(esc, recipient); err != nil {
		return nil, err
	}
	switch {
	case defaulted:
		esc.State = StateDefaulted
	case direction == DirectionRelease:
		esc.State = StateReleased
	default:
		esc.State = StateRefunded
	}
	esc.Resolved = true
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	feeTotal := arbFee
	if mktFee != nil {
		feeTotal, err = arbFee.Add(mktFee)
		if err != nil {
			return nil, err
		}
	}
	if direction == DirectionRelease {
		e.emit(NewReleasedEvent(esc, net, feeTotal, defaulted))
	} else {
		e.emit(NewRefundedEvent(esc, net, defaulted))
	}
	return esc.Clone(), nil
}

// settleStakes returns the winner's stake lock and forfeits the loser's to
// the arbitration fee recipients.
func (e *Engine) settleStakes(esc *Escrow, winner ledger.Address) error {
	disputerWon := esc.Disputer == winner
	if err := e.settleStakeLock(esc, esc.StakeLockID, disputerWon); err != nil {
		return err
	}
	if esc.CounterStaked {
		if err := e.settleStakeLock(esc, esc.CounterStakeLock, !disputerWon); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) settleStakeLock(esc *Escrow, lockID ledger.LockID, won bool) error {
	if lockID == (ledger.LockID{}) {
		return nil
	}
	if won {
		return e.ledger.ReleaseLock(lockID)
	}
	balance, err := e.ledger.LockBalance(lockID)
	if err != nil {
		return err
	}
	payouts, err := e.cfg.ArbitrationFees.Split(balance)
	if err != nil {
		return err
	}
	for _, payout := range payouts {
		if payout.Amount.Sign() <= 0 {
			continue
		}
		if err := e.ledger.TransferFromLock(lockID, payout.Recipient, payout.Amount); err != nil {
			return err
		}
		e.emit(NewFeeCollectedEvent(esc, FeeKindForfeitedStake, payout.Recipient, payout.Amount))
	}
	return nil
}

func (e *Engine) disburseFee(esc *Escrow, fee ledger.Amount, table *fees.Table, kind string) error {
	if fee == nil || fee.Sign() <= 0 {
		return nil
	}
	payouts, err := table.Split(fee)
	if err != nil {
		return err
	}
	for _, payout := range payouts {
		if payout.Amount.Sign() <= 0 {
			continue
		}
		if err := e.ledger.TransferFromLock(esc.LockID, payout.Recipient, payout.Amount); err != nil {
			return err
		}
		e.emit(NewFeeCollectedEvent(esc, kind, payout.Recipient, payout.Amount))
	}
	return nil
}
