package settlement

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"omnisettle/core/events"
	"omnisettle/native/arbitration"
	"omnisettle/native/common"
	"omnisettle/native/escrow"
	"omnisettle/native/ledger"
	"omnisettle/observability"
)

const moduleName = "settlement"

var (
	errNilEngine   = errors.New("settlement: escrow engine not configured")
	errNilResolver = errors.New("settlement: dispute resolver not configured")
	errNilLedger   = errors.New("settlement: ledger not configured")
	// ErrNotRegistered is returned when the identity gate rejects a
	// dispute-raising caller.
	ErrNotRegistered = errors.New("settlement: caller not registered")
	// ErrRateLimited is returned when a caller exceeds the dispute rate.
	ErrRateLimited = errors.New("settlement: dispute rate exceeded")
)

// IdentityRegistry is the external registration collaborator consulted for
// Sybil-resistance gating on dispute raising. A nil registry disables the
// gate.
type IdentityRegistry interface {
	IsRegistered(account ledger.Address) bool
}

// Options tunes coordinator-level throttling.
type Options struct {
	// DisputesPerMinute caps dispute raising per account; zero disables the
	// limiter.
	DisputesPerMinute float64
	// DisputeQuota caps disputes per account per quota epoch; a zero quota
	// disables the cap.
	DisputeQuota common.Quota
}

// Coordinator is the single external-facing surface of the settlement core.
// It authenticates callers, serializes operations per escrow, routes to the
// escrow engine and dispute resolver, and emits the complete event log. Every
// call either succeeds with a state change or fails with a typed error;
// unauthorized calls never silently no-op.
type Coordinator struct {
	engine   *escrow.Engine
	resolver *arbitration.Resolver
	registry *arbitration.Registry
	ledger   ledger.Ledger
	identity IdentityRegistry
	pauses   common.PauseView
	emitter  events.Emitter
	log      *slog.Logger
	metrics  *observability.Metrics
	nowFn    func() int64
	opts     Options

	locksMu sync.Mutex
	locks   map[escrow.EscrowID]*sync.Mutex

	limiterMu sync.Mutex
	limiters  map[ledger.Address]*rate.Limiter
	usage     map[ledger.Address]common.QuotaNow
}

// New wires a coordinator over the supplied engine, resolver, registry and
// ledger. The emitter defaults to no-op, the logger to slog.Default and the
// metrics to an unregistered instance.
func New(eng *escrow.Engine, res *arbitration.Resolver, reg *arbitration.Registry, l ledger.Ledger, opts Options) (*Coordinator, error) {
	if eng == nil {
		return nil, errNilEngine
	}
	if res == nil || reg == nil {
		return nil, errNilResolver
	}
	if l == nil {
		return nil, errNilLedger
	}
	return &Coordinator{
		engine:   eng,
		resolver: res,
		registry: reg,
		ledger:   l,
		emitter:  events.NoopEmitter{},
		log:      slog.Default(),
		metrics:  observability.NewMetrics(nil),
		nowFn:    func() int64 { return time.Now().Unix() },
		opts:     opts,
		locks:    make(map[escrow.EscrowID]*sync.Mutex),
		limiters: make(map[ledger.Address]*rate.Limiter),
		usage:    make(map[ledger.Address]common.QuotaNow),
	}, nil
}

// SetIdentityRegistry configures the dispute-raising identity gate.
func (c *Coordinator) SetIdentityRegistry(identity IdentityRegistry) { c.identity = identity }

// SetPauses configures the operational pause switch. It propagates nowhere:
// the coordinator is the only mutation entry point, so guarding here guards
// the whole core.
func (c *Coordinator) SetPauses(p common.PauseView) { c.pauses = p }

// SetEmitter configures the event emitter shared with both engines. Passing
// nil resets to a no-op implementation.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
	c.engine.SetEmitter(emitter)
	c.resolver.SetEmitter(emitter)
}

// SetLogger configures the coordinator's structured logger.
func (c *Coordinator) SetLogger(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	c.log = log
}

// SetMetrics configures the metrics sink.
func (c *Coordinator) SetMetrics(m *observability.Metrics) {
	if m == nil {
		m = observability.NewMetrics(nil)
	}
	c.metrics = m
}

// SetNowFunc overrides the time source used for quota epochs. Engine and
// resolver clocks are configured on those components directly.
func (c *Coordinator) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	c.nowFn = now
}

func (c *Coordinator) escrowLock(id escrow.EscrowID) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[id] = mu
	}
	return mu
}

func (c *Coordinator) observe(method string, start time.Time, err error) {
	c.metrics.Observe(method, start, err)
	if err != nil {
		c.log.Error("settlement operation failed", "method", method, "err", err)
		return
	}
	c.log.Debug("settlement operation applied", "method", method)
}

// CreateEscrow opens a new escrow and locks the buyer's principal.
func (c *Coordinator) CreateEscrow(buyer, seller ledger.Address, asset string, amount ledger.Amount, duration int64) (esc *escrow.Escrow, err error) {
	defer func(start time.Time) { c.observe("create_escrow", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	return c.engine.Create(buyer, seller, asset, amount, duration)
}

// ReleaseFunds settles the escrow toward the seller on the buyer's call.
func (c *Coordinator) ReleaseFunds(id escrow.EscrowID, caller ledger.Address) (esc *escrow.Escrow, err error) {
	defer func(start time.Time) { c.observe("release_funds", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	mu := c.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()
	return c.engine.Release(id, caller)
}

// RefundBuyer settles the escrow toward the buyer: voluntarily by the seller
// at any time, or by anyone after expiry with no dispute.
func (c *Coordinator) RefundBuyer(id escrow.EscrowID, caller ledger.Address) (esc *escrow.Escrow, err error) {
	defer func(start time.Time) { c.observe("refund_buyer", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	mu := c.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()
	return c.engine.Refund(id, caller)
}

// RaiseDispute transitions an open escrow to Disputed. The caller posts a
// stake sized by the configured bps and commits to an entropy seed revealed
// later for panel selection. This is the only entry point that ever enters
// the Disputed state.
func (c *Coordinator) RaiseDispute(id escrow.EscrowID, caller ledger.Address, commitment [32]byte) (dispute *arbitration.Dispute, err error) {
	defer func(start time.Time) { c.observe("raise_dispute", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	if c.identity != nil && !c.identity.IsRegistered(caller) {
		return nil, ErrNotRegistered
	}
	if err = c.throttleDispute(caller); err != nil {
		return nil, err
	}
	mu := c.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()
	esc, err := c.engine.CheckDispute(id, caller)
	if err != nil {
		return nil, err
	}
	disputeID := arbitration.DeriveDisputeID(id.Key(), caller, commitment)
	if _, err = c.engine.MarkDisputed(id, caller, disputeID); err != nil {
		return nil, err
	}
	return c.resolver.Open(id.Key(), caller, esc.Counterparty(caller), commitment)
}

// PostCounterStake records the dispute respondent matching the disputer's
// stake within the response window.
func (c *Coordinator) PostCounterStake(id escrow.EscrowID, caller ledger.Address) (err error) {
	defer func(start time.Time) { c.observe("post_counter_stake", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return err
	}
	mu := c.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()
	esc, err := c.engine.Get(id)
	if err != nil {
		return err
	}
	if !esc.Disputed {
		return escrow.ErrInvalidState
	}
	if _, err = c.engine.LockCounterStake(id, caller); err != nil {
		return err
	}
	if err = c.resolver.PostCounterStake(esc.DisputeID, caller); err != nil {
		if undoErr := c.engine.UndoCounterStake(id); undoErr != nil {
			return errors.Join(err, undoErr)
		}
		return err
	}
	return nil
}

// RevealDispute verifies the disputer's committed seed and selects the
// arbitrator panel.
func (c *Coordinator) RevealDispute(id escrow.EscrowID, caller ledger.Address, seed [32]byte) (dispute *arbitration.Dispute, err error) {
	defer func(start time.Time) { c.observe("reveal_dispute", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	mu := c.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()
	esc, err := c.engine.Get(id)
	if err != nil {
		return nil, err
	}
	if !esc.Disputed {
		return nil, escrow.ErrInvalidState
	}
	return c.resolver.Reveal(esc.DisputeID, caller, seed)
}

// CastVote records one panel member's outcome. When the vote reaches quorum
// the dispute outcome is applied to the escrow in the same call.
func (c *Coordinator) CastVote(disputeID [32]byte, arbitrator ledger.Address, outcome arbitration.Outcome) (esc *escrow.Escrow, err error) {
	defer func(start time.Time) { c.observe("cast_vote", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	dispute, err := c.resolver.Get(disputeID)
	if err != nil {
		return nil, err
	}
	id := escrow.IDFromKey(dispute.EscrowID)
	mu := c.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()
	decision, err := c.resolver.CastVote(disputeID, arbitrator, outcome)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, nil
	}
	return c.applyDecision(id, decision)
}

// TriggerDefaultResolution finalizes a dispute whose deadline passed without
// quorum. Callable by anyone.
func (c *Coordinator) TriggerDefaultResolution(disputeID [32]byte) (esc *escrow.Escrow, err error) {
	defer func(start time.Time) { c.observe("trigger_default", start, err) }(time.Now())
	if err = common.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	dispute, err := c.resolver.Get(disputeID)
	if err != nil {
		return nil, err
	}
	id := escrow.IDFromKey(dispute.EscrowID)
	mu := c.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()
	decision, err := c.resolver.TriggerDefault(disputeID)
	if err != nil {
		return nil, err
	}
	return c.applyDecision(id, decision)
}

// Claim drains the caller's claimable balance for the asset into their
// spendable balance. Claiming an empty balance succeeds with a zero amount.
func (c *Coordinator) Claim(asset string, account ledger.Address) (amount ledger.Amount, err error) {
	defer func(start time.Time) { c.observe("claim", start, err) }(time.Now())
	amount, err = c.ledger.Claim(asset, account)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		c.emitter.Emit(NewFundsClaimedEvent(asset, account, amount))
	}
	return amount, nil
}

// GetEscrow returns a copy of the escrow record.
func (c *Coordinator) GetEscrow(id escrow.EscrowID) (*escrow.Escrow, error) {
	return c.engine.Get(id)
}

// GetDispute returns a copy of the dispute record.
func (c *Coordinator) GetDispute(disputeID [32]byte) (*arbitration.Dispute, error) {
	return c.resolver.Get(disputeID)
}

func (c *Coordinator) applyDecision(id escrow.EscrowID, decision *arbitration.Decision) (*escrow.Escrow, error) {
	direction := escrow.DirectionRelease
	if decision.Defaulted {
		esc, err := c.engine.Get(id)
		if err != nil {
			return nil, err
		}
		if decision.Winner == esc.Buyer {
			direction = escrow.DirectionRefund
		}
	} else if decision.Outcome == arbitration.OutcomeRefund {
		direction = escrow.DirectionRefund
	}
	return c.engine.ApplyOutcome(id, direction, decision.Defaulted)
}

func (c *Coordinator) throttleDispute(caller ledger.Address) error {
	if c.opts.DisputesPerMinute <= 0 && c.opts.DisputeQuota.MaxDisputesPerEpoch == 0 {
		return nil
	}
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	if c.opts.DisputesPerMinute > 0 {
		limiter, ok := c.limiters[caller]
		if !ok {
			perSecond := rate.Limit(c.opts.DisputesPerMinute / 60)
			limiter = rate.NewLimiter(perSecond, burstFor(c.opts.DisputesPerMinute))
			c.limiters[caller] = limiter
		}
		if !limiter.Allow() {
			return ErrRateLimited
		}
	}
	if c.opts.DisputeQuota.MaxDisputesPerEpoch > 0 {
		epochSeconds := int64(c.opts.DisputeQuota.EpochSeconds)
		if epochSeconds <= 0 {
			epochSeconds = 3600
		}
		nowEpoch := uint64(c.nowFn() / epochSeconds)
		next, err := common.CheckQuota(c.opts.DisputeQuota, nowEpoch, c.usage[caller], 1)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		c.usage[caller] = next
	}
	return nil
}

func burstFor(perMinute float64) int {
	burst := int(perMinute)
	if burst < 1 {
		burst = 1
	}
	return burst
}
