package arbitration

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"omnisettle/core/events"
	"omnisettle/native/ledger"
)

var (
	errNilState        = errors.New("arbitration: state not configured")
	errNilRegistry     = errors.New("arbitration: registry not configured")
	ErrDisputeNotFound = errors.New("arbitration: dispute not found")
	ErrDisputeExists   = errors.New("arbitration: dispute already exists")
	ErrNotAuthorized   = errors.New("arbitration: caller not authorized")
	ErrInvalidState    = errors.New("arbitration: operation not valid in current state")
	ErrAlreadyResolved = errors.New("arbitration: dispute already resolved")
	ErrExpired         = errors.New("arbitration: deadline passed")
	ErrNotYetExpired   = errors.New("arbitration: deadline not reached")
	ErrInvalidCommit   = errors.New("arbitration: revealed seed does not match commitment")
	ErrNotPanelMember  = errors.New("arbitration: caller not on panel")
	ErrAlreadyVoted    = errors.New("arbitration: arbitrator already voted")
	ErrInvalidOutcome  = errors.New("arbitration: invalid vote outcome")
)

// Params configures dispute timing and panel sizing.
type Params struct {
	PanelSize          uint32
	CounterStakeWindow int64
	VotingPeriod       int64
}

// Validate enforces the structural constraints on the parameters: the panel
// must be odd and at least three so ties are impossible by construction.
func (p Params) Validate() error {
	if p.PanelSize < 3 || p.PanelSize%2 == 0 {
		return fmt.Errorf("arbitration: panel size must be odd and >= 3, got %d", p.PanelSize)
	}
	if p.CounterStakeWindow <= 0 {
		return fmt.Errorf("arbitration: counter-stake window must be positive")
	}
	if p.VotingPeriod <= 0 {
		return fmt.Errorf("arbitration: voting period must be positive")
	}
	return nil
}

// Quorum returns the number of matching votes that decides a dispute.
func (p Params) Quorum() int {
	return int(p.PanelSize)/2 + 1
}

type resolverState interface {
	DisputePut(*Dispute) error
	DisputeGet(id [32]byte) (*Dispute, bool)
}

// Decision reports a dispute reaching a terminal state. For voted outcomes
// the direction is carried in Outcome; for defaults the Winner address names
// the party the default policy favors and the caller maps it to a direction.
type Decision struct {
	DisputeID [32]byte
	EscrowID  [32]byte
	Outcome   Outcome
	Winner    ledger.Address
	Defaulted bool
}

// Resolver owns the dispute state machine: counter-stake collection, panel
// selection, vote tallying and deadline defaults. It never moves funds; the
// escrow engine applies the decisions it returns.
type Resolver struct {
	state    resolverState
	registry *Registry
	emitter  events.Emitter
	nowFn    func() int64
	beaconFn func() [32]byte
	params   Params
}

// NewResolver creates a resolver bound to the supplied registry with a no-op
// emitter, wall-clock time source and a crypto/rand selection beacon.
func NewResolver(registry *Registry, params Params) (*Resolver, error) {
	if registry == nil {
		return nil, errNilRegistry
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		registry: registry,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		beaconFn: randomBeacon,
		params:   params,
	}, nil
}

// SetState configures the state backend used by the resolver.
func (r *Resolver) SetState(state resolverState) { r.state = state }

// SetEmitter configures the event emitter. Passing nil resets to no-op.
func (r *Resolver) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (r *Resolver) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// SetBeaconFunc overrides the selection-time entropy source. The beacon is
// mixed with the disputer's revealed seed, so fixing it in tests still leaves
// panel selection commitment-bound.
func (r *Resolver) SetBeaconFunc(beacon func() [32]byte) {
	if beacon == nil {
		r.beaconFn = randomBeacon
		return
	}
	r.beaconFn = beacon
}

// Params returns the resolver's timing configuration.
func (r *Resolver) Params() Params { return r.params }

func (r *Resolver) emit(evt *events.Payload) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}

func (r *Resolver) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

// CommitSeed derives the commitment hash a disputer submits when raising a
// dispute. Exposed so hosts and tests build commitments the same way the
// resolver verifies them.
func CommitSeed(seed [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(seed[:])
}

// DeriveDisputeID computes the deterministic dispute identifier, letting the
// escrow engine record the back-reference before the dispute record exists.
func DeriveDisputeID(escrowKey [32]byte, disputer ledger.Address, commitment [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(escrowKey[:], disputer[:], commitment[:])
}

// Open creates the dispute record for an escrow in AwaitingCounterStake. The
// escrow engine has already validated the caller and locked the disputer's
// stake; the resolver records the commitment and starts the response window.
func (r *Resolver) Open(escrowID [32]byte, disputer, respondent ledger.Address, commitment [32]byte) (*Dispute, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	now := r.now()
	id := DeriveDisputeID(escrowID, disputer, commitment)
	if _, ok := r.state.DisputeGet(id); ok {
		return nil, ErrDisputeExists
	}
	dispute := &Dispute{
		ID:                   id,
		EscrowID:             escrowID,
		Disputer:             disputer,
		Respondent:           respondent,
		CommittedHash:        commitment,
		CounterStakeDeadline: now + r.params.CounterStakeWindow,
		Votes:                make(map[ledger.Address]Outcome),
		Outcome:              OutcomePending,
		Status:               DisputeAwaitingCounterStake,
		CreatedAt:            now,
	}
	if err := r.state.DisputePut(dispute); err != nil {
		return nil, err
	}
	r.emit(NewDisputeRaisedEvent(dispute))
	return dispute.Clone(), nil
}

// PostCounterStake records the respondent matching the disputer's stake
// within the response window.
func (r *Resolver) PostCounterStake(id [32]byte, caller ledger.Address) error {
	dispute, err := r.loadDispute(id)
	if err != nil {
		return err
	}
	if dispute.Terminal() {
		return ErrAlreadyResolved
	}
	if dispute.Status != DisputeAwaitingCounterStake {
		return ErrInvalidState
	}
	if caller != dispute.Respondent {
		return ErrNotAuthorized
	}
	if dispute.CounterStaked() {
		return ErrInvalidState
	}
	now := r.now()
	if now > dispute.CounterStakeDeadline {
		return ErrExpired
	}
	dispute.CounterStakedAt = now
	if err := r.state.DisputePut(dispute); err != nil {
		return err
	}
	r.emit(NewCounterStakeEvent(dispute))
	return nil
}

// Reveal verifies the disputer's committed seed and selects the panel. The
// selection entropy is keccak(seed, beacon, disputeID): the seed was fixed
// before the dispute outcome was knowable and the beacon only at selection
// time, so neither party can grind for a favorable panel.
func (r *Resolver) Reveal(id [32]byte, caller ledger.Address, seed [32]byte) (*Dispute, error) {
	dispute, err := r.loadDispute(id)
	if err != nil {
		return nil, err
	}
	if dispute.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if dispute.Status != DisputeAwaitingCounterStake {
		return nil, ErrInvalidState
	}
	if caller != dispute.Disputer {
		return nil, ErrNotAuthorized
	}
	if !dispute.CounterStaked() {
		return nil, ErrInvalidState
	}
	if CommitSeed(seed) != dispute.CommittedHash {
		return nil, ErrInvalidCommit
	}
	beacon := r.beaconFn()
	entropy := ethcrypto.Keccak256Hash(seed[:], beacon[:], id[:])
	exclude := []ledger.Address{dispute.Disputer, dispute.Respondent}
	panel, err := r.registry.SelectPanel(entropy, exclude, int(r.params.PanelSize))
	if err != nil {
		return nil, err
	}
	now := r.now()
	dispute.RevealedAt = now
	dispute.Panel = panel
	dispute.VotingDeadline = now + r.params.VotingPeriod
	dispute.Status = DisputePanelSelected
	if err := r.state.DisputePut(dispute); err != nil {
		r.registry.ReleaseAssignments(panel)
		return nil, err
	}
	r.emit(NewPanelSelectedEvent(dispute))
	return dispute.Clone(), nil
}

// CastVote records one panel member's outcome. When the vote reaches quorum
// the dispute resolves and the decision is returned; otherwise the returned
// decision is nil.
func (r *Resolver) CastVote(id [32]byte, arbitrator ledger.Address, outcome Outcome) (*Decision, error) {
	dispute, err := r.loadDispute(id)
	if err != nil {
		return nil, err
	}
	if dispute.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if dispute.Status != DisputePanelSelected && dispute.Status != DisputeVoting {
		return nil, ErrInvalidState
	}
	if outcome != OutcomeRelease && outcome != OutcomeRefund {
		return nil, ErrInvalidOutcome
	}
	if !memberOf(dispute.Panel, arbitrator) {
		return nil, ErrNotPanelMember
	}
	if _, voted := dispute.Votes[arbitrator]; voted {
		return nil, ErrAlreadyVoted
	}
	if r.now() > dispute.VotingDeadline {
		return nil, ErrExpired
	}
	dispute.Votes[arbitrator] = outcome
	dispute.Status = DisputeVoting
	tally := 0
	for _, vote := range dispute.Votes {
		if vote == outcome {
			tally++
		}
	}
	decided := tally >= r.params.Quorum()
	if decided {
		dispute.Outcome = outcome
		dispute.Status = DisputeResolved
	}
	if err := r.state.DisputePut(dispute); err != nil {
		return nil, err
	}
	r.emit(NewVoteCastEvent(dispute, arbitrator, outcome))
	if !decided {
		return nil, nil
	}
	r.registry.ReleaseAssignments(dispute.Panel)
	r.emit(NewDisputeResolvedEvent(dispute))
	return &Decision{DisputeID: dispute.ID, EscrowID: dispute.EscrowID, Outcome: outcome}, nil
}

// TriggerDefault resolves a dispute whose deadline passed without quorum.
// Callable by anyone. Policy, in order:
//   - response window elapsed with no counter-stake: the disputer wins;
//   - counter-stake posted but the disputer never revealed within a second
//     window: the respondent wins (a disputer cannot stall indefinitely);
//   - voting deadline elapsed without quorum: both parties hold stakes, the
//     original disputer wins.
func (r *Resolver) TriggerDefault(id [32]byte) (*Decision, error) {
	dispute, err := r.loadDispute(id)
	if err != nil {
		return nil, err
	}
	if dispute.Terminal() {
		return nil, ErrAlreadyResolved
	}
	now := r.now()
	var winner ledger.Address
	switch dispute.Status {
	case DisputeAwaitingCounterStake:
		if !dispute.CounterStaked() {
			if now <= dispute.CounterStakeDeadline {
				return nil, ErrNotYetExpired
			}
			winner = dispute.Disputer
		} else {
			revealDeadline := dispute.CounterStakedAt + r.params.CounterStakeWindow
			if now <= revealDeadline {
				return nil, ErrNotYetExpired
			}
			winner = dispute.Respondent
		}
	case DisputePanelSelected, DisputeVoting:
		if now <= dispute.VotingDeadline {
			return nil, ErrNotYetExpired
		}
		winner = dispute.Disputer
	default:
		return nil, ErrInvalidState
	}
	dispute.Outcome = OutcomeDefaulted
	dispute.Status = DisputeDefaulted
	if err := r.state.DisputePut(dispute); err != nil {
		return nil, err
	}
	if len(dispute.Panel) > 0 {
		r.registry.ReleaseAssignments(dispute.Panel)
	}
	r.emit(NewDisputeDefaultedEvent(dispute, winner))
	return &Decision{
		DisputeID: dispute.ID,
		EscrowID:  dispute.EscrowID,
		Outcome:   OutcomeDefaulted,
		Winner:    winner,
		Defaulted: true,
	}, nil
}

// Get returns a copy of the dispute record.
func (r *Resolver) Get(id [32]byte) (*Dispute, error) {
	return r.loadDispute(id)
}

func (r *Resolver) loadDispute(id [32]byte) (*Dispute, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	dispute, ok := r.state.DisputeGet(id)
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return dispute, nil
}

func randomBeacon() [32]byte {
	var beacon [32]byte
	if _, err := rand.Read(beacon[:]); err != nil {
		// crypto/rand failure leaves a zero beacon; selection still mixes
		// the committed seed and dispute id.
		return beacon
	}
	return beacon
}
