package settlement

import (
	"errors"
	"math/big"
	"testing"

	"omnisettle/core/events"
	"omnisettle/native/arbitration"
	"omnisettle/native/common"
	"omnisettle/native/escrow"
	"omnisettle/native/fees"
	"omnisettle/native/ledger"
)

const testAsset = "usd"

var (
	buyer   = testAddr(0x0B)
	seller  = testAddr(0x05)
	mktSink = testAddr(0xF1)
	arbSink = testAddr(0xF2)

	testSeed = [32]byte{0x5E, 0xED}
)

func testAddr(fill byte) ledger.Address {
	var a ledger.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

type denyAll struct{}

func (denyAll) IsRegistered(ledger.Address) bool { return false }

type pauseSwitch struct{ paused bool }

func (p *pauseSwitch) IsPaused(string) bool { return p.paused }

type coordFixture struct {
	coord    *Coordinator
	ledger   *ledger.MemoryLedger
	registry *arbitration.Registry
	recorder *events.Recorder
	now      int64
}

func newCoordFixture(t *testing.T, opts Options) *coordFixture {
	t.Helper()
	fix := &coordFixture{now: 1_700_000_000}
	clock := func() int64 { return fix.now }

	fix.ledger = ledger.NewMemoryLedger()
	if err := fix.ledger.RegisterAsset(testAsset); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	for _, account := range []ledger.Address{buyer, seller} {
		if err := fix.ledger.Mint(testAsset, account, ledger.PlainFromUint64(1_000_000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}

	fix.registry = arbitration.NewRegistry(64, big.NewInt(100))
	for i := 0; i < 5; i++ {
		if err := fix.registry.Register(testAddr(byte(0x10+i)), big.NewInt(100)); err != nil {
			t.Fatalf("register arbitrator %d: %v", i, err)
		}
	}

	engine, err := escrow.NewEngine(escrow.Config{
		MinEscrowAmount:   1_000,
		MinDuration:       3_600,
		DisputeStakeBps:   10,
		MarketplaceFeeBps: 100,
		ArbitrationFeeBps: 50,
		MarketplaceFees:   fees.SingleRecipient(mktSink),
		ArbitrationFees:   fees.SingleRecipient(arbSink),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	engine.SetState(escrow.NewMemoryState())
	engine.SetLedger(fix.ledger)
	engine.SetNowFunc(clock)

	resolver, err := arbitration.NewResolver(fix.registry, arbitration.Params{
		PanelSize:          3,
		CounterStakeWindow: 100,
		VotingPeriod:       1_000,
	})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	resolver.SetState(arbitration.NewMemoryState())
	resolver.SetNowFunc(clock)
	resolver.SetBeaconFunc(func() [32]byte { return [32]byte{0xBE} })

	coord, err := New(engine, resolver, fix.registry, fix.ledger, opts)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	coord.SetNowFunc(clock)
	fix.recorder = events.NewRecorder()
	coord.SetEmitter(fix.recorder)
	fix.coord = coord
	return fix
}

func (f *coordFixture) advance(seconds int64) { f.now += seconds }

func (f *coordFixture) createEscrow(t *testing.T) *escrow.Escrow {
	t.Helper()
	esc, err := f.coord.CreateEscrow(buyer, seller, testAsset, ledger.PlainFromUint64(10_000), 7_200)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return esc
}

func (f *coordFixture) claimed(t *testing.T, account ledger.Address) uint64 {
	t.Helper()
	amount, err := f.coord.Claim(testAsset, account)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	p, ok := amount.(*ledger.Plain)
	if !ok {
		t.Fatalf("expected plain amount, got %T", amount)
	}
	return p.Value().Uint64()
}

func TestVoluntaryReleaseAndClaim(t *testing.T) {
	fix := newCoordFixture(t, Options{})
	esc := fix.createEscrow(t)

	settled, err := fix.coord.ReleaseFunds(esc.ID, buyer)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if settled.State != escrow.StateReleased {
		t.Fatalf("unexpected state %v", settled.State)
	}

	if got := fix.claimed(t, seller); got != 9_900 {
		t.Fatalf("seller claim: want 9900, got %d", got)
	}
	// Claim is idempotent at zero.
	if got := fix.claimed(t, seller); got != 0 {
		t.Fatalf("second claim: want 0, got %d", got)
	}
	if got := fix.claimed(t, mktSink); got != 100 {
		t.Fatalf("marketplace claim: want 100, got %d", got)
	}

	claims := 0
	for _, evt := range fix.recorder.Events() {
		if evt.EventType() == EventTypeFundsClaimed {
			claims++
		}
	}
	// Zero-amount claims succeed silently; only the two drains emit.
	if claims != 2 {
		t.Fatalf("want 2 funds.claimed events, got %d", claims)
	}
}

func TestDisputedRefundFlow(t *testing.T) {
	fix := newCoordFixture(t, Options{})
	esc := fix.createEscrow(t)

	dispute, err := fix.coord.RaiseDispute(esc.ID, buyer, arbitration.CommitSeed(testSeed))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	stored, err := fix.coord.GetEscrow(esc.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if stored.State != escrow.StateDisputed || stored.DisputeID != dispute.ID {
		t.Fatalf("dispute back-reference missing: %+v", stored)
	}

	// A second dispute on the same escrow can never be raised.
	if _, err := fix.coord.RaiseDispute(esc.ID, seller, arbitration.CommitSeed(testSeed)); !errors.Is(err, escrow.ErrAlreadyDisputed) {
		t.Fatalf("expected ErrAlreadyDisputed, got %v", err)
	}

	if err := fix.coord.PostCounterStake(esc.ID, seller); err != nil {
		t.Fatalf("counter-stake: %v", err)
	}
	revealed, err := fix.coord.RevealDispute(esc.ID, buyer, testSeed)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if len(revealed.Panel) != 3 {
		t.Fatalf("want panel of 3, got %d", len(revealed.Panel))
	}

	settled, err := fix.coord.CastVote(dispute.ID, revealed.Panel[0], arbitration.OutcomeRefund)
	if err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	if settled != nil {
		t.Fatalf("first vote settled a 3-member panel")
	}
	settled, err = fix.coord.CastVote(dispute.ID, revealed.Panel[1], arbitration.OutcomeRefund)
	if err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if settled == nil || settled.State != escrow.StateRefunded {
		t.Fatalf("unexpected settlement %+v", settled)
	}

	// Net of the symmetric arbitration fee, plus the returned stake.
	if got := fix.claimed(t, buyer); got != 9_960 {
		t.Fatalf("buyer claim: want 9960, got %d", got)
	}
	// The losing seller's counter-stake forfeits to the arbitration sink.
	if got := fix.claimed(t, arbSink); got != 60 {
		t.Fatalf("arbitration claim: want 60, got %d", got)
	}
	if got := fix.claimed(t, seller); got != 0 {
		t.Fatalf("seller claim: want 0, got %d", got)
	}
}

func TestDefaultWithoutCounterStake(t *testing.T) {
	fix := newCoordFixture(t, Options{})
	esc := fix.createEscrow(t)
	dispute, err := fix.coord.RaiseDispute(esc.ID, buyer, arbitration.CommitSeed(testSeed))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	if _, err := fix.coord.TriggerDefaultResolution(dispute.ID); !errors.Is(err, arbitration.ErrNotYetExpired) {
		t.Fatalf("expected ErrNotYetExpired, got %v", err)
	}
	fix.advance(101)
	settled, err := fix.coord.TriggerDefaultResolution(dispute.ID)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if settled.State != escrow.StateDefaulted {
		t.Fatalf("unexpected state %v", settled.State)
	}
	// The silent respondent loses: principal net of the arbitration fee goes
	// back to the disputing buyer along with the returned stake.
	if got := fix.claimed(t, buyer); got != 9_960 {
		t.Fatalf("buyer claim: want 9960, got %d", got)
	}
	if got := fix.claimed(t, arbSink); got != 50 {
		t.Fatalf("arbitration claim: want 50, got %d", got)
	}
}

func TestDefaultAfterVotingTimeout(t *testing.T) {
	fix := newCoordFixture(t, Options{})
	esc := fix.createEscrow(t)
	dispute, err := fix.coord.RaiseDispute(esc.ID, seller, arbitration.CommitSeed(testSeed))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := fix.coord.PostCounterStake(esc.ID, buyer); err != nil {
		t.Fatalf("counter-stake: %v", err)
	}
	if _, err := fix.coord.RevealDispute(esc.ID, seller, testSeed); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	fix.advance(1_001)
	settled, err := fix.coord.TriggerDefaultResolution(dispute.ID)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if settled.State != escrow.StateDefaulted {
		t.Fatalf("unexpected state %v", settled.State)
	}
	// The disputing seller wins the stalled vote: release direction, so both
	// fees apply and the buyer's counter-stake forfeits.
	if got := fix.claimed(t, seller); got != 9_850+10 {
		t.Fatalf("seller claim: want 9860, got %d", got)
	}
	if got := fix.claimed(t, arbSink); got != 50+10 {
		t.Fatalf("arbitration claim: want 60, got %d", got)
	}
	if got := fix.claimed(t, mktSink); got != 100 {
		t.Fatalf("marketplace claim: want 100, got %d", got)
	}
}

func TestSealedAssetSettlement(t *testing.T) {
	fix := newCoordFixture(t, Options{})
	codec, err := ledger.NewSealedCodec()
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	if err := fix.ledger.RegisterSealedAsset("susd", codec); err != nil {
		t.Fatalf("register: %v", err)
	}
	funding, err := codec.Seal(big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := fix.ledger.Mint("susd", buyer, funding); err != nil {
		t.Fatalf("mint: %v", err)
	}

	principal, err := codec.Seal(big.NewInt(10_000))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	esc, err := fix.coord.CreateEscrow(buyer, seller, "susd", principal, 7_200)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fix.coord.ReleaseFunds(esc.ID, buyer); err != nil {
		t.Fatalf("release: %v", err)
	}

	amount, err := fix.coord.Claim("susd", seller)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	cmp, err := amount.CmpUint64(9_900)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp != 0 {
		t.Fatalf("sealed claim mismatch: %s", amount)
	}
}

func TestIdentityGate(t *testing.T) {
	fix := newCoordFixture(t, Options{})
	fix.coord.SetIdentityRegistry(denyAll{})
	esc := fix.createEscrow(t)
	if _, err := fix.coord.RaiseDispute(esc.ID, buyer, arbitration.CommitSeed(testSeed)); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestDisputeRateLimit(t *testing.T) {
	fix := newCoordFixture(t, Options{DisputesPerMinute: 1})
	first := fix.createEscrow(t)
	second := fix.createEscrow(t)

	if _, err := fix.coord.RaiseDispute(first.ID, buyer, arbitration.CommitSeed(testSeed)); err != nil {
		t.Fatalf("first raise: %v", err)
	}
	if _, err := fix.coord.RaiseDispute(second.ID, buyer, arbitration.CommitSeed(testSeed)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// A different caller has its own budget.
	if _, err := fix.coord.RaiseDispute(second.ID, seller, arbitration.CommitSeed(testSeed)); err != nil {
		t.Fatalf("seller raise: %v", err)
	}
}

func TestDisputeQuota(t *testing.T) {
	fix := newCoordFixture(t, Options{
		DisputeQuota: common.Quota{MaxDisputesPerEpoch: 1, EpochSeconds: 3_600},
	})
	first := fix.createEscrow(t)
	second := fix.createEscrow(t)
	third := fix.createEscrow(t)

	if _, err := fix.coord.RaiseDispute(first.ID, buyer, arbitration.CommitSeed(testSeed)); err != nil {
		t.Fatalf("first raise: %v", err)
	}
	if _, err := fix.coord.RaiseDispute(second.ID, buyer, arbitration.CommitSeed(testSeed)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// The counter resets at the next epoch.
	fix.advance(3_600)
	if _, err := fix.coord.RaiseDispute(third.ID, buyer, arbitration.CommitSeed(testSeed)); err != nil {
		t.Fatalf("raise after epoch roll: %v", err)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	fix := newCoordFixture(t, Options{})
	esc := fix.createEscrow(t)
	if _, err := fix.coord.ReleaseFunds(esc.ID, buyer); err != nil {
		t.Fatalf("release: %v", err)
	}

	pause := &pauseSwitch{paused: true}
	fix.coord.SetPauses(pause)
	if _, err := fix.coord.CreateEscrow(buyer, seller, testAsset, ledger.PlainFromUint64(10_000), 7_200); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := fix.coord.RaiseDispute(esc.ID, buyer, arbitration.CommitSeed(testSeed)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	// The pull path stays open under a pause.
	if got := fix.claimed(t, seller); got != 9_900 {
		t.Fatalf("claim under pause: want 9900, got %d", got)
	}

	pause.paused = false
	if _, err := fix.coord.CreateEscrow(buyer, seller, testAsset, ledger.PlainFromUint64(10_000), 7_200); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}
