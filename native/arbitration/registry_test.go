package arbitration

import (
	"errors"
	"math/big"
	"testing"

	"omnisettle/native/ledger"
)

func testAddr(fill byte) ledger.Address {
	var a ledger.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func stake(v int64) *big.Int { return big.NewInt(v) }

func newTestRegistry(t *testing.T, members int) *Registry {
	t.Helper()
	reg := NewRegistry(64, stake(100))
	for i := 0; i < members; i++ {
		if err := reg.Register(testAddr(byte(i+1)), stake(100)); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	return reg
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry(2, stake(100))
	alice := testAddr(0x01)
	if err := reg.Register(alice, stake(100)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(alice, stake(100)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if err := reg.Register(testAddr(0x02), stake(99)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if err := reg.Register(testAddr(0x02), stake(100)); err != nil {
		t.Fatalf("register second: %v", err)
	}
	if err := reg.Register(testAddr(0x03), stake(100)); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
}

func TestDeregisterSwapTruncate(t *testing.T) {
	reg := newTestRegistry(t, 3)
	if err := reg.Deregister(testAddr(0x02)); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, ok := reg.Get(testAddr(0x02)); ok {
		t.Fatalf("deregistered arbitrator still present")
	}
	// Survivors stay addressable after the arena swap.
	for _, fill := range []byte{0x01, 0x03} {
		rec, ok := reg.Get(testAddr(fill))
		if !ok {
			t.Fatalf("arbitrator %#x lost after swap", fill)
		}
		if rec.Address != testAddr(fill) {
			t.Fatalf("index points at wrong record: %x", rec.Address)
		}
	}
	if got := reg.ActiveCount(); got != 2 {
		t.Fatalf("want 2 active, got %d", got)
	}
	if err := reg.Deregister(testAddr(0x02)); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestAssignmentsBlockExit(t *testing.T) {
	reg := newTestRegistry(t, 3)
	panel, err := reg.SelectPanel([32]byte{0xAA}, nil, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	member := panel[0]
	if err := reg.Deregister(member); !errors.Is(err, ErrStakeLocked) {
		t.Fatalf("expected ErrStakeLocked on deregister, got %v", err)
	}
	if err := reg.WithdrawStake(member, stake(100)); !errors.Is(err, ErrStakeLocked) {
		t.Fatalf("expected ErrStakeLocked on withdraw, got %v", err)
	}
	reg.ReleaseAssignments(panel)
	if err := reg.Deregister(member); err != nil {
		t.Fatalf("deregister after release: %v", err)
	}
}

func TestWithdrawStakeRules(t *testing.T) {
	reg := NewRegistry(8, stake(100))
	alice := testAddr(0x01)
	if err := reg.Register(alice, stake(150)); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Partial withdrawal may not drop below the minimum.
	if err := reg.WithdrawStake(alice, stake(60)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if err := reg.WithdrawStake(alice, stake(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// Full exit empties the stake and deactivates the record.
	if err := reg.WithdrawStake(alice, stake(100)); err != nil {
		t.Fatalf("full withdraw: %v", err)
	}
	rec, ok := reg.Get(alice)
	if !ok {
		t.Fatalf("record gone after full withdraw")
	}
	if rec.Active || rec.Stake.Sign() != 0 {
		t.Fatalf("expected inactive zero-stake record, got active=%v stake=%s", rec.Active, rec.Stake)
	}
	if err := reg.SetActive(alice, true); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake on reactivate, got %v", err)
	}
	if err := reg.TopUpStake(alice, stake(100)); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if err := reg.SetActive(alice, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
}

func TestSelectPanelDeterministic(t *testing.T) {
	seed := [32]byte{0x42}
	first := newTestRegistry(t, 7)
	second := newTestRegistry(t, 7)

	a, err := first.SelectPanel(seed, nil, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	b, err := second.SelectPanel(seed, nil, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("unexpected panel sizes: %d, %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different panels: %x vs %x", a, b)
		}
	}
}

func TestSelectPanelExclusionAndInventory(t *testing.T) {
	reg := newTestRegistry(t, 5)
	excluded := []ledger.Address{testAddr(0x01), testAddr(0x02)}
	panel, err := reg.SelectPanel([32]byte{0x01}, excluded, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	seen := make(map[ledger.Address]bool)
	for _, member := range panel {
		if seen[member] {
			t.Fatalf("duplicate panel member %x", member)
		}
		seen[member] = true
		for _, skip := range excluded {
			if member == skip {
				t.Fatalf("excluded address %x drafted", skip)
			}
		}
		rec, ok := reg.Get(member)
		if !ok || rec.AssignedDisputes != 1 {
			t.Fatalf("assignment not recorded for %x", member)
		}
	}

	// Excluding one more leaves only two candidates for a panel of three.
	_, err = reg.SelectPanel([32]byte{0x01}, append(excluded, testAddr(0x03)), 3)
	if !errors.Is(err, ErrArbitratorUnavailable) {
		t.Fatalf("expected ErrArbitratorUnavailable, got %v", err)
	}
}

func TestSelectPanelSkipsInactive(t *testing.T) {
	reg := newTestRegistry(t, 4)
	benched := testAddr(0x04)
	if err := reg.SetActive(benched, false); err != nil {
		t.Fatalf("bench: %v", err)
	}
	panel, err := reg.SelectPanel([32]byte{0x05}, nil, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for _, member := range panel {
		if member == benched {
			t.Fatalf("inactive arbitrator drafted")
		}
	}
}
