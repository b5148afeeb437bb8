package arbitration

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"omnisettle/native/ledger"
)

var (
	ErrRegistryFull          = errors.New("arbitration: registry full")
	ErrAlreadyRegistered     = errors.New("arbitration: arbitrator already registered")
	ErrNotRegistered         = errors.New("arbitration: arbitrator not registered")
	ErrInsufficientStake     = errors.New("arbitration: stake below minimum")
	ErrStakeLocked           = errors.New("arbitration: arbitrator assigned to open disputes")
	ErrArbitratorUnavailable = errors.New("arbitration: not enough active arbitrators")
)

// Record holds the registry entry for one arbitrator. AssignedDisputes counts
// the open panels the arbitrator sits on; any non-zero count blocks stake
// withdrawal and deregistration.
type Record struct {
	Address          ledger.Address
	Stake            *big.Int
	Active           bool
	AssignedDisputes uint32
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Stake != nil {
		clone.Stake = new(big.Int).Set(r.Stake)
	} else {
		clone.Stake = big.NewInt(0)
	}
	return &clone
}

// Registry maintains the bounded set of eligible arbitrators. Records live in
// a single arena slice with an address index map kept in lockstep; removal is
// swap-with-last-and-truncate so panel selection never iterates an unbounded
// or holey structure.
type Registry struct {
	mu       sync.Mutex
	arena    []*Record
	index    map[ledger.Address]int
	maxSize  int
	minStake *big.Int
}

// NewRegistry creates a registry bounded to maxSize members with the supplied
// minimum stake. A nil minimum means no floor.
func NewRegistry(maxSize int, minStake *big.Int) *Registry {
	floor := big.NewInt(0)
	if minStake != nil {
		floor = new(big.Int).Set(minStake)
	}
	return &Registry{
		index:    make(map[ledger.Address]int),
		maxSize:  maxSize,
		minStake: floor,
	}
}

// Register adds a new active arbitrator with the supplied stake.
func (r *Registry) Register(addr ledger.Address, stake *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[addr]; ok {
		return ErrAlreadyRegistered
	}
	if r.maxSize > 0 && len(r.arena) >= r.maxSize {
		return ErrRegistryFull
	}
	if stake == nil || stake.Sign() <= 0 || stake.Cmp(r.minStake) < 0 {
		return ErrInsufficientStake
	}
	rec := &Record{Address: addr, Stake: new(big.Int).Set(stake), Active: true}
	r.index[addr] = len(r.arena)
	r.arena = append(r.arena, rec)
	return nil
}

// Deregister removes an arbitrator with no open panel assignments. The arena
// slot is swapped with the last entry and truncated, and the index map is
// updated in the same critical section.
func (r *Registry) Deregister(addr ledger.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.index[addr]
	if !ok {
		return ErrNotRegistered
	}
	if r.arena[slot].AssignedDisputes > 0 {
		return ErrStakeLocked
	}
	last := len(r.arena) - 1
	if slot != last {
		r.arena[slot] = r.arena[last]
		r.index[r.arena[slot].Address] = slot
	}
	r.arena = r.arena[:last]
	delete(r.index, addr)
	return nil
}

// TopUpStake adds to an arbitrator's stake.
func (r *Registry) TopUpStake(addr ledger.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.record(addr)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientStake
	}
	rec.Stake = new(big.Int).Add(rec.Stake, amount)
	return nil
}

// WithdrawStake removes stake from an arbitrator with no open assignments.
// The remaining stake must stay at or above the minimum; withdrawing the full
// balance deactivates the record (full exit) but keeps it registered until
// Deregister.
func (r *Registry) WithdrawStake(addr ledger.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.record(addr)
	if err != nil {
		return err
	}
	if rec.AssignedDisputes > 0 {
		return ErrStakeLocked
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(rec.Stake) > 0 {
		return ErrInsufficientStake
	}
	remaining := new(big.Int).Sub(rec.Stake, amount)
	if remaining.Sign() != 0 && remaining.Cmp(r.minStake) < 0 {
		return ErrInsufficientStake
	}
	rec.Stake = remaining
	if remaining.Sign() == 0 {
		rec.Active = false
	}
	return nil
}

// SetActive toggles an arbitrator's panel eligibility.
func (r *Registry) SetActive(addr ledger.Address, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.record(addr)
	if err != nil {
		return err
	}
	if active && rec.Stake.Cmp(r.minStake) < 0 {
		return ErrInsufficientStake
	}
	rec.Active = active
	return nil
}

// Get returns a copy of the arbitrator's record.
func (r *Registry) Get(addr ledger.Address) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.index[addr]
	if !ok {
		return nil, false
	}
	return r.arena[slot].Clone(), true
}

// ActiveCount reports the number of panel-eligible arbitrators.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.arena {
		if rec.Active {
			count++
		}
	}
	return count
}

// SelectPanel draws size distinct active arbitrators, excluding the supplied
// addresses, using a deterministic shuffle keyed by the seed. Candidates are
// ordered canonically before shuffling so the draw depends only on the seed
// and the membership set, never on registration order.
func (r *Registry) SelectPanel(seed [32]byte, exclude []ledger.Address, size int) ([]ledger.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if size <= 0 {
		return nil, ErrArbitratorUnavailable
	}
	excluded := make(map[ledger.Address]struct{}, len(exclude))
	for _, addr := range exclude {
		excluded[addr] = struct{}{}
	}
	candidates := make([]ledger.Address, 0, len(r.arena))
	for _, rec := range r.arena {
		if !rec.Active {
			continue
		}
		if _, skip := excluded[rec.Address]; skip {
			continue
		}
		candidates = append(candidates, rec.Address)
	}
	if len(candidates) < size {
		return nil, ErrArbitratorUnavailable
	}
	sort.Slice(candidates, func(i, j int) bool {
		return lessAddress(candidates[i], candidates[j])
	})
	shuffle(candidates, seed)
	panel := make([]ledger.Address, size)
	copy(panel, candidates[:size])
	for _, addr := range panel {
		r.arena[r.index[addr]].AssignedDisputes++
	}
	return panel, nil
}

// ReleaseAssignments decrements the assignment count for each panel member
// once their dispute reaches a terminal state.
func (r *Registry) ReleaseAssignments(panel []ledger.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range panel {
		slot, ok := r.index[addr]
		if !ok {
			continue
		}
		if r.arena[slot].AssignedDisputes > 0 {
			r.arena[slot].AssignedDisputes--
		}
	}
}

func (r *Registry) record(addr ledger.Address) (*Record, error) {
	slot, ok := r.index[addr]
	if !ok {
		return nil, ErrNotRegistered
	}
	return r.arena[slot], nil
}

// shuffle applies a Fisher-Yates pass driven by a keccak counter stream over
// the seed, giving a deterministic permutation per seed.
func shuffle(addrs []ledger.Address, seed [32]byte) {
	counter := uint64(0)
	for i := len(addrs) - 1; i > 0; i-- {
		digest := ethcrypto.Keccak256(seed[:], uint64Bytes(counter))
		counter++
		j := int(binary.BigEndian.Uint64(digest[:8]) % uint64(i+1))
		addrs[i], addrs[j] = addrs[j], addrs[i]
	}
}

func uint64Bytes(v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	return out
}

func lessAddress(a, b ledger.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
