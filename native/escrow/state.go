package escrow

import (
	"fmt"
	"sync"
)

// MemoryState is the in-process escrow store. Identifiers are assigned from a
// monotonic counter and records are cloned on both reads and writes so engine
// mutations never alias stored state.
type MemoryState struct {
	mu      sync.Mutex
	escrows map[EscrowID]*Escrow
	nextID  EscrowID
}

// NewMemoryState returns an empty escrow store.
func NewMemoryState() *MemoryState {
	return &MemoryState{escrows: make(map[EscrowID]*Escrow)}
}

// EscrowPut validates and stores the escrow.
func (m *MemoryState) EscrowPut(e *Escrow) error {
	if e == nil {
		return fmt.Errorf("escrow: nil escrow")
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrows[sanitized.ID] = sanitized
	return nil
}

// EscrowGet returns a clone of the stored escrow.
func (m *MemoryState) EscrowGet(id EscrowID) (*Escrow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

// NextEscrowID hands out the next identifier in the monotonic sequence,
// starting at 1.
func (m *MemoryState) NextEscrowID() (EscrowID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID, nil
}
