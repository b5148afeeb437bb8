package arbitration

import (
	"fmt"
	"sync"
)

// MemoryState is the in-process dispute store. It hands out deep clones on
// both reads and writes so engine mutations never alias stored records.
type MemoryState struct {
	mu       sync.Mutex
	disputes map[[32]byte]*Dispute
}

// NewMemoryState returns an empty dispute store.
func NewMemoryState() *MemoryState {
	return &MemoryState{disputes: make(map[[32]byte]*Dispute)}
}

// DisputePut validates and stores the dispute.
func (m *MemoryState) DisputePut(d *Dispute) error {
	if d == nil {
		return fmt.Errorf("arbitration: nil dispute")
	}
	sanitized, err := SanitizeDispute(d)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes[sanitized.ID] = sanitized
	return nil
}

// DisputeGet returns a clone of the stored dispute.
func (m *MemoryState) DisputeGet(id [32]byte) (*Dispute, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dispute, ok := m.disputes[id]
	if !ok {
		return nil, false
	}
	return dispute.Clone(), true
}
