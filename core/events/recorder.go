package events

import "sync"

// Recorder is an Emitter that retains every emitted event in order. The
// coordinator uses it as its operation log and tests use it to assert on
// emission sequences.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a snapshot of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
