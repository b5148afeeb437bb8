package events

// Event represents a structured state change emitted by the settlement core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers, hosts).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Payload is the canonical key/value event representation shared by every
// engine in the module. The attribute map holds stringified fields only so
// payloads stay cheap to log and index.
type Payload struct {
	Type       string
	Attributes map[string]string
}

// EventType implements the Event interface.
func (p *Payload) EventType() string {
	if p == nil {
		return ""
	}
	return p.Type
}
