package session

// Event names published by the coordinator.
const (
	EventTurnStart  = "turn_start"
	EventFragment   = "fragment"
	EventThroughput = "throughput"
	EventTurnEnd    = "turn_end"
	EventModeSwitch = "mode_switch"
)

// Event represents a session lifecycle event.
// Minimal and stable: name + turn ID and optional fields via key/values.
type Event struct {
	Name   string
	TurnID string
	Fields map[string]any
}

// EventPublisher receives events from the coordinator. Implementations should
// be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
