package registry

// ID identifies a registry entry. ID 0 is reserved and always invalid.
type ID uint64

// EventType distinguishes registry lifecycle events.
type EventType uint8

const (
	EventInserted EventType = iota
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventInserted:
		return "inserted"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event represents a registry lifecycle event.
type Event struct {
	Value    any
	Registry string
	ID       ID
	Type     EventType
}

// Observer receives notifications about registry lifecycle events.
type Observer interface {
	OnRegistryEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnRegistryEvent calls f(e).
func (f ObserverFunc) OnRegistryEvent(e Event) {
	f(e)
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Live     int
	Inserted uint64
	Removed  uint64
}

// Source is anything that reports registry stats under a name.
type Source interface {
	Name() string
	Stats() Stats
}
