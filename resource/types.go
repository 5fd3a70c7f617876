package resource

// Handle is an opaque reference to a backend transcoder in an arena.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Rep is the environment-side address of a backend transcoder.
// Direct environments store a native pointer, isolated ones a linear memory offset.
type Rep uint64

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Rep    Rep
	Handle Handle
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) {
	f(e)
}
