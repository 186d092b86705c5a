package manager

import "sync"

// EventKind identifies what changed about a device.
type EventKind int

const (
	// DeviceAdded fires the first time a device id is seen, whether
	// freshly discovered or reloaded from the persisted index.
	DeviceAdded EventKind = iota
	// DeviceUpdated fires when an already-known device gains a new
	// channel or a paired device loses its channel. Pair-state changes
	// do not publish an event.
	DeviceUpdated
	// DeviceRemoved fires when an unpaired device's channel closes.
	DeviceRemoved
)

func (k EventKind) String() string {
	switch k {
	case DeviceAdded:
		return "added"
	case DeviceUpdated:
		return "updated"
	case DeviceRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes a change to the observable device list, delivered to
// every subscriber registered via Manager.Subscribe.
type Event struct {
	Kind     EventKind
	DeviceID string
}

// subscriberBufferSize bounds how far a slow subscriber can fall behind
// before its events are dropped rather than blocking the manager.
const subscriberBufferSize = 32

// broadcaster fans an Event out to every subscribed channel, matching the
// teacher's websocket hub's subscriber-list broadcast shape but over Go
// channels instead of client sockets.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

// subscribe registers a new subscriber channel. The caller must call the
// returned unsubscribe function when done listening.
func (b *broadcaster) subscribe() (ch chan Event, unsubscribe func()) {
	ch = make(chan Event, subscriberBufferSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// publish fans ev out to every subscriber. A subscriber whose buffer is
// full has the event dropped rather than blocking the publisher.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
