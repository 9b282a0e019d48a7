package event

import (
	"sync"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

// EventHandler handles domain events
type EventHandler interface {
	// Handle processes the event
	Handle(event DomainEvent) error
	// HandledEvents returns the event names this handler handles
	HandledEvents() []string
}

// EventDispatcher dispatches domain events to registered handlers
type EventDispatcher interface {
	// Dispatch sends an event to all registered handlers
	Dispatch(event DomainEvent)
	// Subscribe registers a handler and returns a function that removes it
	Subscribe(handler EventHandler) (unsubscribe func())
}

// HandlerFunc adapts a function into a wildcard EventHandler.
type HandlerFunc func(event DomainEvent) error

// Handle calls f(event)
func (f HandlerFunc) Handle(event DomainEvent) error { return f(event) }

// HandledEvents subscribes the function to every event
func (f HandlerFunc) HandledEvents() []string { return []string{Wildcard} }

type subscription struct {
	id      uint64
	handler EventHandler
}

// InMemoryDispatcher delivers events to subscribers in subscription order.
// An async dispatcher runs each delivery on its own goroutine so slow
// handlers never hold up segment workers; Wait drains them.
type InMemoryDispatcher struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[string][]subscription
	async   bool
	pending sync.WaitGroup
}

// NewInMemoryDispatcher creates a new InMemoryDispatcher
func NewInMemoryDispatcher(async bool) *InMemoryDispatcher {
	return &InMemoryDispatcher{
		subs:  make(map[string][]subscription),
		async: async,
	}
}

// Dispatch sends an event to the handlers of its name, then to wildcard
// handlers. Handler errors are dropped.
func (d *InMemoryDispatcher) Dispatch(event DomainEvent) {
	d.mu.RLock()
	named := d.subs[event.EventName()]
	all := d.subs[Wildcard]
	targets := make([]EventHandler, 0, len(named)+len(all))
	for _, s := range named {
		targets = append(targets, s.handler)
	}
	for _, s := range all {
		targets = append(targets, s.handler)
	}
	d.mu.RUnlock()

	for _, h := range targets {
		if !d.async {
			_ = h.Handle(event)
			continue
		}
		d.pending.Add(1)
		go func(h EventHandler) {
			defer d.pending.Done()
			_ = h.Handle(event)
		}(h)
	}
}

// Wait blocks until every asynchronously dispatched handler has returned.
func (d *InMemoryDispatcher) Wait() {
	d.pending.Wait()
}

// Subscribe registers handler for each name it handles. The returned
// function removes exactly this registration and is safe to call twice.
func (d *InMemoryDispatcher) Subscribe(handler EventHandler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	names := handler.HandledEvents()
	for _, name := range names {
		d.subs[name] = append(d.subs[name], subscription{id: id, handler: handler})
	}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for _, name := range names {
				subs := d.subs[name]
				for i, s := range subs {
					if s.id == id {
						d.subs[name] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
		})
	}
}

// NullDispatcher is a no-op dispatcher for when events are not needed
type NullDispatcher struct{}

// NewNullDispatcher creates a new NullDispatcher
func NewNullDispatcher() *NullDispatcher {
	return &NullDispatcher{}
}

// Dispatch does nothing
func (d *NullDispatcher) Dispatch(event DomainEvent) {}

// Subscribe does nothing
func (d *NullDispatcher) Subscribe(handler EventHandler) func() { return func() {} }
