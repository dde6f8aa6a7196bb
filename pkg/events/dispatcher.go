package events

import (
	"sync"
)

// Handler receives events synchronously on the triggering goroutine.
type Handler func(Event)

type Logger interface {
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{}) {}

type subscription struct {
	id uint64
	h  Handler
}

// Dispatcher fans events out to wildcard handlers first and then to the
// handlers of the event's kind, each group in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	seq      uint64
	wildcard []subscription
	byKind   map[Kind][]subscription
	log      Logger
}

func NewDispatcher(log Logger) *Dispatcher {
	if log == nil {
		log = nopLogger{}
	}
	return &Dispatcher{byKind: map[Kind][]subscription{}, log: log}
}

// Subscribe registers h for one event kind and returns a function that
// removes it again.
func (d *Dispatcher) Subscribe(k Kind, h Handler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := d.seq
	d.byKind[k] = append(d.byKind[k], subscription{id: id, h: h})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.byKind[k] = remove(d.byKind[k], id)
	}
}

// SubscribeAll registers h for every event.
func (d *Dispatcher) SubscribeAll(h Handler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := d.seq
	d.wildcard = append(d.wildcard, subscription{id: id, h: h})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.wildcard = remove(d.wildcard, id)
	}
}

func remove(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Trigger delivers e. A panicking handler is logged and skipped; the
// remaining handlers still run.
func (d *Dispatcher) Trigger(e Event) {
	if d == nil || e == nil {
		return
	}
	d.mu.RLock()
	subs := make([]subscription, 0, len(d.wildcard)+len(d.byKind[e.Kind()]))
	subs = append(subs, d.wildcard...)
	subs = append(subs, d.byKind[e.Kind()]...)
	d.mu.RUnlock()

	for _, s := range subs {
		d.call(s.h, e)
	}
}

func (d *Dispatcher) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("event handler for %s panicked: %v", e.Kind(), r)
		}
	}()
	h(e)
}
