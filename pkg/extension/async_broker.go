package extension

import (
	"errors"
	"time"
)

// AsyncEventBroker maintains a list of listeners interested in a specific type of event.  Events
// are sent in parallel to all listeners, and no result is returned.
type AsyncEventBroker[E any] struct {
	l listeners[func(E)]
}

// Emit sends the provided event to each registered listener in parallel.
func (eb *AsyncEventBroker[E]) Emit(event *E) {
	eb.l.RLock()
	defer eb.l.RUnlock()

	for _, f := range eb.l.funcs {
		// Events are copied to minimize the risk of mutation.
		go f(*event)
	}
}

// AddListener registers the named listener, replacing one with a duplicate name if present.
func (eb *AsyncEventBroker[E]) AddListener(name string, listener func(E)) {
	eb.l.add(name, listener)
}

// RemoveListener unregisters the named listener.
func (eb *AsyncEventBroker[E]) RemoveListener(name string) {
	eb.l.remove(name)
}

// AsyncTestListener returns a func that will wait for an event and return it, or timeout with an
// error.
func (eb *AsyncEventBroker[E]) AsyncTestListener(name string, capacity int) func() (*E, error) {
	events := make(chan E, capacity)
	eb.AddListener(name, func(msg E) {
		events <- msg
	})

	count := 0
	return func() (*E, error) {
		count++
		defer func() {
			if count >= capacity {
				eb.RemoveListener(name)
			}
		}()

		select {
		case event := <-events:
			return &event, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("timeout waiting for event")
		}
	}
}
