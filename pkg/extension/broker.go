package extension

import (
	"sync"
)

// listeners is an ordered, named list of listener funcs.
type listeners[F any] struct {
	sync.RWMutex
	names []string
	funcs []F
}

// add registers the named listener, replacing one with a duplicate name if present.
func (l *listeners[F]) add(name string, f F) {
	l.Lock()
	defer l.Unlock()

	l.lockedRemove(name)
	l.names = append(l.names, name)
	l.funcs = append(l.funcs, f)
}

func (l *listeners[F]) remove(name string) {
	l.Lock()
	defer l.Unlock()

	l.lockedRemove(name)
}

func (l *listeners[F]) lockedRemove(name string) {
	for i, entry := range l.names {
		if entry == name {
			l.names = append(l.names[:i], l.names[i+1:]...)
			l.funcs = append(l.funcs[:i], l.funcs[i+1:]...)
			break
		}
	}
}

// EventBroker maintains a list of listeners interested in a specific type of event.  Listeners
// are called in order until one returns a non-nil result.
type EventBroker[E any, R any] struct {
	l listeners[func(E) *R]
}

// Emit sends the provided event to each registered listener in order, until one returns a non-nil
// result.  That result will be returned to the caller.
func (eb *EventBroker[E, R]) Emit(event *E) *R {
	eb.l.RLock()
	defer eb.l.RUnlock()

	for _, f := range eb.l.funcs {
		// Events are copied to minimize the risk of mutation.
		if result := f(*event); result != nil {
			return result
		}
	}

	return nil
}

// AddListener registers the named listener, replacing one with a duplicate name if present.
// Listeners should be added in order of priority, most significant first.
func (eb *EventBroker[E, R]) AddListener(name string, listener func(E) *R) {
	eb.l.add(name, listener)
}

// RemoveListener unregisters the named listener.
func (eb *EventBroker[E, R]) RemoveListener(name string) {
	eb.l.remove(name)
}
