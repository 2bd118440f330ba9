package sdk

import "sync"

// Subscription is the handle returned by every AddXxxListener method.
// Closing it unregisters the listener; Close is idempotent. Holding the
// registration in an explicit handle avoids leaked closures and makes
// removal safe while other goroutines are notifying.
//
// Example:
//
//	sub := client.AddFlagListener("hero_text", func(key string, e sdk.ConfigEntry) {
//	    render(e)
//	})
//	defer sub.Close()
type Subscription interface {
	// Close unregisters the listener.
	Close()
}

// subscription is the default Subscription implementation
type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Close() {
	s.once.Do(s.remove)
}

// listenerRegistry holds a set of listeners of one type. Notification
// iterates over a snapshot so listeners can unregister (or register new
// listeners) from inside a callback without deadlocking.
type listenerRegistry[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]T
}

func newListenerRegistry[T any]() *listenerRegistry[T] {
	return &listenerRegistry[T]{listeners: make(map[int]T)}
}

// add registers a listener and returns its removal handle.
func (r *listenerRegistry[T]) add(listener T) Subscription {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = listener
	r.mu.Unlock()

	return &subscription{remove: func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}}
}

// snapshot returns a copy of the registered listeners for iteration
// outside the lock.
func (r *listenerRegistry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	return out
}
