// Package core implements the event plumbing shared by the log packages.
//
// A log notifies its observers synchronously, in the goroutine that performed
// the state change, once the change is durable. Observers must therefore
// return quickly and never call back into a blocking operation of the log.
package core

import "sync"

// Observer is the interface to implement to watch events.
type Observer interface {
	NotifyCallback(event interface{})
}

// Observable provides primitives to add and remove observers and to notify
// them of new events.
type Observable interface {
	// Add adds the observer to the list of observers that will be notified of
	// new events.
	Add(observer Observer)

	// Remove removes the observer from the list thus stopping it from receiving
	// new events.
	Remove(observer Observer)

	// Notify notifies the observers of a new event.
	Notify(event interface{})
}

// ObserverFunc wraps a function into an observer. Use a pointer so that the
// observer can be removed later on.
//
// - implements core.Observer
type ObserverFunc func(event interface{})

// NotifyCallback implements core.Observer. It calls the function.
func (fn *ObserverFunc) NotifyCallback(event interface{}) {
	(*fn)(event)
}

// NewObserverFunc returns an observer calling fn for each event.
func NewObserverFunc(fn func(event interface{})) *ObserverFunc {
	obs := ObserverFunc(fn)
	return &obs
}

// Watcher is an implementation of the Observable interface.
//
// - implements core.Observable
type Watcher struct {
	sync.RWMutex

	observers map[Observer]struct{}
}

// NewWatcher creates a new empty watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		observers: make(map[Observer]struct{}),
	}
}

// Add implements core.Observable. Adding the same observer twice is a no-op.
func (w *Watcher) Add(observer Observer) {
	w.Lock()
	w.observers[observer] = struct{}{}
	w.Unlock()
}

// Remove implements core.Observable.
func (w *Watcher) Remove(observer Observer) {
	w.Lock()
	delete(w.observers, observer)
	w.Unlock()
}

// Len returns the number of observers currently registered.
func (w *Watcher) Len() int {
	w.RLock()
	defer w.RUnlock()

	return len(w.observers)
}

// Notify implements core.Observable. The observers are copied before being
// called so that a callback is allowed to remove itself.
func (w *Watcher) Notify(event interface{}) {
	w.RLock()
	observers := make([]Observer, 0, len(w.observers))
	for obs := range w.observers {
		observers = append(observers, obs)
	}
	w.RUnlock()

	for _, obs := range observers {
		obs.NotifyCallback(event)
	}
}
