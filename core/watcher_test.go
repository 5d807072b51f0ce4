package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatcher_Add(t *testing.T) {
	watcher := NewWatcher()

	watcher.Add(newFakeObserver())
	require.Equal(t, 1, watcher.Len())

	obs := newFakeObserver()
	watcher.Add(obs)
	require.Equal(t, 2, watcher.Len())

	watcher.Add(obs)
	require.Equal(t, 2, watcher.Len())
}

func TestWatcher_Remove(t *testing.T) {
	watcher := NewWatcher()
	watcher.observers[newFakeObserver()] = struct{}{}

	obs := newFakeObserver()
	watcher.observers[obs] = struct{}{}
	require.Len(t, watcher.observers, 2)

	watcher.Remove(obs)
	require.Len(t, watcher.observers, 1)

	watcher.Remove(obs)
	require.Len(t, watcher.observers, 1)
}

func TestWatcher_Notify(t *testing.T) {
	watcher := NewWatcher()

	obs := newFakeObserver()
	watcher.observers[obs] = struct{}{}

	watcher.Notify("append")
	require.Equal(t, "append", <-obs.ch)
}

func TestWatcher_NotifySelfRemoval(t *testing.T) {
	watcher := NewWatcher()

	calls := 0

	var obs *ObserverFunc
	obs = NewObserverFunc(func(event interface{}) {
		calls++
		watcher.Remove(obs)
	})

	watcher.Add(obs)

	watcher.Notify(struct{}{})
	watcher.Notify(struct{}{})

	require.Equal(t, 1, calls)
	require.Equal(t, 0, watcher.Len())
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeObserver struct {
	ch chan interface{}
}

func (o fakeObserver) NotifyCallback(evt interface{}) {
	o.ch <- evt
}

func newFakeObserver() fakeObserver {
	return fakeObserver{
		ch: make(chan interface{}, 1),
	}
}
