package blocklog

import (
	"context"
	"sync"

	"go.dedis.ch/hyperlog/core"
)

// Watch returns a channel populated with the events of the handle until the
// context is done. The events are queued for the reader so that the log never
// waits on it. Consecutive append events that are not read yet are merged
// into the latest one.
func (l *Log) Watch(ctx context.Context) <-chan Event {
	obs := newObserver()

	l.watcher.Add(obs)

	go func() {
		obs.forward(ctx)

		l.watcher.Remove(obs)
		close(obs.ch)
	}()

	return obs.ch
}

// AddObserver registers an observer of the events of the handle. The
// observer is called synchronously after each state change.
func (l *Log) AddObserver(obs core.Observer) {
	l.watcher.Add(obs)
}

// RemoveObserver removes the observer.
func (l *Log) RemoveObserver(obs core.Observer) {
	l.watcher.Remove(obs)
}

// observer queues the events and forwards them to a channel.
//
// - implements core.Observer
type observer struct {
	sync.Mutex

	queue  []Event
	signal chan struct{}
	ch     chan Event
}

func newObserver() *observer {
	return &observer{
		signal: make(chan struct{}, 1),
		ch:     make(chan Event),
	}
}

// NotifyCallback implements core.Observer. It queues the event and returns
// immediately.
func (obs *observer) NotifyCallback(event interface{}) {
	evt := event.(Event)

	obs.Lock()

	last := len(obs.queue) - 1
	if last >= 0 && evt.Type == AppendEvent && obs.queue[last].Type == AppendEvent {
		obs.queue[last] = evt
	} else {
		obs.queue = append(obs.queue, evt)
	}

	obs.Unlock()

	select {
	case obs.signal <- struct{}{}:
	default:
	}
}

// forward sends the queued events to the channel until the context is done.
func (obs *observer) forward(ctx context.Context) {
	for {
		obs.Lock()

		if len(obs.queue) == 0 {
			obs.Unlock()

			select {
			case <-obs.signal:
				continue
			case <-ctx.Done():
				return
			}
		}

		evt := obs.queue[0]
		obs.queue = obs.queue[1:]

		obs.Unlock()

		select {
		case obs.ch <- evt:
		case <-ctx.Done():
			return
		}
	}
}
