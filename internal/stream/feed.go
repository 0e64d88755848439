package stream

import (
	"context"
	"sync"
)

// Feed records a task's event stream and replays it to any number of
// subscribers. The bus itself is single-consumer; the feed is that consumer,
// and serve mode's SSE and websocket handlers subscribe here instead. A
// subscriber always sees the stream from the beginning: recorded history
// first, then live events.
type Feed struct {
	mu     sync.Mutex
	events []*Event
	done   bool
	wakes  map[chan struct{}]struct{}
}

// NewFeed returns an empty feed. Run must be called exactly once to populate
// it.
func NewFeed() *Feed {
	return &Feed{wakes: make(map[chan struct{}]struct{})}
}

// Run drains the bus until the end-of-stream sentinel and returns. Call it
// in its own goroutine alongside the task that publishes to the bus.
func (f *Feed) Run(bus *Bus) {
	for {
		e := <-bus.Events()
		if e == nil {
			break
		}
		f.mu.Lock()
		f.events = append(f.events, e)
		f.wakeLocked()
		f.mu.Unlock()
	}
	f.mu.Lock()
	f.done = true
	f.wakeLocked()
	f.mu.Unlock()
}

// wakeLocked nudges every subscriber. The size-1 signal channels coalesce
// bursts, so a slow subscriber costs one flag, not one signal per event.
func (f *Feed) wakeLocked() {
	for ch := range f.wakes {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Done reports whether the stream has ended and the history is complete.
func (f *Feed) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Len returns the number of recorded events.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// Subscribe returns a channel that carries the full stream from the first
// event. The channel closes after the final event, or when ctx ends. Events
// are shared with other subscribers and must not be mutated.
func (f *Feed) Subscribe(ctx context.Context) <-chan *Event {
	out := make(chan *Event)
	wake := make(chan struct{}, 1)

	f.mu.Lock()
	f.wakes[wake] = struct{}{}
	f.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			f.mu.Lock()
			delete(f.wakes, wake)
			f.mu.Unlock()
		}()

		next := 0
		for {
			f.mu.Lock()
			batch := f.events[next:]
			next = len(f.events)
			done := f.done
			f.mu.Unlock()

			for _, e := range batch {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
			if done {
				return
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
