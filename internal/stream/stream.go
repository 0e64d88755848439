// Package stream carries workflow events from a running task to a consumer,
// typically the serve mode's SSE or WebSocket writer. Events are typed by
// name with free-form payloads; a nil *Event on the bus marks end-of-stream.
package stream

import (
	"context"
	"sync"
)

// DefaultBusSize is the event buffer used when no size is given.
const DefaultBusSize = 256

// Event is one streaming update. Data keys are part of the wire protocol.
type Event struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Bus is a buffered single-consumer event channel. Producers publish with a
// context so a gone consumer cannot wedge a running task.
type Bus struct {
	ch      chan *Event
	endOnce sync.Once
}

// NewBus returns a bus with the given buffer size; size <= 0 uses
// DefaultBusSize.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBusSize
	}
	return &Bus{ch: make(chan *Event, size)}
}

// Publish places an event on the bus, blocking until there is room or the
// context ends.
func (b *Bus) Publish(ctx context.Context, e *Event) error {
	select {
	case b.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End publishes the nil end-of-stream sentinel. Subsequent calls are no-ops.
func (b *Bus) End(ctx context.Context) {
	b.endOnce.Do(func() {
		select {
		case b.ch <- nil:
		case <-ctx.Done():
		}
	})
}

// Events returns the consumer side of the bus. Consumers read until they
// receive nil.
func (b *Bus) Events() <-chan *Event {
	return b.ch
}
