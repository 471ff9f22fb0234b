// Package transport moves opaque batches between peers. Network goroutines
// only ever push events into a queue; the owner drains it once per frame with
// Poll, so handlers always run on the caller's goroutine.
package transport

import (
	"fmt"
	"sync"
)

type Channel uint8

const (
	Channel_Reliable Channel = iota
	Channel_Unreliable

	Channel_Count
)

func (c Channel) String() string {
	switch c {
	case Channel_Reliable:
		return "Reliable"
	case Channel_Unreliable:
		return "Unreliable"
	}
	return fmt.Sprintf("Channel(%d)", uint8(c))
}

type Handlers struct {
	OnConnected    func(connId uint32)
	OnDataReceived func(connId uint32, data []byte, channel Channel)
	OnDisconnected func(connId uint32)
}

type Transport interface {
	// Send queues data for connId. data is copied before Send returns.
	Send(connId uint32, data []byte, channel Channel) error
	Disconnect(connId uint32) error
	// Poll runs handlers for every event received since the last call and
	// returns how many were handled.
	Poll(handlers Handlers) int
	// MaxMessageSize is the largest batch Send accepts on channel.
	MaxMessageSize(channel Channel) int
	Stop()
}

type EventKind uint8

const (
	EventKind_Connected EventKind = iota
	EventKind_Data
	EventKind_Disconnected
)

type Event struct {
	Kind    EventKind
	ConnId  uint32
	Data    []byte
	Channel Channel
}

// EventQueue is a mutex guarded FIFO handing events from network goroutines
// to the main loop.
type EventQueue struct {
	mut_events sync.Mutex
	events     []Event
	spare      []Event
}

func CreateEventQueue() *EventQueue {
	return &EventQueue{
		mut_events: sync.Mutex{},
		events:     []Event{},
		spare:      []Event{},
	}
}

func (q *EventQueue) Push(e Event) {
	q.mut_events.Lock()
	defer q.mut_events.Unlock()
	q.events = append(q.events, e)
}

func (q *EventQueue) Len() int {
	q.mut_events.Lock()
	defer q.mut_events.Unlock()
	return len(q.events)
}

// Drain hands every queued event to fn, in order, outside the lock. Events
// pushed while draining are left for the next call.
func (q *EventQueue) Drain(fn func(Event)) int {
	q.mut_events.Lock()
	events := q.events
	q.events = q.spare[:0]
	q.mut_events.Unlock()

	for _, e := range events {
		fn(e)
	}

	clear(events)
	q.mut_events.Lock()
	q.spare = events[:0]
	q.mut_events.Unlock()

	return len(events)
}

// Dispatch runs the matching handler for e. Nil handlers are skipped.
func Dispatch(e Event, handlers Handlers) {
	switch e.Kind {
	case EventKind_Connected:
		if handlers.OnConnected != nil {
			handlers.OnConnected(e.ConnId)
		}
	case EventKind_Data:
		if handlers.OnDataReceived != nil {
			handlers.OnDataReceived(e.ConnId, e.Data, e.Channel)
		}
	case EventKind_Disconnected:
		if handlers.OnDisconnected != nil {
			handlers.OnDisconnected(e.ConnId)
		}
	}
}

type UnknownConnection struct {
	ConnId uint32
}

func (e *UnknownConnection) Error() string {
	return fmt.Sprintf("No open connection with id=%d", e.ConnId)
}

type TransportStopped struct{}

func (e *TransportStopped) Error() string {
	return "Transport is stopped"
}
