package core

import (
	"context"
	"sync/atomic"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	// StateAdmitted: authenticated and registered, not yet served.
	StateAdmitted ConnState = iota
	// StateActive: Serve is dispatching its commands.
	StateActive
	// StateDismissed: removed from every index; terminal.
	StateDismissed
)

func (s ConnState) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// Conn is one live transport connection as seen by the core layer.
// The transport feeds Commands through Submit and drains Events.
type Conn struct {
	ID     string
	UserID string

	commands chan *Command
	events   chan *Event
	done     chan struct{}
	state    atomic.Int32
}

func newConn(id, userID string, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Conn{
		ID:       id,
		UserID:   userID,
		commands: make(chan *Command, 8),
		events:   make(chan *Event, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Events is the bounded outbound queue of the connection.
func (c *Conn) Events() <-chan *Event {
	return c.events
}

// Done is closed once the connection is dismissed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Submit hands an inbound command to the connection's serving task.
// It blocks while the command queue is full.
func (c *Conn) Submit(ctx context.Context, cmd *Command) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.commands <- cmd:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send enqueues an event for this connection only.
func (c *Conn) Send(ev *Event) bool {
	return c.enqueue(ev)
}

func (c *Conn) activate() bool {
	return c.state.CompareAndSwap(int32(StateAdmitted), int32(StateActive))
}

// dismiss moves the connection to its terminal state. Only the first call returns true.
func (c *Conn) dismiss() bool {
	prev := ConnState(c.state.Swap(int32(StateDismissed)))
	if prev == StateDismissed {
		return false
	}
	close(c.done)
	return true
}

// enqueue never blocks: a full queue or a dismissed connection drops the event.
func (c *Conn) enqueue(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}
