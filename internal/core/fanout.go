package core

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Fanout delivers events to live connections. It owns the connection table.
type Fanout struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	registry *Registry
	rooms    *Router
	rec      Recorder
	log      *zerolog.Logger

	dropped atomic.Uint64
}

// NewFanout constructs a fanout engine over the given indexes.
func NewFanout(registry *Registry, rooms *Router, rec Recorder, logger *zerolog.Logger) *Fanout {
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Fanout{
		conns:    make(map[string]*Conn),
		registry: registry,
		rooms:    rooms,
		rec:      rec,
		log:      logger,
	}
}

func (f *Fanout) attach(c *Conn) {
	f.mu.Lock()
	f.conns[c.ID] = c
	f.mu.Unlock()
}

func (f *Fanout) detach(connID string) {
	f.mu.Lock()
	delete(f.conns, connID)
	f.mu.Unlock()
}

func (f *Fanout) conn(connID string) (*Conn, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.conns[connID]
	return c, ok
}

// Publish delivers ev to every connection joined to chatID except origin.
// Returns the number of enqueued deliveries.
func (f *Fanout) Publish(originConnID, chatID string, ev *Event) int {
	return f.deliver(f.rooms.MembersOf(chatID), originConnID, ev)
}

// PublishToUser delivers ev to every connection of userID.
func (f *Fanout) PublishToUser(userID string, ev *Event) int {
	return f.deliver(f.registry.ConnectionsOf(userID), "", ev)
}

// Broadcast delivers ev to every live connection except exceptConnID.
func (f *Fanout) Broadcast(ev *Event, exceptConnID string) int {
	f.mu.RLock()
	targets := make([]*Conn, 0, len(f.conns))
	for id, c := range f.conns {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	f.mu.RUnlock()

	return f.send(targets, ev)
}

func (f *Fanout) deliver(connIDs []string, exceptConnID string, ev *Event) int {
	if len(connIDs) == 0 {
		return 0
	}
	targets := make([]*Conn, 0, len(connIDs))
	f.mu.RLock()
	for _, id := range connIDs {
		if id == exceptConnID {
			continue
		}
		if c, ok := f.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	f.mu.RUnlock()

	return f.send(targets, ev)
}

func (f *Fanout) send(targets []*Conn, ev *Event) int {
	kind := ev.Kind.String()
	delivered := 0
	for _, c := range targets {
		if c.enqueue(ev) {
			delivered++
			continue
		}
		// Drop if slow consumer.
		f.dropped.Add(1)
		f.rec.DeliveryDropped(kind)
		f.log.Debug().
			Str("conn_id", c.ID).
			Str("user_id", c.UserID).
			Str("event", kind).
			Msg("delivery dropped")
	}
	if delivered > 0 {
		f.rec.EventsDelivered(kind, delivered)
	}
	return delivered
}

// Dropped returns the number of deliveries skipped so far.
func (f *Fanout) Dropped() uint64 {
	return f.dropped.Load()
}

// Len returns the number of connections reachable for delivery.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.conns)
}
