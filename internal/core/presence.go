package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

type statusWrite struct {
	userID string
	status store.OnlineStatus
	at     time.Time
}

// Presence turns registry occupancy changes into online/offline transitions.
//
// mu serializes every connect and disconnect, so the snapshot a new connection
// receives and the deltas that follow it are consistent, and an offline delta
// cannot overtake the online delta of a reconnect. Persistence runs on a single
// background writer in transition order and never rolls back in-memory state.
type Presence struct {
	mu sync.Mutex

	registry *Registry
	fanout   *Fanout
	dir      Directory
	auditor  Auditor
	rec      Recorder
	log      *zerolog.Logger

	writes  chan statusWrite
	retries int
	backoff time.Duration
	now     func() time.Time
}

// PresenceConfig tunes the status writer.
type PresenceConfig struct {
	QueueSize    int
	WriteRetries int
	RetryBackoff time.Duration
}

// NewPresence constructs a tracker. Call Run to start persisting transitions.
func NewPresence(registry *Registry, fanout *Fanout, dir Directory, auditor Auditor, rec Recorder, cfg PresenceConfig, logger *zerolog.Logger) *Presence {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Presence{
		registry: registry,
		fanout:   fanout,
		dir:      dir,
		auditor:  auditor,
		rec:      rec,
		log:      logger,
		writes:   make(chan statusWrite, cfg.QueueSize),
		retries:  cfg.WriteRetries,
		backoff:  cfg.RetryBackoff,
		now:      time.Now,
	}
}

// SnapshotOnlineUsers returns online users other than exclude.
func (p *Presence) SnapshotOnlineUsers(exclude string) []string {
	all := p.registry.AllOnlineUsers()
	out := make([]string, 0, len(all))
	for _, id := range all {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// connect makes c reachable and registers it. The connection receives its
// session and snapshot events before any delta published after it.
func (p *Presence) connect(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.enqueue(&Event{Kind: EventSessionReady, ConnID: c.ID, UserID: c.UserID})
	c.enqueue(&Event{Kind: EventUsersOnline, UserIDs: p.SnapshotOnlineUsers(c.UserID)})

	p.fanout.attach(c)
	if p.registry.Add(c.UserID, c.ID) {
		p.OnFirstConnection(c.UserID, c.ID)
	}
}

// disconnect makes c unreachable and deregisters it.
func (p *Presence) disconnect(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fanout.detach(c.ID)
	if p.registry.Remove(c.UserID, c.ID) {
		p.OnLastDisconnection(c.UserID)
	}
}

// OnFirstConnection persists the online status and tells every other connection.
func (p *Presence) OnFirstConnection(userID, exceptConnID string) {
	p.transition(userID, store.StatusOnline)
	p.fanout.Broadcast(&Event{Kind: EventUserOnline, UserID: userID}, exceptConnID)
}

// OnLastDisconnection persists the offline status and tells every connection.
func (p *Presence) OnLastDisconnection(userID string) {
	p.transition(userID, store.StatusOffline)
	p.fanout.Broadcast(&Event{Kind: EventUserOffline, UserID: userID}, "")
}

func (p *Presence) transition(userID string, status store.OnlineStatus) {
	p.rec.PresenceChanged(string(status))
	p.log.Debug().Str("user_id", userID).Str("status", string(status)).Msg("presence changed")

	w := statusWrite{userID: userID, status: status, at: p.now().UTC()}
	select {
	case p.writes <- w:
	default:
		p.rec.PresenceWriteFailed()
		p.log.Warn().Str("user_id", userID).Str("status", string(status)).Msg("presence write queue full, dropping")
	}
}

// Run persists queued transitions until ctx ends, then flushes what is left.
func (p *Presence) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case w := <-p.writes:
			p.persist(ctx, w)
		}
	}
}

func (p *Presence) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case w := <-p.writes:
			p.persist(ctx, w)
		default:
			return
		}
	}
}

func (p *Presence) persist(ctx context.Context, w statusWrite) {
	if p.dir == nil {
		return
	}
	backoff := p.backoff
	var err error
retry:
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				break retry
			case <-timer.C:
			}
			backoff *= 2
		}
		if err = p.dir.SetOnlineStatus(ctx, w.userID, w.status, w.at); err == nil {
			p.audit(ctx, w)
			return
		}
		p.log.Warn().Err(err).
			Str("user_id", w.userID).
			Int("attempt", attempt+1).
			Msg("presence write failed")
	}

	p.rec.PresenceWriteFailed()
	p.log.Error().Err(err).
		Str("user_id", w.userID).
		Str("status", string(w.status)).
		Msg("presence write abandoned")
}

func (p *Presence) audit(ctx context.Context, w statusWrite) {
	if err := p.auditor.PresenceChanged(ctx, w.userID, w.status, w.at); err != nil {
		p.log.Warn().Err(err).Str("user_id", w.userID).Msg("presence audit failed")
	}
}
