package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

var (
	errTestTokenMissing = errors.New("token missing")
	errTestTokenInvalid = errors.New("token invalid")
	errTestAuthStore    = errors.New("revocation store down")
)

// tokenStoreDown makes fakeAuth fail the way a broken revocation lookup does.
const tokenStoreDown = "tok-store-down"

// fakeAuth maps tokens to user IDs.
type fakeAuth map[string]string

func (f fakeAuth) VerifyToken(_ context.Context, token string) (string, error) {
	switch token {
	case "":
		return "", errTestTokenMissing
	case tokenStoreDown:
		return "", errTestAuthStore
	}
	if id, ok := f[token]; ok {
		return id, nil
	}
	return "", errTestTokenInvalid
}

func (fakeAuth) IsAuthError(err error) bool {
	return errors.Is(err, errTestTokenMissing) || errors.Is(err, errTestTokenInvalid)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) ListChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockDirectory) IsChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDirectory) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*store.Message)
	return msg, args.Error(1)
}

func (m *mockDirectory) SetOnlineStatus(ctx context.Context, userID string, status store.OnlineStatus, at time.Time) error {
	args := m.Called(ctx, userID, status, at)
	return args.Error(0)
}

// statusLog records persisted presence writes in order.
type statusLog struct {
	mu     sync.Mutex
	writes []statusWrite
}

func (l *statusLog) record(args mock.Arguments) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, statusWrite{
		userID: args.String(1),
		status: args.Get(2).(store.OnlineStatus),
		at:     args.Get(3).(time.Time),
	})
}

func (l *statusLog) count(userID string, status store.OnlineStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, w := range l.writes {
		if w.userID == userID && w.status == status {
			n++
		}
	}
	return n
}

func (l *statusLog) last(userID string) store.OnlineStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.writes) - 1; i >= 0; i-- {
		if l.writes[i].userID == userID {
			return l.writes[i].status
		}
	}
	return ""
}

// recordStatus accepts every SetOnlineStatus call and logs it.
func (m *mockDirectory) recordStatus() *statusLog {
	log := &statusLog{}
	m.On("SetOnlineStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(log.record).
		Return(nil)
	return log
}

type hubFixture struct {
	hub  *Hub
	dir  *mockDirectory
	auth fakeAuth
	ctx  context.Context
}

func newHubFixture(t *testing.T, cfg Config) *hubFixture {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	dir := &mockDirectory{}
	auth := fakeAuth{"tok-alice": "alice", "tok-bob": "bob", "tok-carol": "carol"}
	hub := NewHub(auth, dir, cfg, nil)
	go hub.Run(ctx)

	return &hubFixture{hub: hub, dir: dir, auth: auth, ctx: ctx}
}

func (f *hubFixture) admit(t *testing.T, token string) *Conn {
	t.Helper()
	c, err := f.hub.Admit(f.ctx, token)
	require.NoError(t, err)
	return c
}

func (f *hubFixture) serve(c *Conn) {
	go f.hub.Serve(f.ctx, c)
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drain returns everything currently queued without waiting.
func drain(ch <-chan *Event) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kindsOf(events []*Event) []EventKind {
	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
