package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/config"
	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/log"
	"github.com/vovakirdan/relaychat-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketRejectsBadCredentials(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name   string
		header http.Header
	}{
		{"missing token", nil},
		{"garbage token", http.Header{"Authorization": []string{"Bearer nope"}}},
		{"wrong scheme", http.Header{"Authorization": []string{"Basic abc"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.Dial(ctx, env.wsURL(), &websocket.DialOptions{HTTPHeader: tt.header})
			if err == nil {
				conn.Close(websocket.StatusNormalClosure, "")
				t.Fatalf("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %+v", resp)
			}
		})
	}

	if users, conns := env.hub.Stats().Users, env.hub.Stats().Connections; users != 0 || conns != 0 {
		t.Fatalf("rejected admissions must leave no state, got %d users %d conns", users, conns)
	}
}

func TestWebSocketQueryToken(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := env.register(t, "+79990000001", "Alice")
	conn, _, err := websocket.Dial(ctx, env.wsURL()+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	expectEvent(t, ctx, conn, "session:ready", nil)
}

func TestPresenceAndTypingFanout(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceID, aliceTok := env.register(t, "+79990000001", "Alice")
	bobID, bobTok := env.register(t, "+79990000002", "Bob")
	chat, _, err := env.chats.CreateDirect(ctx, aliceID, bobID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	alice, _ := env.dial(t, ctx, aliceTok)
	var snapshot proto.EventUsersOnline
	expectEvent(t, ctx, alice, "users:online", &snapshot)
	if len(snapshot.UserIDs) != 0 {
		t.Fatalf("first user should see an empty snapshot, got %v", snapshot.UserIDs)
	}

	bob, _ := env.dial(t, ctx, bobTok)
	expectEvent(t, ctx, bob, "users:online", &snapshot)
	if len(snapshot.UserIDs) != 1 || snapshot.UserIDs[0] != aliceID {
		t.Fatalf("bob should see alice online, got %v", snapshot.UserIDs)
	}

	var online proto.EventUser
	expectEvent(t, ctx, alice, "user:online", &online)
	if online.UserID != bobID {
		t.Fatalf("expected user:online for bob, got %+v", online)
	}

	send(t, ctx, alice, "typing:start", proto.ChatData{ChatID: chat.ID})
	var typing proto.EventTyping
	expectEvent(t, ctx, bob, "typing:start", &typing)
	if typing.ChatID != chat.ID || typing.UserID != aliceID {
		t.Fatalf("unexpected typing payload: %+v", typing)
	}

	bob.Close(websocket.StatusNormalClosure, "bye")
	var offline proto.EventUser
	expectEvent(t, ctx, alice, "user:offline", &offline)
	if offline.UserID != bobID {
		t.Fatalf("expected user:offline for bob, got %+v", offline)
	}
}

func TestCommandOutsideRoomIsRejected(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := env.register(t, "+79990000001", "Alice")
	conn, _ := env.dial(t, ctx, token)
	expectEvent(t, ctx, conn, "users:online", nil)

	send(t, ctx, conn, "typing:start", proto.ChatData{ChatID: "foreign-chat"})
	expectError(t, ctx, conn, "not_in_room")

	send(t, ctx, conn, "typing:start", proto.ChatData{})
	expectError(t, ctx, conn, "bad_request")

	send(t, ctx, conn, "call:start", proto.ChatData{ChatID: "x"})
	expectError(t, ctx, conn, "invalid_message")

	// The connection survives protocol errors.
	send(t, ctx, conn, "chat:join", proto.ChatData{ChatID: "foreign-chat"})
	expectError(t, ctx, conn, "not_member")
}

func TestRESTMessageSkipsOriginConnection(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceID, aliceTok := env.register(t, "+79990000001", "Alice")
	bobID, bobTok := env.register(t, "+79990000002", "Bob")
	chat, _, err := env.chats.CreateDirect(ctx, aliceID, bobID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	alice, aliceConn := env.dial(t, ctx, aliceTok)
	expectEvent(t, ctx, alice, "users:online", nil)
	bob, _ := env.dial(t, ctx, bobTok)
	expectEvent(t, ctx, bob, "users:online", nil)
	expectEvent(t, ctx, alice, "user:online", nil)

	status, body := env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", aliceTok, aliceConn,
		SendMessageRequest{Content: "hello"})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var created proto.Message
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}

	var ev proto.EventMessage
	expectEvent(t, ctx, bob, "message:new", &ev)
	if ev.ChatID != chat.ID || ev.Message.ID != created.ID || ev.Message.Content != "hello" {
		t.Fatalf("unexpected message:new payload: %+v", ev)
	}

	// Alice's next frame is bob's typing, not her own message.
	send(t, ctx, bob, "typing:stop", proto.ChatData{ChatID: chat.ID})
	expectEvent(t, ctx, alice, "typing:stop", nil)

	// Relaying a stored message over the socket carries the stored body.
	send(t, ctx, alice, "message:send", proto.MessageRefData{ChatID: chat.ID, MessageID: created.ID})
	expectEvent(t, ctx, bob, "message:new", &ev)
	if ev.Message.SenderID != aliceID {
		t.Fatalf("expected stored sender, got %+v", ev.Message)
	}

	// Bob cannot relay alice's message.
	send(t, ctx, bob, "message:edit", proto.MessageRefData{ChatID: chat.ID, MessageID: created.ID})
	expectError(t, ctx, bob, "forbidden")
}

func TestChatCreationJoinsCreatorConnection(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, aliceTok := env.register(t, "+79990000001", "Alice")
	bobID, bobTok := env.register(t, "+79990000002", "Bob")

	alice, aliceConn := env.dial(t, ctx, aliceTok)
	expectEvent(t, ctx, alice, "users:online", nil)
	bob, _ := env.dial(t, ctx, bobTok)
	expectEvent(t, ctx, bob, "users:online", nil)
	expectEvent(t, ctx, alice, "user:online", nil)

	status, body := env.doJSON(t, http.MethodPost, "/api/chats/direct", aliceTok, aliceConn, CreateDirectRequest{UserID: bobID})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var chat ChatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		t.Fatalf("unmarshal chat: %v", err)
	}

	// Alice's socket was joined by the API; bob joins explicitly.
	send(t, ctx, bob, "chat:join", proto.ChatData{ChatID: chat.ID})
	send(t, ctx, bob, "typing:start", proto.ChatData{ChatID: chat.ID})
	expectEvent(t, ctx, alice, "typing:start", nil)

	send(t, ctx, alice, "typing:start", proto.ChatData{ChatID: chat.ID})
	expectEvent(t, ctx, bob, "typing:start", nil)
}

// stubHub fails every admission with err and counts the attempts.
type stubHub struct {
	err    error
	admits int
}

func (s *stubHub) Admit(context.Context, string) (*core.Conn, error) {
	s.admits++
	return nil, s.err
}

func (s *stubHub) Dismiss(string) bool { return false }
func (s *stubHub) Serve(context.Context, *core.Conn) {}
func (s *stubHub) OnlineUsers() []string { return nil }
func (s *stubHub) IsOnline(string) bool { return false }

func upgradeRequest(method string) *http.Request {
	req := httptest.NewRequest(method, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Authorization", "Bearer tok")
	return req
}

func TestWSHandlerAdmissionStatus(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/ws", nil)
	plain.Header.Set("Authorization", "Bearer tok")
	noKey := upgradeRequest(http.MethodGet)
	noKey.Header.Del("Sec-WebSocket-Key")

	tests := []struct {
		name       string
		req        *http.Request
		err        error
		wantStatus int
		wantAdmits int
	}{
		{"plain get", plain, nil, http.StatusUpgradeRequired, 0},
		{"post", upgradeRequest(http.MethodPost), nil, http.StatusMethodNotAllowed, 0},
		{"missing key", noKey, nil, http.StatusBadRequest, 0},
		{"rejected token", upgradeRequest(http.MethodGet), &core.AuthError{Err: auth.ErrTokenRevoked}, http.StatusUnauthorized, 1},
		{"credential lookup down", upgradeRequest(http.MethodGet), errors.Join(core.ErrAuthUnavailable, errors.New("db down")), http.StatusServiceUnavailable, 1},
		{"membership lookup down", upgradeRequest(http.MethodGet), errors.Join(core.ErrMembershipLookup, errors.New("db down")), http.StatusServiceUnavailable, 1},
		{"unexpected", upgradeRequest(http.MethodGet), errors.New("boom"), http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &stubHub{err: tt.err}
			rec := httptest.NewRecorder()
			NewWSHandler(hub, 0, 0, log.Nop()).ServeHTTP(rec, tt.req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if hub.admits != tt.wantAdmits {
				t.Fatalf("expected %d admissions, got %d", tt.wantAdmits, hub.admits)
			}
		})
	}
}

func TestNonUpgradeRequestLeavesPresenceUntouched(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, aliceTok := env.register(t, "+79990000001", "Alice")
	bobID, bobTok := env.register(t, "+79990000002", "Bob")

	alice, _ := env.dial(t, ctx, aliceTok)
	expectEvent(t, ctx, alice, "users:online", nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+bobTok)
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("plain get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}

	if env.hub.IsOnline(bobID) {
		t.Fatalf("bob never connected and must not be online")
	}
	expectSilence(t, ctx, alice, 300*time.Millisecond)
}

func TestWebSocketRateLimited(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) { cfg.CommandsPerMinute = 2 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := env.register(t, "+79990000001", "Alice")
	conn, _ := env.dial(t, ctx, token)
	expectEvent(t, ctx, conn, "users:online", nil)

	for i := 0; i < 2; i++ {
		send(t, ctx, conn, "hello", struct{}{})
		expectError(t, ctx, conn, "invalid_message")
	}
	send(t, ctx, conn, "hello", struct{}{})
	expectError(t, ctx, conn, core.ErrCodeRateLimited)

	// The connection survives the rejection.
	send(t, ctx, conn, "hello", struct{}{})
	expectError(t, ctx, conn, core.ErrCodeRateLimited)
}

// expectSilence requires that nothing arrives on conn within d.
func expectSilence(t *testing.T, ctx context.Context, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	rctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var out outbound
	if err := wsjson.Read(rctx, conn, &out); err == nil {
		t.Fatalf("expected no frame, got %+v", out)
	}
}
