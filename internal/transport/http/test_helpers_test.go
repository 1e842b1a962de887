package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/config"
	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/log"
	"github.com/vovakirdan/relaychat-server/internal/proto"
	"github.com/vovakirdan/relaychat-server/internal/service/chats"
	"github.com/vovakirdan/relaychat-server/internal/service/users"
	"github.com/vovakirdan/relaychat-server/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	auth  *auth.Service
	chats *chats.Service
	store *sqlite.SQLiteStore
}

// startTestServer wires an in-memory store, the hub and the full router.
// opts adjust the default config before the router is built.
func startTestServer(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.Nop()
	authService := auth.NewService(st, st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}, logger)

	hub := core.NewHub(authService, st, core.Config{RetryBackoff: time.Millisecond}, logger)
	authService.SetPresence(hub)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	chatService := chats.New(st, hub, false, logger)
	cfg := config.Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	server := NewServer(hub, Services{
		Auth:  authService,
		Users: users.New(st),
		Chats: chatService,
	}, &cfg, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{ts: ts, hub: hub, auth: authService, chats: chatService, store: st}
}

func (e *testEnv) register(t *testing.T, phone, name string) (string, string) {
	t.Helper()
	user, token, err := e.auth.Register(context.Background(), auth.RegisterInput{Phone: phone, FirstName: name})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return user.ID, token
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// dial connects with a bearer token and consumes session:ready, returning the connection ID.
func (e *testEnv) dial(t *testing.T, ctx context.Context, token string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	var ready proto.EventSessionReady
	expectEvent(t, ctx, conn, "session:ready", &ready)
	if ready.ConnectionID == "" {
		t.Fatalf("session:ready without connection id")
	}
	return conn, ready.ConnectionID
}

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readOutbound(t *testing.T, ctx context.Context, conn *websocket.Conn) outbound {
	t.Helper()
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var out outbound
	if err := wsjson.Read(rctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

// expectEvent reads the next frame and requires it to be the named event.
func expectEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, name string, data any) {
	t.Helper()
	out := readOutbound(t, ctx, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != name {
		t.Fatalf("expected event %s, got %+v", name, out)
	}
	if data != nil {
		if err := json.Unmarshal(out.Data, data); err != nil {
			t.Fatalf("unmarshal %s: %v", name, err)
		}
	}
}

func expectError(t *testing.T, ctx context.Context, conn *websocket.Conn, code string) {
	t.Helper()
	out := readOutbound(t, ctx, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != code {
		t.Fatalf("expected error %s, got %+v", code, out)
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// doJSON performs a REST call; connID is sent as X-Connection-ID when set.
func (e *testEnv) doJSON(t *testing.T, method, path, token, connID string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if connID != "" {
		req.Header.Set(HeaderConnectionID, connID)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}
