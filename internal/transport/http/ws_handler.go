package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/proto"
)

// Hub is the realtime core as seen by the transport.
type Hub interface {
	Admit(ctx context.Context, token string) (*core.Conn, error)
	Dismiss(connID string) bool
	Serve(ctx context.Context, c *core.Conn)
	OnlineUsers() []string
	IsOnline(userID string) bool
}

// WSHandler authenticates, upgrades and bridges websocket connections to core.Conn.
type WSHandler struct {
	hub               Hub
	log               *zerolog.Logger
	maxMessageBytes   int64
	commandsPerMinute int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub Hub, maxMessageBytes int64, commandsPerMinute int, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:               hub,
		log:               logger,
		maxMessageBytes:   maxMessageBytes,
		commandsPerMinute: commandsPerMinute,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	// Admit publishes presence, so requests that cannot upgrade are turned away first.
	if status, msg := checkHandshake(r); status != 0 {
		if status == stdhttp.StatusUpgradeRequired {
			w.Header().Set("Connection", "Upgrade")
			w.Header().Set("Upgrade", "websocket")
		}
		writeJSONError(w, status, msg)
		return
	}

	token, ok := bearerToken(r)
	if !ok {
		writeJSONError(w, stdhttp.StatusUnauthorized, "invalid authorization header format")
		return
	}

	// Admission happens before the upgrade so rejected clients get a plain HTTP status.
	client, err := h.hub.Admit(r.Context(), token)
	if err != nil {
		var authErr *core.AuthError
		switch {
		case errors.As(err, &authErr):
			h.log.Debug().Err(err).Msg("ws admission rejected")
			writeJSONError(w, stdhttp.StatusUnauthorized, authErr.Err.Error())
		case errors.Is(err, core.ErrMembershipLookup), errors.Is(err, core.ErrAuthUnavailable):
			h.log.Warn().Err(err).Msg("ws admission unavailable")
			writeJSONError(w, stdhttp.StatusServiceUnavailable, "temporarily unavailable")
		default:
			h.log.Error().Err(err).Msg("ws admission failed")
			writeJSONError(w, stdhttp.StatusInternalServerError, "internal server error")
		}
		return
	}
	defer h.hub.Dismiss(client.ID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", client.ID).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.hub.Serve(ctx, client)

	limiter := newRateLimiter(h.commandsPerMinute)
	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) || errors.Is(err, core.ErrConnClosed) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn, limiter *rateLimiter) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			if err := writeError(ctx, conn, core.ErrCodeRateLimited, "too many commands"); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("failed to map inbound")
			if writeErr := writeError(ctx, conn, core.ErrCodeBadRequest, "malformed payload"); writeErr != nil {
				return writeErr
			}
			continue
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if err := client.Submit(ctx, cmd); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		select {
		case event := <-client.Events():
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return core.ErrConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	})
}

// checkHandshake validates the parts of an upgrade request that websocket.Accept
// would otherwise reject after the fact. A zero status means the request may proceed.
func checkHandshake(r *stdhttp.Request) (int, string) {
	if r.Method != stdhttp.MethodGet {
		return stdhttp.StatusMethodNotAllowed, "websocket upgrade requires GET"
	}
	if !headerHasToken(r.Header, "Connection", "upgrade") || !headerHasToken(r.Header, "Upgrade", "websocket") {
		return stdhttp.StatusUpgradeRequired, "websocket upgrade required"
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return stdhttp.StatusBadRequest, "unsupported websocket version"
	}
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return stdhttp.StatusBadRequest, "missing websocket key"
	}
	return 0, ""
}

func headerHasToken(h stdhttp.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
