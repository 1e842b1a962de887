package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/relaychat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:3001", "server base URL")
	phone := flag.String("phone", "+79990000000", "phone to log in with")
	chat := flag.String("chat", "", "chat id to join and type into (optional)")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := login(ctx, *base, *phone)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(*base, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if *chat != "" {
		for _, typ := range []string{"chat:join", "typing:start", "typing:stop"} {
			payload, err := json.Marshal(proto.ChatData{ChatID: *chat})
			if err != nil {
				return fmt.Errorf("marshal %s: %w", typ, err)
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
				return fmt.Errorf("send %s: %w", typ, err)
			}
		}
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("received type=%s", outbound.Type)
		if outbound.Event != "" {
			fmt.Printf(" event=%s", outbound.Event)
		}
		if outbound.Error != nil {
			fmt.Printf(" error=%s (%s)", outbound.Error.Code, outbound.Error.Msg)
		}
		if len(outbound.Data) > 0 {
			fmt.Printf(" data=%s", outbound.Data)
		}
		fmt.Println()
	}
}

func login(ctx context.Context, base, phone string) (string, error) {
	body, err := json.Marshal(map[string]string{"phone": phone})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login: %w", err)
	}
	return out.Token, nil
}
