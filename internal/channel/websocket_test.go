package channel

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocket_RoundTrip(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{BotID: "bot1"}, quietLogger())
	received := make(chan *Message, 1)
	h := func(ctx context.Context, m *Message) {
		received <- m
		if err := ws.SendText(ctx, "**sunny**", m.ChatID(), nil); err != nil {
			t.Errorf("SendText: %v", err)
		}
	}
	srv := httptest.NewServer(ws.Handler(context.Background(), h))
	defer srv.Close()

	conn := dialWS(t, srv, "?user=alice&name=Alice")
	if err := conn.WriteJSON(map[string]any{"content": "weather?"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case m := <-received:
		if m.Sender != "alice" || m.SenderName != "Alice" || m.Content != "weather?" {
			t.Errorf("message = %+v", m)
		}
		if m.IsGroup || !m.IsAtBot || m.ChatID() != "alice" {
			t.Errorf("routing fields = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f outboundFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if f.Type != "message" || f.From != "bot1" || f.Receiver != "alice" || f.Content != "**sunny**" {
		t.Errorf("frame = %+v", f)
	}
	if !strings.Contains(f.HTML, "<strong>sunny</strong>") {
		t.Errorf("html = %q", f.HTML)
	}
	if c, ok := ws.Contact("alice"); !ok || c.Name != "Alice" {
		t.Errorf("contact = %+v, %v", c, ok)
	}
}

func TestWebSocket_GroupFrame(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{}, quietLogger())
	received := make(chan *Message, 1)
	srv := httptest.NewServer(ws.Handler(context.Background(), func(_ context.Context, m *Message) {
		received <- m
	}))
	defer srv.Close()

	conn := dialWS(t, srv, "")
	conn.WriteJSON(map[string]any{"content": "no sender"})
	conn.WriteJSON(map[string]any{"sender": "bob", "room_id": "room9", "content": "hi all"})

	select {
	case m := <-received:
		if !m.IsGroup || m.IsAtBot || m.ChatID() != "room9" || m.SenderName != "bob" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestWebSocket_SendWithoutReceiver(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{}, quietLogger())
	err := ws.SendText(context.Background(), "hi", "nobody", nil)
	if !errors.Is(err, ErrNoReceiver) {
		t.Errorf("err = %v, want ErrNoReceiver", err)
	}
}

func TestWebSocket_OriginCheck(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{AllowedOrigins: []string{"https://ok.example"}}, quietLogger())
	srv := httptest.NewServer(ws.Handler(context.Background(), func(context.Context, *Message) {}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	hdr := map[string][]string{"Origin": {"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, hdr); err == nil {
		t.Fatal("dial from disallowed origin succeeded")
	}
	hdr["Origin"] = []string{"https://ok.example"}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	conn.Close()
}
