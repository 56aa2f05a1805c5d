package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"
)

// ErrNoReceiver is returned when nobody is connected for a chat.
var ErrNoReceiver = errors.New("no connection for receiver")

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxFrame     = 1 << 20
)

// WebSocketConfig configures the WebSocket channel.
type WebSocketConfig struct {
	Address        string
	Port           int
	Path           string
	BotID          string
	AllowedOrigins []string // empty allows any origin
}

// inboundFrame is what clients send.
type inboundFrame struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	RoomID     string `json:"room_id"`
	AtBot      bool   `json:"at_bot"`
}

// outboundFrame is what the bot sends. HTML is the content rendered from
// markdown.
type outboundFrame struct {
	Type     string    `json:"type"`
	From     string    `json:"from"`
	Receiver string    `json:"receiver"`
	Content  string    `json:"content"`
	HTML     string    `json:"html,omitempty"`
	At       []string  `json:"at,omitempty"`
	Time     time.Time `json:"ts"`
}

// wsConn serializes writes to one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// WebSocket is a JSON-over-WebSocket channel. Each connection speaks for
// one user; the user id comes from the "user" query parameter or the
// sender field of each frame. Replies go to every connection that has
// sent a message in the target chat.
type WebSocket struct {
	cfg      WebSocketConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	chats    map[string]map[*wsConn]struct{}
	contacts map[string]Contact
	server   *http.Server
}

// NewWebSocket creates the channel. Call Start to listen.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.BotID == "" {
		cfg.BotID = "bubbles"
	}
	w := &WebSocket{
		cfg:      cfg,
		logger:   logger,
		chats:    make(map[string]map[*wsConn]struct{}),
		contacts: make(map[string]Contact),
	}
	w.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     w.checkOrigin,
	}
	return w
}

func (w *WebSocket) Name() string  { return "websocket" }
func (w *WebSocket) BotID() string { return w.cfg.BotID }

func (w *WebSocket) checkOrigin(r *http.Request) bool {
	if len(w.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(w.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// Handler returns the HTTP handler serving the WebSocket endpoint, with
// inbound messages delivered to h.
func (w *WebSocket) Handler(ctx context.Context, h Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+w.cfg.Path, func(rw http.ResponseWriter, r *http.Request) {
		w.serve(ctx, rw, r, h)
	})
	return mux
}

// Start listens on the configured address until ctx is done or Stop is
// called.
func (w *WebSocket) Start(ctx context.Context, h Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.cfg.Address, w.cfg.Port),
		Handler:           w.Handler(ctx, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.mu.Lock()
	w.server = srv
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	w.logger.Info("websocket channel listening", "addr", srv.Addr, "path", w.cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// Stop closes the listener and every open connection.
func (w *WebSocket) Stop() error {
	w.mu.Lock()
	srv := w.server
	conns := make(map[*wsConn]struct{})
	for _, set := range w.chats {
		for c := range set {
			conns[c] = struct{}{}
		}
	}
	w.mu.Unlock()

	for c := range conns {
		c.conn.Close()
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}

func (w *WebSocket) serve(ctx context.Context, rw http.ResponseWriter, r *http.Request, h Handler) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(wsMaxFrame)
	c := &wsConn{conn: conn}
	defaultUser := r.URL.Query().Get("user")
	defaultName := r.URL.Query().Get("name")

	w.logger.Info("websocket client connected", "remote", r.RemoteAddr, "user", defaultUser)
	defer func() {
		w.forget(c)
		conn.Close()
		w.logger.Info("websocket client disconnected", "remote", r.RemoteAddr, "user", defaultUser)
	}()

	for {
		var f inboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("websocket read ended", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		msg := w.toMessage(f, defaultUser, defaultName)
		if msg == nil {
			w.logger.Debug("websocket frame without sender dropped", "remote", r.RemoteAddr)
			continue
		}
		w.remember(c, msg)
		go h(ctx, msg)
	}
}

func (w *WebSocket) toMessage(f inboundFrame, defaultUser, defaultName string) *Message {
	sender := f.Sender
	if sender == "" {
		sender = defaultUser
	}
	if sender == "" {
		return nil
	}
	name := f.SenderName
	if name == "" {
		name = defaultName
	}
	if name == "" {
		name = sender
	}
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		ID:         id,
		Sender:     sender,
		SenderName: name,
		Content:    f.Content,
		Type:       TypeText,
		RoomID:     f.RoomID,
		IsGroup:    f.RoomID != "",
		IsAtBot:    f.RoomID == "" || f.AtBot,
		Timestamp:  time.Now(),
	}
}

// remember routes replies for the message's chat to c.
func (w *WebSocket) remember(c *wsConn, msg *Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chat := msg.ChatID()
	set, ok := w.chats[chat]
	if !ok {
		set = make(map[*wsConn]struct{})
		w.chats[chat] = set
	}
	set[c] = struct{}{}
	w.contacts[msg.Sender] = Contact{ID: msg.Sender, Name: msg.SenderName}
}

func (w *WebSocket) forget(c *wsConn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for chat, set := range w.chats {
		delete(set, c)
		if len(set) == 0 {
			delete(w.chats, chat)
		}
	}
}

// SendText writes a message frame to every connection in receiver's chat.
func (w *WebSocket) SendText(_ context.Context, text, receiver string, atList []string) error {
	w.mu.Lock()
	conns := make([]*wsConn, 0, len(w.chats[receiver]))
	for c := range w.chats[receiver] {
		conns = append(conns, c)
	}
	w.mu.Unlock()
	if len(conns) == 0 {
		return fmt.Errorf("send to %s: %w", receiver, ErrNoReceiver)
	}

	frame := outboundFrame{
		Type:     "message",
		From:     w.cfg.BotID,
		Receiver: receiver,
		Content:  text,
		HTML:     w.renderHTML(text),
		At:       atList,
		Time:     time.Now(),
	}
	var errs []error
	for _, c := range conns {
		if err := c.writeJSON(frame); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return fmt.Errorf("send to %s: %w", receiver, errors.Join(errs...))
	}
	return nil
}

func (w *WebSocket) renderHTML(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		w.logger.Debug("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}

func (w *WebSocket) Contact(id string) (Contact, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.contacts[id]
	return c, ok
}
