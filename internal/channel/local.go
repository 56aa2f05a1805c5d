package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local channel identities.
const (
	LocalBotID  = "local_bot"
	LocalUserID = "local_user"
)

// Local is a terminal channel for trying the bot without a chat service.
// Every line read is a private message addressed to the bot.
type Local struct {
	botName  string
	userName string
	in       io.Reader
	out      io.Writer
	logger   *slog.Logger

	outMu    sync.Mutex
	mu       sync.Mutex
	contacts map[string]Contact

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLocal creates a terminal channel reading in and writing out.
func NewLocal(botName, userName string, in io.Reader, out io.Writer, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if userName == "" {
		userName = "User"
	}
	return &Local{
		botName:  botName,
		userName: userName,
		in:       in,
		out:      out,
		logger:   logger,
		contacts: map[string]Contact{
			LocalBotID:  {ID: LocalBotID, Name: botName},
			LocalUserID: {ID: LocalUserID, Name: userName},
		},
		stop: make(chan struct{}),
	}
}

func (l *Local) Name() string  { return "local" }
func (l *Local) BotID() string { return LocalBotID }

// SendText prints the reply.
func (l *Local) SendText(_ context.Context, text, _ string, _ []string) error {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	_, err := fmt.Fprintf(l.out, "\n\033[36m[%s]\033[0m %s\n\n", l.botName, text)
	return err
}

// Start reads lines until EOF, quit/exit/q, Stop or ctx cancellation.
// Messages are handled one at a time in input order.
func (l *Local) Start(ctx context.Context, h Handler) error {
	l.outMu.Lock()
	fmt.Fprintf(l.out, "\n%s\n  %s local channel started\n  type a message, 'quit' to exit\n%s\n\n",
		strings.Repeat("=", 50), l.botName, strings.Repeat("=", 50))
	l.outMu.Unlock()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(l.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			switch strings.ToLower(line) {
			case "quit", "exit", "q":
				l.outMu.Lock()
				fmt.Fprintln(l.out, "\n再见！")
				l.outMu.Unlock()
				return nil
			}
			h(ctx, l.newMessage(line))
		}
	}
}

func (l *Local) newMessage(text string) *Message {
	return &Message{
		ID:         "local_" + uuid.NewString(),
		Sender:     LocalUserID,
		SenderName: l.userName,
		Content:    text,
		Type:       TypeText,
		IsAtBot:    true,
		Timestamp:  time.Now(),
	}
}

// Stop ends Start. It is safe to call more than once.
func (l *Local) Stop() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *Local) Contact(id string) (Contact, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contacts[id]
	return c, ok
}

// AddContact registers a simulated user.
func (l *Local) AddContact(c Contact) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contacts[c.ID] = c
}

// Simulate builds a message as if sender had typed text, in roomID when
// non-empty. The message is returned, not delivered.
func (l *Local) Simulate(text, sender, roomID string, atBot bool) *Message {
	if sender == "" {
		sender = LocalUserID
	}
	return &Message{
		ID:         "local_" + uuid.NewString(),
		Sender:     sender,
		SenderName: UserName(l, sender),
		Content:    text,
		Type:       TypeText,
		RoomID:     roomID,
		IsGroup:    roomID != "",
		IsAtBot:    atBot,
		Timestamp:  time.Now(),
	}
}
