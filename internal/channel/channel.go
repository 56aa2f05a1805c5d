// Package channel defines the front ends the bot talks through and the
// message shape they deliver.
package channel

import (
	"context"
	"time"
)

// MessageType classifies inbound messages. Only TypeText is answered.
type MessageType int

const (
	TypeUnknown       MessageType = 0
	TypeText          MessageType = 1
	TypeImage         MessageType = 3
	TypeVoice         MessageType = 34
	TypeFriendRequest MessageType = 37
	TypeVideo         MessageType = 43
	TypeEmoji         MessageType = 47
	TypeLocation      MessageType = 48
	TypeLink          MessageType = 49
	TypeSystem        MessageType = 10000
)

// Message is an inbound message normalized across channels.
type Message struct {
	ID         string
	Sender     string
	SenderName string
	Content    string
	Type       MessageType
	RoomID     string // empty for private chats
	IsGroup    bool
	IsAtBot    bool
	Timestamp  time.Time
	Extra      map[string]any
}

// ChatID is the room for group messages and the sender otherwise.
func (m *Message) ChatID() string {
	if m.IsGroup {
		return m.RoomID
	}
	return m.Sender
}

// Contact is a known user.
type Contact struct {
	ID    string
	Name  string
	Alias string
}

// DisplayName prefers the alias, then the name, then the id.
func (c Contact) DisplayName() string {
	switch {
	case c.Alias != "":
		return c.Alias
	case c.Name != "":
		return c.Name
	default:
		return c.ID
	}
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg *Message)

// Channel is a messaging front end.
type Channel interface {
	// Name is the short identifier used in session aliases.
	Name() string
	// BotID is the bot's own user id on this channel.
	BotID() string
	// SendText delivers text to a user or room, mentioning atList.
	SendText(ctx context.Context, text, receiver string, atList []string) error
	// Start delivers inbound messages to h until ctx is done, Stop is
	// called, or the channel ends on its own. It blocks.
	Start(ctx context.Context, h Handler) error
	Stop() error
	Contact(id string) (Contact, bool)
}

// UserName resolves a display name for userID, falling back to the id.
func UserName(ch Channel, userID string) string {
	if c, ok := ch.Contact(userID); ok {
		return c.DisplayName()
	}
	return userID
}
