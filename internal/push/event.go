// Package push delivers server-initiated events to live websocket connections.
package push

import (
	"context"
	"errors"
	"time"
)

type Channel string

const (
	ChannelDirect       Channel = "direct"
	ChannelGroup        Channel = "group"
	ChannelTyping       Channel = "typing"
	ChannelPresence     Channel = "presence"
	ChannelNotification Channel = "notification"
	ChannelError        Channel = "error"
)

// Event types carried inside a channel.
const (
	TypeMessage      = "message"
	TypeReadReceipt  = "read_receipt"
	TypeTyping       = "typing"
	TypeStatus       = "status"
	TypeNotification = "notification"
	TypeError        = "error"
)

type Event struct {
	Channel   Channel   `json:"channel"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(ch Channel, typ string, payload any) Event {
	return Event{Channel: ch, Type: typ, Payload: payload, Timestamp: time.Now().UTC()}
}

// ErrorPayload is sent on the error channel.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	ErrNotConnected = errors.New("push: recipient not connected")
	ErrBufferFull   = errors.New("push: send buffer full")
)

// Dispatcher is the only way components reach live connections.
// Every method is best effort and never blocks on a slow consumer.
type Dispatcher interface {
	Push(ctx context.Context, userID string, ev Event) error
	Broadcast(ctx context.Context, ev Event) error
	Connected(userID string) bool
}
