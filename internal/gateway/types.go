package gateway

import (
	"context"
	"time"
)

// Adapter connects one chat platform to the relay.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Close() error
}

// StatusReporter is implemented by adapters that track a live connection.
type StatusReporter interface {
	Status() AdapterStatus
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a reply sent to a specific platform channel.
// RequestID and Source are set when the reply is a pipeline answer.
type OutboundMessage struct {
	Platform  string   `json:"platform"`
	ChannelID string   `json:"channel_id"`
	Content   string   `json:"content"`
	ReplyTo   string   `json:"reply_to,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Source    string   `json:"source,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// AdapterStatus describes the connection state of a platform adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
