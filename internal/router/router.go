// Package router connects gateway messages to slash commands and the
// orchestrator.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/nidhogg/nuka-relay/internal/command"
	"github.com/nidhogg/nuka-relay/internal/gateway"
	"github.com/nidhogg/nuka-relay/internal/orchestrator"
	"go.uber.org/zap"
)

// Answerer runs the pipeline for one query. *orchestrator.Orchestrator
// implements it.
type Answerer interface {
	Handle(ctx context.Context, query string) *orchestrator.Result
}

// Replier delivers a reply to a platform channel. *gateway.Gateway
// implements it.
type Replier interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter answers inbound chat messages.
type MessageRouter struct {
	answerer Answerer
	replier  Replier
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a MessageRouter. commands may be nil; timeout bounds each
// request, zero means no bound.
func New(answerer Answerer, replier Replier, commands *command.Registry, timeout time.Duration, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		answerer: answerer,
		replier:  replier,
		commands: commands,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle routes an inbound message. Signature matches
// gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := context.Background()
	if mr.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mr.timeout)
		defer cancel()
	}

	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	content := strings.TrimSpace(msg.Content)
	if _, _, ok := command.Parse(content); ok && mr.commands != nil {
		mr.handleCommand(ctx, msg, content)
		return
	}

	res := mr.answerer.Handle(ctx, content)
	mr.send(ctx, &gateway.OutboundMessage{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		Content:   res.Answer.Text,
		ReplyTo:   msg.ReplyTo,
		RequestID: res.RequestID,
		Source:    string(res.Answer.Source),
		Failed:    res.Answer.Failed,
	})
}

func (mr *MessageRouter) handleCommand(ctx context.Context, msg *gateway.InboundMessage, content string) {
	cc := &command.CommandContext{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
	}
	text := ""
	result, err := mr.commands.Dispatch(ctx, content, cc)
	if err != nil {
		mr.logger.Error("command dispatch error", zap.Error(err))
		text = "Command error: " + err.Error()
	} else {
		text = result.Content
	}
	mr.send(ctx, &gateway.OutboundMessage{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		Content:   text,
		ReplyTo:   msg.ReplyTo,
	})
}

func (mr *MessageRouter) send(ctx context.Context, out *gateway.OutboundMessage) {
	// The reply goes out even if the request deadline has passed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := mr.replier.Send(ctx, out); err != nil {
		mr.logger.Error("send reply failed",
			zap.String("platform", out.Platform),
			zap.String("channel", out.ChannelID),
			zap.Error(err))
	}
}
