package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter receives messages and app mentions over Socket Mode and
// replies in the originating thread.
type SlackAdapter struct {
	client      *slack.Client
	socket      *socketmode.Client
	handler     MessageHandler
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		client: client,
		socket: socket,
		logger: logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect starts the Socket Mode event loop in a background goroutine.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.setState(false, err.Error())
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	a.logger.Info("slack adapter started in socket mode")
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.setState(true, "")
	case socketmode.EventTypeConnectionError:
		a.setState(false, fmt.Sprint(evt.Data))
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)

		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		switch inner := eventsAPI.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// Ignore bot messages and edits to avoid loops.
			if inner.BotID != "" || inner.SubType != "" {
				return
			}
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.TimeStamp, inner.ThreadTimeStamp)
		case *slackevents.AppMentionEvent:
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.TimeStamp, inner.ThreadTimeStamp)
		}
	}
}

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+>`)

func (a *SlackAdapter) dispatch(channel, user, text, ts, threadTS string) {
	if a.handler == nil {
		return
	}
	text = strings.TrimSpace(slackMention.ReplaceAllString(text, ""))
	if text == "" {
		return
	}
	if threadTS == "" {
		threadTS = ts
	}
	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: channel,
		UserID:    user,
		UserName:  user,
		Content:   text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

// Send posts a reply, threaded when the inbound message had a thread.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}

	_, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) setState(connected bool, errText string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if connected && !a.connected {
		a.connectedAt = time.Now()
	}
	a.connected = connected
	a.lastError = errText
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	return nil
}
