package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RESTAdapter turns an HTTP request into an inbound message and holds the
// request open until the reply arrives.
type RESTAdapter struct {
	handler  MessageHandler
	channels map[string]chan *OutboundMessage // channelID -> pending reply
	timeout  time.Duration
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter. timeout bounds how long
// a request waits for its reply.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RESTAdapter{
		channels: make(map[string]chan *OutboundMessage),
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

// Send delivers a reply to a waiting REST request.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.channels[msg.ChannelID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active channel: %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel %s buffer full", msg.ChannelID)
	}
}

// Routes returns a chi router with REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if a.handler == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not ready")
		return
	}

	channelID := uuid.New().String()
	ch := make(chan *OutboundMessage, 1)

	a.mu.Lock()
	a.channels[channelID] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.channels, channelID)
		a.mu.Unlock()
	}()

	a.handler(&InboundMessage{
		Platform:  "rest",
		ChannelID: channelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: time.Now(),
	})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
	case <-timer.C:
		a.logger.Warn("rest reply timed out", zap.String("channel", channelID))
		writeError(w, http.StatusGatewayTimeout, "response timeout")
	case <-r.Context().Done():
		return
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
