// Package gateway normalizes chat platforms (Slack, Discord, plain HTTP)
// into one inbound stream and routes replies back.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Gateway manages all platform adapters and routes messages.
type Gateway struct {
	adapters map[string]Adapter
	handler  MessageHandler
	wg       sync.WaitGroup
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages. Call it before
// ConnectAll.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// Register adds an adapter. Each inbound message is handled on its own
// goroutine so a slow answer never stalls an adapter's event loop.
func (g *Gateway) Register(adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	adapter.OnMessage(g.dispatch)
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

func (g *Gateway) dispatch(msg *InboundMessage) {
	g.mu.RLock()
	h := g.handler
	g.mu.RUnlock()
	if h == nil {
		g.logger.Warn("inbound message dropped, no handler", zap.String("platform", msg.Platform))
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		h(msg)
	}()
}

// ConnectAll starts all registered adapters.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return nil
}

// Send sends a message to a specific platform channel.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no adapter for platform: %s", msg.Platform)
	}
	return adapter.Send(ctx, msg)
}

// Close waits for in-flight messages and shuts down all adapters.
func (g *Gateway) Close() error {
	g.wg.Wait()

	g.mu.RLock()
	defer g.mu.RUnlock()
	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// Status reports every adapter, sorted by platform. Adapters without a
// live connection to track are always reported connected.
func (g *Gateway) Status() []AdapterStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for p, a := range g.adapters {
		if sr, ok := a.(StatusReporter); ok {
			out = append(out, sr.Status())
			continue
		}
		out = append(out, AdapterStatus{Platform: p, Connected: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
