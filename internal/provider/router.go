package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nidhogg/nuka-relay/internal/config"
	"go.uber.org/zap"
)

// ErrNoProvider is returned by Route when no provider can serve a role.
var ErrNoProvider = errors.New("no provider available")

// Router picks a provider per role (the relay, or a worker id) and walks
// the role's fallback chain when the primary fails.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // role -> providerID
	fallbacks map[string][]string // role -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind pins a role to a specific provider.
func (r *Router) Bind(role, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = providerID
}

// SetFallbacks configures the providers tried, in order, after the primary.
func (r *Router) SetFallbacks(role string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[role] = providerIDs
}

// Route sends a chat request through the role's provider chain. A
// cancelled or expired context stops the chain immediately.
func (r *Router) Route(ctx context.Context, role string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.primary(role)
	chain := r.fallbacks[role]
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoProvider, role)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("role", role), zap.String("provider", primary.ID()), zap.Error(err))

	for _, fbID := range chain {
		fb, ok := r.Get(fbID)
		if !ok || fb.ID() == primary.ID() {
			continue
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for %s: %w", role, err)
}

func (r *Router) primary(role string) Provider {
	if pid, ok := r.bindings[role]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// Get returns a provider by ID.
func (r *Router) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Len reports how many providers are registered.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// NewRouterFromConfig registers every configured provider of a known type.
// Unknown types are logged and skipped.
func NewRouterFromConfig(cfgs []config.ProviderConfig, logger *zap.Logger) *Router {
	r := NewRouter(logger)
	for _, pc := range cfgs {
		pcfg := ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: pc.Timeout.Std(),
		}
		switch pc.Type {
		case "openai":
			r.Register(NewOpenAIProvider(pcfg, logger))
		case "anthropic":
			r.Register(NewAnthropicProvider(pcfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	return r
}
