package a2a

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-relay/internal/registry"
	"go.uber.org/zap"
)

// Client is the remote worker client. It resolves worker ids through the
// registry, sends one envelope per call and turns every outcome into a
// WorkerResult.
type Client struct {
	registry   *registry.Registry
	transports map[string]Transport
	timeout    time.Duration
	logger     *zap.Logger
}

// NewClient creates a client with the given per-call timeout. Transports are
// keyed by the registry's transport name ("http", "grpc").
func NewClient(reg *registry.Registry, transports map[string]Transport, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{registry: reg, transports: transports, timeout: timeout, logger: logger}
}

// Call never returns an error; failures come back as WorkerResult values.
func (c *Client) Call(ctx context.Context, workerID, query string) WorkerResult {
	w, ok := c.registry.Lookup(workerID)
	if !ok {
		return Failure(workerID, Unreachable, "worker is not registered")
	}
	tr, ok := c.transports[w.Transport]
	if !ok {
		return Failure(workerID, Unreachable, fmt.Sprintf("no transport %q", w.Transport))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := &TaskRequest{CorrelationID: uuid.NewString(), Query: query}
	log := c.logger.With(
		zap.String("worker", workerID),
		zap.String("correlation_id", req.CorrelationID))
	log.Debug("dispatching task", zap.String("addr", w.Address), zap.String("transport", w.Transport))

	resp, err := tr.Do(ctx, w.Address, req)
	if err != nil {
		cat := CategoryOf(err)
		log.Warn("worker call failed", zap.String("category", string(cat)), zap.Error(err))
		return Failure(workerID, cat, err.Error())
	}
	if resp.CorrelationID != "" && resp.CorrelationID != req.CorrelationID {
		log.Warn("correlation id mismatch", zap.String("got", resp.CorrelationID))
		return Failure(workerID, MalformedResponse, "correlation id mismatch")
	}
	if resp.Status == StatusFailed {
		log.Info("worker reported failure", zap.String("error", resp.Error))
		return Failure(workerID, WorkerError, resp.Error)
	}
	return Success(workerID, resp.PayloadText())
}
