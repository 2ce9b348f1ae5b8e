package a2a

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryTransport retries UNREACHABLE failures of the wrapped transport with
// exponential backoff. Every other outcome is returned as-is.
type RetryTransport struct {
	Next       Transport
	MaxRetries uint64
	Initial    time.Duration
	Logger     *zap.Logger
}

func (t *RetryTransport) Do(ctx context.Context, addr string, req *TaskRequest) (*TaskResponse, error) {
	if t.MaxRetries == 0 {
		return t.Next.Do(ctx, addr, req)
	}

	exp := backoff.NewExponentialBackOff()
	if t.Initial > 0 {
		exp.InitialInterval = t.Initial
	}
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, t.MaxRetries), ctx)

	var resp *TaskResponse
	op := func() error {
		r, err := t.Next.Do(ctx, addr, req)
		if err != nil {
			if CategoryOf(err) != Unreachable {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if t.Logger != nil {
			t.Logger.Debug("worker unreachable, retrying",
				zap.String("addr", addr),
				zap.String("correlation_id", req.CorrelationID),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}
