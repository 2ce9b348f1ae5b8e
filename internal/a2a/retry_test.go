package a2a

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRetryTransportRetriesUnreachable(t *testing.T) {
	calls := 0
	next := TransportFunc(func(ctx context.Context, addr string, req *TaskRequest) (*TaskResponse, error) {
		calls++
		if calls < 3 {
			return nil, &TransportError{Category: Unreachable, Err: errors.New("refused")}
		}
		return Completed(req.CorrelationID, "ok")
	})
	tr := &RetryTransport{Next: next, MaxRetries: 3, Initial: time.Millisecond, Logger: zap.NewNop()}

	resp, err := tr.Do(context.Background(), "x", &TaskRequest{CorrelationID: "c"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.PayloadText() != "ok" || calls != 3 {
		t.Errorf("unexpected outcome %q after %d calls", resp.PayloadText(), calls)
	}
}

func TestRetryTransportStopsOnOtherCategories(t *testing.T) {
	calls := 0
	next := TransportFunc(func(context.Context, string, *TaskRequest) (*TaskResponse, error) {
		calls++
		return nil, &TransportError{Category: MalformedResponse, Err: errors.New("garbage")}
	})
	tr := &RetryTransport{Next: next, MaxRetries: 5, Initial: time.Millisecond}

	_, err := tr.Do(context.Background(), "x", &TaskRequest{})
	if CategoryOf(err) != MalformedResponse {
		t.Errorf("expected MALFORMED_RESPONSE, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestRetryTransportGivesUp(t *testing.T) {
	calls := 0
	next := TransportFunc(func(context.Context, string, *TaskRequest) (*TaskResponse, error) {
		calls++
		return nil, &TransportError{Category: Unreachable, Err: errors.New("refused")}
	})
	tr := &RetryTransport{Next: next, MaxRetries: 2, Initial: time.Millisecond}

	_, err := tr.Do(context.Background(), "x", &TaskRequest{})
	if CategoryOf(err) != Unreachable {
		t.Errorf("expected UNREACHABLE, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d", calls)
	}
}
