package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// TaskMethod is the full gRPC method name of the worker Task call.
const TaskMethod = "/relay.Worker/Task"

// jsonCodec marshals envelopes as JSON so the gRPC transport needs no
// generated stubs. Responses are decoded as strictly as over HTTP.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Name() string                  { return "json" }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if resp, ok := v.(*TaskResponse); ok {
		return decodeStrict(data, resp)
	}
	return json.Unmarshal(data, v)
}

// JSONCodec is the codec both sides of the gRPC transport must use.
var JSONCodec jsonCodec

// TaskHandler serves envelopes. Implemented by worker.Server.
type TaskHandler interface {
	HandleTask(ctx context.Context, req *TaskRequest) (*TaskResponse, error)
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.Worker",
	HandlerType: (*TaskHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Task", Handler: taskMethodHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/worker",
}

func taskMethodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(TaskHandler)
	if interceptor == nil {
		return h.HandleTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TaskMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return h.HandleTask(ctx, req.(*TaskRequest))
	})
}

// NewGRPCServer returns a gRPC server using the JSON codec with h
// registered as the relay.Worker service.
func NewGRPCServer(h TaskHandler, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(JSONCodec))
	s := grpc.NewServer(opts...)
	s.RegisterService(&workerServiceDesc, h)
	return s
}

// GRPCTransport calls relay.Worker/Task. Connections are created lazily
// per address and reused.
type GRPCTransport struct {
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport creates a transport. Without options it dials with
// insecure credentials; authentication belongs to the network layer.
func NewGRPCTransport(opts ...grpc.DialOption) *GRPCTransport {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCTransport{dialOpts: opts, conns: make(map[string]*grpc.ClientConn)}
}

func (t *GRPCTransport) conn(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cc, ok := t.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, t.dialOpts...)
	if err != nil {
		return nil, err
	}
	t.conns[addr] = cc
	return cc, nil
}

func (t *GRPCTransport) Do(ctx context.Context, addr string, req *TaskRequest) (*TaskResponse, error) {
	cc, err := t.conn(addr)
	if err != nil {
		return nil, &TransportError{Category: Unreachable, Err: err}
	}
	var resp TaskResponse
	if err := cc.Invoke(ctx, TaskMethod, req, &resp, grpc.ForceCodec(JSONCodec)); err != nil {
		return nil, classifyGRPCErr(ctx, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, &TransportError{Category: MalformedResponse, Err: err}
	}
	return &resp, nil
}

func classifyGRPCErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Category: Timeout, Err: err}
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return &TransportError{Category: Timeout, Err: err}
	case codes.Unavailable:
		return &TransportError{Category: Unreachable, Err: err}
	case codes.Unknown:
		// the handler returned an error instead of a FAILED envelope
		return &TransportError{Category: WorkerError, Err: err}
	default:
		return &TransportError{Category: MalformedResponse, Err: err}
	}
}

// Close releases every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for addr, cc := range t.conns {
		if err := cc.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.conns, addr)
	}
	return errors.Join(errs...)
}
