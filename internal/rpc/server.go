package rpc

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hanpama/aegraph/internal/errs"
	eventbus "github.com/hanpama/aegraph/internal/eventbus"
	events "github.com/hanpama/aegraph/internal/events"
	reqid "github.com/hanpama/aegraph/internal/reqid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the gRPC service every subgraph registers.
	ServiceName = "aegraph.v1.Subgraph"
	callMethod  = "/" + ServiceName + "/Call"

	// OpBatch runs a list of operations within one request scope and returns
	// their outcomes in order.
	OpBatch = "batch"

	// RequestIDHeader carries the gateway request id to the subgraphs.
	RequestIDHeader = "graphql-request-id"
)

// HandlerFunc serves one named operation.
type HandlerFunc func(ctx context.Context, vars Vars) (any, error)

// PrefixHandlerFunc serves a family of operations sharing a prefix, such as
// find-by-<field>. suffix is the remainder of the operation name.
type PrefixHandlerFunc func(ctx context.Context, suffix string, vars Vars) (any, error)

type prefixRoute struct {
	prefix string
	h      PrefixHandlerFunc
}

// CallServer is the server side of aegraph.v1.Subgraph.
type CallServer interface {
	Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Server routes incoming operations to their handlers.
type Server struct {
	name     string
	handlers map[string]HandlerFunc
	prefixes []prefixRoute
	scope    func(context.Context) context.Context
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithScope installs a hook deriving the context of each incoming call. A
// batch call gets one scope shared by all of its items.
func WithScope(f func(context.Context) context.Context) ServerOption {
	return func(s *Server) { s.scope = f }
}

func NewServer(name string, opts ...ServerOption) *Server {
	s := &Server{name: name, handlers: make(map[string]HandlerFunc)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Name() string { return s.name }

// Handle registers h for op. Registering the same op twice panics.
func (s *Server) Handle(op string, h HandlerFunc) {
	if op == OpBatch {
		panic("rpc: batch is a reserved operation")
	}
	if _, dup := s.handlers[op]; dup {
		panic("rpc: duplicate operation " + op)
	}
	s.handlers[op] = h
}

// HandlePrefix registers h for every operation starting with prefix that has
// no exact handler.
func (s *Server) HandlePrefix(prefix string, h PrefixHandlerFunc) {
	s.prefixes = append(s.prefixes, prefixRoute{prefix: prefix, h: h})
	sort.SliceStable(s.prefixes, func(i, j int) bool {
		return len(s.prefixes[i].prefix) > len(s.prefixes[j].prefix)
	})
}

// Operations lists the exact operation names registered.
func (s *Server) Operations() []string {
	out := make([]string, 0, len(s.handlers)+1)
	for op := range s.handlers {
		out = append(out, op)
	}
	out = append(out, OpBatch)
	sort.Strings(out)
	return out
}

// Dispatch runs op in a new scope.
func (s *Server) Dispatch(ctx context.Context, op string, vars Vars) (any, error) {
	if s.scope != nil {
		ctx = s.scope(ctx)
	}
	return s.dispatch(ctx, op, vars)
}

func (s *Server) dispatch(ctx context.Context, op string, vars Vars) (any, error) {
	if op == OpBatch {
		return s.batch(ctx, vars)
	}
	if h, ok := s.handlers[op]; ok {
		return h(ctx, vars)
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(op, p.prefix) && len(op) > len(p.prefix) {
			return p.h(ctx, op[len(p.prefix):], vars)
		}
	}
	return nil, errs.Validation(fieldOperation, "unknown operation %q on %s", op, s.name)
}

func (s *Server) batch(ctx context.Context, vars Vars) (any, error) {
	items, err := vars.List("calls")
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, it := range items {
		m, _ := it.(map[string]any)
		op, _ := m[fieldOperation].(string)
		if op == "" || op == OpBatch {
			out[i] = map[string]any{fieldError: encodeError(errs.Validation(fieldOperation, "invalid batch item %d", i))}
			continue
		}
		v, _ := m[fieldVariables].(map[string]any)
		if v == nil {
			v = map[string]any{}
		}
		data, err := s.dispatch(ctx, op, Vars(v))
		if err != nil {
			out[i] = map[string]any{fieldError: encodeError(err)}
			continue
		}
		out[i] = map[string]any{fieldData: data}
	}
	return out, nil
}

// Call implements CallServer.
func (s *Server) Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 {
			ctx = reqid.WithID(ctx, v[0])
		}
	}
	op, vars, err := decodeRequest(in)
	var data any
	if err == nil {
		data, err = s.Dispatch(ctx, op, vars)
	}
	var out *structpb.Struct
	if err == nil {
		out, err = encodeResponse(data)
	}
	eventbus.Publish(ctx, events.RPCServerFinish{
		Service:   s.name,
		Operation: op,
		Code:      statusCode(err),
		Err:       err,
		Duration:  time.Since(start),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// Register attaches s to a gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CallServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CallServer).Call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CallServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aegraph/v1/subgraph.proto",
}
