package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	reqid "github.com/hanpama/aegraph/internal/reqid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Options configures GRPCTransport.
//
// Defaults:
//   - MaxConnsPerEndpoint: 2
//   - RPCTimeout:          3s (used only if the context has no deadline)
//   - DialOptions:         insecure credentials
type Options struct {
	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration
	DialOptions         []grpc.DialOption
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RPCTimeout:          3 * time.Second,
	}
}

func WithMaxConnsPerEndpoint(n int) Option  { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option { return func(o *Options) { o.RPCTimeout = d } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}

// GRPCTransport delivers requests over gRPC with per-endpoint connection
// pooling and a default deadline.
type GRPCTransport struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // key: target
	closed atomic.Bool
}

func NewGRPCTransport(opts ...Option) *GRPCTransport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &GRPCTransport{opts: o, pools: make(map[string]*connPool)}
}

var _ Transport = (*GRPCTransport)(nil)

func (t *GRPCTransport) Invoke(ctx context.Context, req Request) (any, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("rpc: transport closed")
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}
	if id, ok := reqid.FromContext(ctx); ok {
		if md, _ := metadata.FromOutgoingContext(ctx); len(md.Get(RequestIDHeader)) == 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDHeader, id)
		}
	}

	in, err := encodeRequest(req.Operation, req.Variables)
	if err != nil {
		return nil, err
	}
	cc, err := t.getConn(req.Target)
	if err != nil {
		return nil, err
	}
	defer t.returnConn(req.Target, cc)

	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, callMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return decodeResponse(out), nil
}

func (t *GRPCTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

type connPool struct {
	target string
	opts   *Options
	conns  chan *grpc.ClientConn
	closed atomic.Bool
}

func newConnPool(target string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{target: target, opts: opts, conns: make(chan *grpc.ClientConn, n)}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("rpc: pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.target, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if p.closed.Load() {
		_ = cc.Close()
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (t *GRPCTransport) getConn(target string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[target]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		pool = t.pools[target]
		if pool == nil {
			pool = newConnPool(target, t.opts)
			t.pools[target] = pool
		}
		t.mu.Unlock()
	}
	return pool.get()
}

func (t *GRPCTransport) returnConn(target string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[target]
	t.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
