package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	reqid "github.com/hanpama/aegraph/internal/reqid"
	"google.golang.org/grpc/metadata"
)

// LocalTransport delivers requests to servers mounted in the same process.
// Requests and responses go through the wire codec, so handlers observe the
// same value shapes as over gRPC.
type LocalTransport struct {
	mu      sync.RWMutex
	servers map[string]CallServer
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{servers: make(map[string]CallServer)}
}

// Mount makes s reachable at target.
func (t *LocalTransport) Mount(target string, s CallServer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servers[target] = s
}

var _ Transport = (*LocalTransport)(nil)

func (t *LocalTransport) Invoke(ctx context.Context, req Request) (any, error) {
	t.mu.RLock()
	s := t.servers[req.Target]
	t.mu.RUnlock()
	if s == nil {
		return nil, fmt.Errorf("rpc: nothing mounted at %s", req.Target)
	}

	// The callee sees only what a remote peer would: outgoing metadata
	// becomes incoming metadata, and no other context values survive.
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if id, ok := reqid.FromContext(ctx); ok && len(md.Get(RequestIDHeader)) == 0 {
		md.Set(RequestIDHeader, id)
	}
	callCtx := metadata.NewIncomingContext(detach(ctx), md)

	in, err := encodeRequest(req.Operation, req.Variables)
	if err != nil {
		return nil, err
	}
	out, err := s.Call(callCtx, in)
	if err != nil {
		return nil, fromStatus(err)
	}
	return decodeResponse(out), nil
}

// detached keeps the deadline and cancellation of its parent but none of its
// values.
type detached struct{ parent context.Context }

func detach(ctx context.Context) context.Context { return detached{parent: ctx} }

func (d detached) Deadline() (deadline time.Time, ok bool) { return d.parent.Deadline() }
func (d detached) Done() <-chan struct{}                   { return d.parent.Done() }
func (d detached) Err() error                              { return d.parent.Err() }
func (d detached) Value(key any) any                       { return nil }
