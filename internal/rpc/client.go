package rpc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hanpama/aegraph/internal/errs"
	eventbus "github.com/hanpama/aegraph/internal/eventbus"
	events "github.com/hanpama/aegraph/internal/events"
)

// Client issues named operations against services located through a
// Directory. It keeps no state across calls besides the transport's pools.
type Client struct {
	transport Transport
	directory Directory
	seq       atomic.Uint64
}

func NewClient(t Transport, d Directory) *Client {
	return &Client{transport: t, directory: d}
}

// Call runs operation on service. Validation and not found outcomes reported
// by the service are returned as such; any other failure is wrapped in an
// errs.TransportError.
func (c *Client) Call(ctx context.Context, service, operation string, vars map[string]any) (any, error) {
	target, err := c.directory.Address(ctx, service)
	if err != nil {
		return nil, errs.Transport(service, operation, err)
	}
	id := c.seq.Add(1)
	eventbus.Publish(ctx, events.RPCClientStart{CallID: id, Service: service, Operation: operation, Target: target})
	start := time.Now()
	res, err := c.transport.Invoke(ctx, Request{
		Service:   service,
		Target:    target,
		Operation: operation,
		Variables: vars,
	})
	eventbus.Publish(ctx, events.RPCClientFinish{
		CallID:    id,
		Service:   service,
		Operation: operation,
		Target:    target,
		Code:      statusCode(err),
		Err:       err,
		Duration:  time.Since(start),
	})
	if err != nil {
		return nil, errs.Transport(service, operation, err)
	}
	return res, nil
}

// BatchCall is one item of a batch.
type BatchCall struct {
	Operation string
	Variables map[string]any
}

// BatchResult is the outcome of one BatchCall.
type BatchResult struct {
	Data any
	Err  error
}

// Batch sends calls to service as a single batch operation. The returned
// error is set only when the batch as a whole failed; item failures are
// reported per result.
func (c *Client) Batch(ctx context.Context, service string, calls []BatchCall) ([]BatchResult, error) {
	items := make([]any, len(calls))
	for i, bc := range calls {
		vars := bc.Variables
		if vars == nil {
			vars = map[string]any{}
		}
		items[i] = map[string]any{fieldOperation: bc.Operation, fieldVariables: vars}
	}
	res, err := c.Call(ctx, service, OpBatch, map[string]any{"calls": items})
	if err != nil {
		return nil, err
	}
	list, ok := res.([]any)
	if !ok || len(list) != len(calls) {
		return nil, errs.Transport(service, OpBatch, fmt.Errorf("expected %d results, got %T of length %d", len(calls), res, len(list)))
	}
	out := make([]BatchResult, len(calls))
	for i, it := range list {
		m, _ := it.(map[string]any)
		if e, ok := m[fieldError].(map[string]any); ok {
			out[i].Err = errs.Transport(service, calls[i].Operation, decodeError(e))
			continue
		}
		out[i].Data = m[fieldData]
	}
	return out, nil
}
