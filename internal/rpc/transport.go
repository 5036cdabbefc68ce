// Package rpc is the typed remote operation layer between services.
//
// Every subgraph exposes a single unary gRPC method, aegraph.v1.Subgraph/Call,
// whose request carries an operation name and its variables and whose
// response carries the operation result. Payloads are google.protobuf.Struct
// values, so operations are added without regenerating any stubs.
//
// Outcomes are structured: a handler that reports errs.NotFoundError or
// errs.ValidationError reaches the caller as the same error class. Any other
// failure (connection, timeout, server fault) reaches the caller as an
// errs.TransportError. Nothing is retried.
package rpc

import "context"

// Request is one remote operation addressed to one service.
type Request struct {
	Service   string
	Target    string
	Operation string
	Variables map[string]any
}

// Transport delivers a Request to its target and returns the decoded result.
//
// Implementations MUST be safe for concurrent use. The result is in wire form:
// objects are map[string]any, lists are []any and numbers are float64.
//
// Provided implementations:
//   - GRPCTransport: pooled gRPC client with default deadlines
//   - LocalTransport: in-process delivery through the same codec
//   - MockTransport: scripted responses with a call log for tests
type Transport interface {
	Invoke(ctx context.Context, req Request) (any, error)
}
