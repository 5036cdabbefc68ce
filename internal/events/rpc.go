package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// RPCClientStart is emitted before a subgraph operation is sent.
// CallID pairs it with the matching RPCClientFinish.
type RPCClientStart struct {
	CallID    uint64
	Service   string
	Operation string
	Target    string
}

// RPCClientFinish is emitted after a subgraph operation returns.
type RPCClientFinish struct {
	CallID    uint64
	Service   string
	Operation string
	Target    string
	Code      codes.Code
	Err       error
	Duration  time.Duration
}

// RPCServerFinish is emitted by a subgraph after it handled an operation.
type RPCServerFinish struct {
	Service   string
	Operation string
	Code      codes.Code
	Err       error
	Duration  time.Duration
}
