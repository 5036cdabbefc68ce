package events

import (
	"net/http"
	"time"
)

// HTTPStart is published when the gateway endpoint receives a request.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is published after the response is written. Operations counts
// the GraphQL operations of the body; zero when it was rejected.
type HTTPFinish struct {
	Request    *http.Request
	Status     int
	Operations int
	Duration   time.Duration
}

// GraphQLStart is published once per operation, valid or not.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

// Outcomes of a GraphQL operation.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

// GraphQLFinish is published when the response of an operation is complete.
// Outcome is OutcomePartial when data came back alongside errors and
// OutcomeInvalid when the document was rejected before any call.
type GraphQLFinish struct {
	OperationName string
	OperationType string
	Outcome       string
	Errors        []error
	Duration      time.Duration
}

// RootDispatch is published when the gateway has sent the root fields owned
// by one service.
type RootDispatch struct {
	Service       string
	OperationType string
	Fields        []string
	Err           error
	Duration      time.Duration
}
