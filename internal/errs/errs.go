// Package errs defines the error taxonomy shared by the subgraphs, the typed
// client and the gateway.
//
// Four classes exist:
//   - ValidationError: the input was rejected before any remote call was made.
//   - NotFoundError: the owning service has no entity for the requested id.
//   - TransportError: the remote call itself failed (connection, timeout,
//     server fault). It fails every caller that shared the call.
//   - PartialResultError: a nested field failed while its parent succeeded.
//
// Every class carries a stable code that is exposed to GraphQL clients under
// extensions.code and to RPC peers through the gRPC status code.
package errs

import (
	"errors"
	"fmt"
)

// Codes reported under GraphQL extensions.code.
const (
	CodeValidation    = "VALIDATION"
	CodeNotFound      = "NOT_FOUND"
	CodeTransport     = "TRANSPORT"
	CodePartialResult = "PARTIAL_RESULT"
	CodeInternal      = "INTERNAL"
)

// ValidationError reports input rejected before it reached a remote service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that an entity does not exist at its owner.
// Key names the lookup when it was not by id (e.g. "username=alice").
type NotFoundError struct {
	Kind string
	ID   int64
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s with %s not found", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s with ID %d not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for an id lookup.
func NotFound(kind string, id int64) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// NotFoundBy builds a NotFoundError for a lookup by an arbitrary key.
func NotFoundBy(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// TransportError wraps a failed remote call.
type TransportError struct {
	Service   string
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError unless it is already classified.
func Transport(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	if Code(err) != CodeInternal {
		return err
	}
	return &TransportError{Service: service, Operation: operation, Err: err}
}

// PartialResultError marks the failure of a non-root field. The field is
// reported as null and the rest of the response is kept.
type PartialResultError struct {
	Field string
	Err   error
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *PartialResultError) Unwrap() error { return e.Err }

// Partial wraps err as a PartialResultError for field.
func Partial(field string, err error) error {
	if err == nil {
		return nil
	}
	return &PartialResultError{Field: field, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func IsPartial(err error) bool {
	var target *PartialResultError
	return errors.As(err, &target)
}

// Code classifies err. The outermost class wins, so a PartialResultError
// wrapping a NotFoundError reports PARTIAL_RESULT.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsPartial(err):
		return CodePartialResult
	case IsValidation(err):
		return CodeValidation
	case IsNotFound(err):
		return CodeNotFound
	case IsTransport(err):
		return CodeTransport
	default:
		return CodeInternal
	}
}

// Extensions returns the GraphQL error extensions for err.
func Extensions(err error) map[string]any {
	if err == nil {
		return nil
	}
	ext := map[string]any{"code": Code(err)}
	var pe *PartialResultError
	if errors.As(err, &pe) {
		if cause := Code(pe.Err); cause != "" {
			ext["cause"] = cause
		}
	}
	var te *TransportError
	if errors.As(err, &te) {
		ext["service"] = te.Service
		ext["operation"] = te.Operation
	}
	return ext
}
