package assemble

import (
	"errors"

	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/language"
)

// GraphQLError is a located error of the response.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// Location is a position in the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// locate turns a resolver error into a located error. An error that already
// is a GraphQLError keeps its message and extensions.
func locate(err error, path Path) GraphQLError {
	var ge GraphQLError
	if errors.As(err, &ge) {
		ge.Path = path
		return ge
	}
	return GraphQLError{Message: err.Error(), Path: path, Extensions: errs.Extensions(err)}
}

// Result is the outcome of one operation.
type Result struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// Invalid builds a result from document validation errors.
func Invalid(list language.ErrorList) *Result {
	out := &Result{Errors: make([]GraphQLError, len(list))}
	for i, e := range list {
		ge := GraphQLError{Message: e.Message, Extensions: map[string]any{"code": errs.CodeValidation}}
		for _, l := range e.Locations {
			ge.Locations = append(ge.Locations, Location{Line: l.Line, Column: l.Column})
		}
		out.Errors[i] = ge
	}
	return out
}

// Failed builds a result without data, used when execution never started.
func Failed(err error) *Result {
	return &Result{Errors: []GraphQLError{locate(err, nil)}}
}
