package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/hanpama/aegraph/internal/errs"
)

// Request is one GraphQL operation of a request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// body holds the operations of one HTTP request. batched is set when the
// client sent a JSON array and expects an array back.
type body struct {
	items   []Request
	batched bool
}

var errBodyTooLarge = errors.New("body too large")

func parse(r *http.Request, maxBytes int64) (body, error) {
	if r.Method == http.MethodGet {
		return parseQueryString(r)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		media, _, err := mime.ParseMediaType(ct)
		if err != nil || media != "application/json" {
			return body{}, errs.Validation("Content-Type", "unsupported %q", ct)
		}
	}
	defer r.Body.Close()

	reader := io.Reader(r.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(r.Body, maxBytes+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return body{}, errs.Validation("body", "read failed: %v", err)
	}
	if maxBytes > 0 && int64(len(raw)) > maxBytes {
		return body{}, errBodyTooLarge
	}

	if len(raw) > 0 && raw[0] == '[' {
		var items []Request
		if err := json.Unmarshal(raw, &items); err != nil {
			return body{}, errs.Validation("body", "invalid JSON")
		}
		if len(items) == 0 {
			return body{}, errs.Validation("body", "empty batch")
		}
		for i := range items {
			if err := items[i].check(); err != nil {
				return body{}, err
			}
		}
		return body{items: items, batched: true}, nil
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return body{}, errs.Validation("body", "invalid JSON")
	}
	if err := req.check(); err != nil {
		return body{}, err
	}
	return body{items: []Request{req}}, nil
}

func parseQueryString(r *http.Request) (body, error) {
	q := r.URL.Query()
	req := Request{Query: q.Get("query"), OperationName: q.Get("operationName")}
	if v := q.Get("variables"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
			return body{}, errs.Validation("variables", "invalid JSON")
		}
	}
	if err := req.check(); err != nil {
		return body{}, err
	}
	return body{items: []Request{req}}, nil
}

func (r *Request) check() error {
	if r.Query == "" {
		return errs.Validation("query", "missing")
	}
	if r.Variables == nil {
		r.Variables = map[string]any{}
	}
	return nil
}
