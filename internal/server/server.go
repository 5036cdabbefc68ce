// Package server exposes the gateway over HTTP. Every operation of a request
// body, batched or not, is executed as its own top-level request.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/hanpama/aegraph/internal/assemble"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
	"github.com/hanpama/aegraph/internal/reqid"
	"github.com/hanpama/aegraph/internal/rpc"
)

// Executor runs one GraphQL request. *gateway.Gateway implements it.
type Executor interface {
	Execute(ctx context.Context, query, operationName string, variables map[string]any) *assemble.Result
}

type Options struct {
	// Timeout bounds a request whose context has no deadline. Zero disables it.
	Timeout time.Duration
	// Pretty indents JSON responses.
	Pretty bool
	// MaxBodyBytes limits the request body. Zero means unlimited.
	MaxBodyBytes int64
	// CORSOrigins lists the allowed origins; "*" allows any. Empty disables CORS.
	CORSOrigins []string
	// MetadataHeaders are copied into the RPC metadata of every subgraph call.
	MetadataHeaders []string
	// GraphiQL serves the IDE to browsers on GET without a query.
	GraphiQL bool
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithGraphiQL(enable bool) Option    { return func(o *Options) { o.GraphiQL = enable } }

func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORSOrigins = origins }
}

func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}

// Handler serves the GraphQL endpoint.
type Handler struct {
	exec      Executor
	opt       Options
	cors      *cors
	forwarded map[string]struct{}
}

// New creates a handler running requests with exec.
func New(exec Executor, opts ...Option) *Handler {
	o := Options{Timeout: 10 * time.Second, GraphiQL: true}
	for _, f := range opts {
		f(&o)
	}
	h := &Handler{exec: exec, opt: o, cors: newCORS(o.CORSOrigins), forwarded: map[string]struct{}{}}
	for _, name := range o.MetadataHeaders {
		h.forwarded[strings.ToLower(name)] = struct{}{}
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	ctx, rid := reqid.NewContext(ctx)

	rec := &events.HTTPFinish{Request: r, Status: http.StatusOK}
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		rec.Duration = time.Since(start)
		eventbus.Publish(ctx, *rec)
	}()

	h.cors.apply(w, r)
	switch {
	case r.Method == http.MethodOptions:
		rec.Status = http.StatusNoContent
		w.WriteHeader(rec.Status)
		return
	case r.Method != http.MethodGet && r.Method != http.MethodPost:
		rec.Status = http.StatusMethodNotAllowed
		h.write(w, rec.Status, failure(errs.Validation("method", "%s is not allowed", r.Method)))
		return
	case r.Method == http.MethodGet && h.opt.GraphiQL && r.URL.Query().Get("query") == "" && acceptsHTML(r.Header.Get("Accept")):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	body, err := parse(r, h.opt.MaxBodyBytes)
	if err != nil {
		rec.Status = http.StatusBadRequest
		if err == errBodyTooLarge {
			rec.Status = http.StatusRequestEntityTooLarge
		}
		h.write(w, rec.Status, failure(err))
		return
	}
	rec.Operations = len(body.items)

	ctx = metadata.NewOutgoingContext(ctx, h.outgoing(r.Header, rid))
	results := make([]*assemble.Result, len(body.items))
	for i, it := range body.items {
		results[i] = h.exec.Execute(ctx, it.Query, it.OperationName, it.Variables)
	}
	if body.batched {
		h.write(w, rec.Status, results)
		return
	}
	h.write(w, rec.Status, results[0])
}

// outgoing builds the RPC metadata of one HTTP request.
func (h *Handler) outgoing(header http.Header, rid string) metadata.MD {
	md := metadata.MD{}
	for name, values := range header {
		key := strings.ToLower(name)
		if _, ok := h.forwarded[key]; ok {
			md[key] = values
		}
	}
	md[rpc.RequestIDHeader] = []string{rid}
	return md
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

// failure is the response of a request rejected before execution.
func failure(err error) *assemble.Result {
	return &assemble.Result{Errors: []assemble.GraphQLError{{
		Message:    err.Error(),
		Extensions: map[string]any{"code": errs.CodeValidation},
	}}}
}

func acceptsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "text/html") || part == "*/*" {
			return true
		}
	}
	return false
}
