package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hanpama/aegraph/internal/errs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldOperation = "operation"
	fieldVariables = "variables"
	fieldData      = "data"
	fieldError     = "error"
)

// normalize converts v to the plain JSON value space accepted by structpb.
// Values implementing json.Marshaler (entities) are flattened on the way.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeRequest(operation string, vars map[string]any) (*structpb.Struct, error) {
	nv, err := normalize(vars)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	if nv == nil {
		nv = map[string]any{}
	}
	return structpb.NewStruct(map[string]any{
		fieldOperation: operation,
		fieldVariables: nv,
	})
}

func decodeRequest(in *structpb.Struct) (string, Vars, error) {
	m := in.AsMap()
	op, _ := m[fieldOperation].(string)
	if op == "" {
		return "", nil, errs.Validation(fieldOperation, "is required")
	}
	vars, _ := m[fieldVariables].(map[string]any)
	if vars == nil {
		vars = map[string]any{}
	}
	return op, Vars(vars), nil
}

func encodeResponse(data any) (*structpb.Struct, error) {
	nv, err := normalize(data)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return structpb.NewStruct(map[string]any{fieldData: nv})
}

func decodeResponse(out *structpb.Struct) any {
	if out == nil {
		return nil
	}
	return out.AsMap()[fieldData]
}

// encodeError flattens a classified error into its wire form.
func encodeError(err error) map[string]any {
	m := map[string]any{"code": errs.Code(err), "message": err.Error()}
	var nf *errs.NotFoundError
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &nf):
		m["kind"] = nf.Kind
		m["id"] = float64(nf.ID)
		m["key"] = nf.Key
	case errors.As(err, &ve):
		m["field"] = ve.Field
		m["message"] = ve.Message
	}
	return m
}

// decodeError rebuilds an error from its wire form. Only validation and not
// found outcomes keep their class; everything else is a plain error that the
// client reports as a transport failure.
func decodeError(m map[string]any) error {
	code, _ := m["code"].(string)
	msg, _ := m["message"].(string)
	switch code {
	case errs.CodeNotFound:
		kind, _ := m["kind"].(string)
		key, _ := m["key"].(string)
		id, _ := m["id"].(float64)
		return &errs.NotFoundError{Kind: kind, ID: int64(id), Key: key}
	case errs.CodeValidation:
		field, _ := m["field"].(string)
		return &errs.ValidationError{Field: field, Message: msg}
	}
	if msg == "" {
		msg = "remote operation failed"
	}
	return errors.New(msg)
}

func statusCode(err error) codes.Code {
	switch errs.Code(err) {
	case "":
		return codes.OK
	case errs.CodeNotFound:
		return codes.NotFound
	case errs.CodeValidation:
		return codes.InvalidArgument
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Internal
}

// toStatus converts a handler error into a gRPC status error that carries the
// wire form of the error as a detail.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(interface{ GRPCStatus() *status.Status }); ok {
		return err
	}
	st := status.New(statusCode(err), err.Error())
	detail, derr := structpb.NewStruct(encodeError(err))
	if derr != nil {
		return st.Err()
	}
	if withDetail, werr := st.WithDetails(detail); werr == nil {
		st = withDetail
	}
	return st.Err()
}

// fromStatus is the client side of toStatus.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		if s, ok := d.(*structpb.Struct); ok {
			return decodeError(s.AsMap())
		}
	}
	switch st.Code() {
	case codes.NotFound:
		return &errs.NotFoundError{Kind: "entity", Key: st.Message()}
	case codes.InvalidArgument:
		return &errs.ValidationError{Message: st.Message()}
	}
	return err
}
