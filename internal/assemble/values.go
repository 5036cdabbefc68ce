package assemble

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

func coerceVariableValues(s *schema.Schema, op *language.OperationDefinition, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		name := def.Variable
		v, ok := values[name]
		if !ok {
			switch {
			case def.DefaultValue != nil:
				v = valueFromAST(def.DefaultValue, nil)
			case def.Type.NonNull:
				return nil, errs.Validation("$"+name, "required variable of type %s was not provided", def.Type)
			default:
				continue
			}
		}
		cv, err := coerceValue(s, v, schema.TypeRefFromAST(def.Type))
		if err != nil {
			return nil, errs.Validation("$"+name, "%v", err)
		}
		out[name] = cv
	}
	return out, nil
}

// coerceArgumentValues coerces the arguments of one field. ok is false when
// an argument could not be coerced; the error is recorded at path.
func (st *state) coerceArgumentValues(def *schema.Field, args language.ArgumentList, path Path) (map[string]any, bool) {
	out := make(map[string]any, len(def.Arguments))
	for _, ad := range def.Arguments {
		var (
			v       any
			present bool
		)
		if arg := args.ForName(ad.Name); arg != nil {
			if arg.Value.Kind == language.Variable {
				v, present = st.variables[arg.Value.Raw]
			} else {
				v, present = valueFromAST(arg.Value, st.variables), true
			}
		}
		if !present {
			if ad.DefaultValue == nil {
				if schema.IsNonNull(ad.Type) {
					st.errors = append(st.errors, locate(errs.Validation(ad.Name, "required argument was not provided"), path))
					return nil, false
				}
				continue
			}
			v = ad.DefaultValue
		}
		cv, err := coerceValue(st.schema, v, ad.Type)
		if err != nil {
			st.errors = append(st.errors, locate(errs.Validation(ad.Name, "%v", err), path))
			return nil, false
		}
		out[ad.Name] = cv
	}
	return out, true
}

// valueFromAST converts a literal, substituting variables.
func valueFromAST(v *language.Value, variables map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		return variables[v.Raw]
	case language.IntValue:
		n, _ := strconv.ParseInt(v.Raw, 10, 64)
		return n
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = valueFromAST(c.Value, variables)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			out[c.Name] = valueFromAST(c.Value, variables)
		}
		return out
	}
	return nil
}

func coerceValue(s *schema.Schema, value any, typ *schema.TypeRef) (any, error) {
	if schema.IsNonNull(typ) {
		if value == nil {
			return nil, fmt.Errorf("null is not allowed for %s", typ)
		}
		return coerceValue(s, value, schema.Unwrap(typ))
	}
	if value == nil {
		return nil, nil
	}
	if schema.IsList(typ) {
		inner := schema.Unwrap(typ)
		list, ok := value.([]any)
		if !ok {
			item, err := coerceValue(s, value, inner)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(list))
		for i, item := range list {
			cv, err := coerceValue(s, item, inner)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	}

	name := schema.GetNamedType(typ)
	switch name {
	case "Int":
		return coerceInt(value)
	case "Float":
		return coerceFloat(value)
	case "String":
		if v, ok := value.(string); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot use %v (%T) as String", value, value)
	case "Boolean":
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot use %v (%T) as Boolean", value, value)
	case "ID":
		return coerceID(value)
	}
	if t := s.Types[name]; t != nil && t.Kind == schema.TypeKindInputObject {
		return coerceInputObject(s, t, value)
	}
	return value, nil
}

func coerceInputObject(s *schema.Schema, t *schema.Type, value any) (any, error) {
	in, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot use %T as %s", value, t.Name)
	}
	for k := range in {
		if t.InputField(k) == nil {
			return nil, fmt.Errorf("unknown field %s.%s", t.Name, k)
		}
	}
	out := make(map[string]any, len(in))
	for _, f := range t.InputFields {
		v, ok := in[f.Name]
		if !ok {
			if f.DefaultValue != nil {
				out[f.Name] = f.DefaultValue
			} else if schema.IsNonNull(f.Type) {
				return nil, fmt.Errorf("%s.%s is required", t.Name, f.Name)
			}
			continue
		}
		cv, err := coerceValue(s, v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
		}
		out[f.Name] = cv
	}
	return out, nil
}

func coerceInt(value any) (any, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("cannot use %v as Int", v)
		}
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("cannot use %s as Int", v)
		}
		n = i
	default:
		return nil, fmt.Errorf("cannot use %v (%T) as Int", value, value)
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return nil, fmt.Errorf("%d overflows Int", n)
	}
	return n, nil
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot use %s as Float", v)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot use %v (%T) as Float", value, value)
}

func coerceID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	case json.Number:
		return v.String(), nil
	}
	return nil, fmt.Errorf("cannot use %v (%T) as ID", value, value)
}
