package assemble

import (
	"context"
	"fmt"

	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

// Assembler executes validated operations against a schema.
type Assembler struct {
	runtime Runtime
	schema  *schema.Schema
}

func New(runtime Runtime, s *schema.Schema) *Assembler {
	return &Assembler{runtime: runtime, schema: s}
}

// pending marks a response slot whose async field has not completed yet.
type pending struct{}

type asyncTask struct {
	task   AsyncResolveTask
	path   Path
	typ    *schema.TypeRef
	fields []*language.Field
}

// state is the per-operation bookkeeping.
type state struct {
	ctx       context.Context
	runtime   Runtime
	schema    *schema.Schema
	document  *language.QueryDocument
	variables map[string]any
	queue     []asyncTask
	errors    []GraphQLError
	nulled    map[string]struct{} // top level fields nulled by a Non-Null violation
}

// Operation selects the operation called name, or the only one when name
// is empty.
func Operation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, errs.Validation("operationName", "must be set when the document has %d operations", len(doc.Operations))
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, errs.Validation("operationName", "unknown operation %q", name)
}

// Execute runs the operation called operationName of doc. rootValue is the
// source passed to root fields.
func (a *Assembler) Execute(ctx context.Context, doc *language.QueryDocument, operationName string, variables map[string]any, rootValue any) *Result {
	op, err := Operation(doc, operationName)
	if err != nil {
		return Failed(err)
	}
	coerced, err := coerceVariableValues(a.schema, op, variables)
	if err != nil {
		return Failed(err)
	}

	var root *schema.Type
	switch op.Operation {
	case language.Query:
		root = a.schema.GetQueryType()
	case language.Mutation:
		root = a.schema.GetMutationType()
	default:
		return Failed(errs.Validation("operation", "%s operations are not supported", op.Operation))
	}
	if root == nil {
		return Failed(errs.Validation("operation", "schema has no %s type", op.Operation))
	}

	st := &state{
		ctx:       ctx,
		runtime:   a.runtime,
		schema:    a.schema,
		document:  doc,
		variables: coerced,
		nulled:    map[string]struct{}{},
	}
	data := st.executeSelectionSet(root, op.SelectionSet, rootValue, nil)
	if data == nil {
		data = map[string]any{}
	}
	for len(st.queue) > 0 {
		st.flush(data)
	}
	return &Result{Data: data, Errors: st.errors}
}

// flush resolves the queued tasks of one depth. Completing them may queue
// the tasks of the next depth.
func (st *state) flush(data map[string]any) {
	live := make([]asyncTask, 0, len(st.queue))
	for _, t := range st.queue {
		if !st.isNulled(t.path) {
			live = append(live, t)
		}
	}
	st.queue = nil
	if len(live) == 0 {
		return
	}

	tasks := make([]AsyncResolveTask, len(live))
	for i, t := range live {
		tasks[i] = t.task
	}
	results := st.runtime.BatchResolveAsync(st.ctx, tasks)
	for i, t := range live {
		var res AsyncResolveResult
		if i < len(results) {
			res = results[i]
		} else {
			res.Error = fmt.Errorf("runtime returned %d results for %d tasks", len(results), len(tasks))
		}
		st.completeAsync(t, res, data)
	}
}

func (st *state) completeAsync(t asyncTask, res AsyncResolveResult, data map[string]any) {
	if st.isNulled(t.path) {
		return
	}
	var completed any
	if res.Error != nil {
		st.errors = append(st.errors, locate(res.Error, t.path))
	} else {
		completed = st.completeValue(t.typ, t.fields, res.Value, t.path)
	}
	if isNullish(completed) && schema.IsNonNull(t.typ) {
		st.nullTopLevel(t.path, data)
		return
	}
	if isNullish(completed) {
		completed = nil
	}
	setValueAtPath(data, t.path, completed)
}

func (st *state) executeSelectionSet(objectType *schema.Type, set language.SelectionSet, source any, path Path) map[string]any {
	out := make(map[string]any)
	for _, group := range st.collectFields(objectType, set) {
		fieldPath := path.With(group.responseName)
		first := group.fields[0]
		if first.Name == "__typename" {
			out[group.responseName] = objectType.Name
			continue
		}

		def := objectType.Field(first.Name)
		if def == nil {
			st.errors = append(st.errors, GraphQLError{
				Message: fmt.Sprintf("Cannot query field %q on type %q", first.Name, objectType.Name),
				Path:    fieldPath,
			})
			continue
		}
		v := st.executeField(objectType, def, group.fields, source, fieldPath)
		if isNullish(v) {
			if schema.IsNonNull(def.Type) && len(path) > 0 {
				return nil
			}
			v = nil
		}
		out[group.responseName] = v
	}
	return out
}

func (st *state) executeField(objectType *schema.Type, def *schema.Field, fields []*language.Field, source any, path Path) any {
	args, ok := st.coerceArgumentValues(def, fields[0].Arguments, path)
	if !ok {
		return nil
	}
	if def.Async {
		st.queue = append(st.queue, asyncTask{
			task: AsyncResolveTask{
				ObjectType: objectType.Name,
				Field:      def.Name,
				Source:     source,
				Args:       args,
				Path:       path,
			},
			path:   path,
			typ:    def.Type,
			fields: fields,
		})
		return pending{}
	}
	v, err := st.runtime.ResolveSync(st.ctx, objectType.Name, def.Name, source, args)
	if err != nil {
		st.errors = append(st.errors, locate(err, path))
		return nil
	}
	return st.completeValue(def.Type, fields, v, path)
}

func (st *state) nonNullViolation(path Path) {
	st.errors = append(st.errors, GraphQLError{
		Message: fmt.Sprintf("Cannot return null for non-nullable field %s", path),
		Path:    path,
	})
}

func (st *state) hasErrorAt(path Path) bool {
	for _, e := range st.errors {
		if e.Path.Equal(path) {
			return true
		}
	}
	return false
}

// nullTopLevel nulls the top level field containing path and drops the
// async work queued below it.
func (st *state) nullTopLevel(path Path, data map[string]any) {
	if len(path) == 0 {
		return
	}
	name, _ := path[0].(string)
	data[name] = nil
	st.nulled[name] = struct{}{}
}

func (st *state) isNulled(path Path) bool {
	if len(path) == 0 || len(st.nulled) == 0 {
		return false
	}
	name, _ := path[0].(string)
	_, ok := st.nulled[name]
	return ok
}
