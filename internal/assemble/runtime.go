package assemble

import "context"

// Runtime resolves fields for the assembler.
//
//   - ResolveSync is only called for fields with Async == false.
//   - BatchResolveAsync is called once per depth with every live async task
//     of that depth. It must return one result per task, in task order, and
//     a failure of one task must not fail the others.
//   - SerializeLeafValue turns a scalar or enum value into a JSON-safe value.
//
// objectType is the GraphQL type that declares the field ("Query" and
// "Mutation" for root fields); source is the parent value (nil at the root);
// args are already coerced. Implementations must not mutate source or args.
type Runtime interface {
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type AsyncResolveTask struct {
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	// Path is the response path of the field.
	Path Path
}

type AsyncResolveResult struct {
	Value any
	Error error
}
