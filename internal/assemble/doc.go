// Package assemble builds GraphQL responses breadth first.
//
// Fields are either projected from their parent value (sync) or resolved
// remotely (async), as recorded by schema.Field.Async. At each depth the
// assembler expands every sync field immediately, collects the async fields
// it meets, and hands them to Runtime.BatchResolveAsync in a single call.
// Objects returned by that call are expanded in turn and their async fields
// form the next depth. A response whose async nesting is d therefore costs
// exactly d batch calls, which is what lets the runtime coalesce lookups of
// one depth into one remote call per owner.
//
// Values are completed per the GraphQL rules for lists, leaves and objects.
// A null in a Non-Null position nulls the top level field that contains it,
// and async work queued under that field is dropped. Errors are located by
// response path and carry the extensions of their error class, so one failed
// field never discards its siblings.
//
// Abstract types (interfaces and unions) are not supported.
package assemble
