// Package engine provides a handle-based script engine ABI.
//
// The API mirrors a C engine interface: every entity is an integer handle
// or a pointer into native memory, every fallible call reports failure
// through an exception out-parameter, and host classes plug in through
// hook functions that receive only handles and native pointers. It is
// implemented over goja, with strings, argument vectors and property name
// arrays living in the native heap.
//
// # Handles
//
//	ContextRef           - global context, reference counted
//	ValueRef / ObjectRef - value in one context
//	ClassRef             - host class, reference counted
//	StringRef            - native string, reference counted
//	PropertyNameArrayRef - native array of StringRefs
//
// Every ValueRef an entry point returns is a temporary. Temporaries created
// while a class hook runs are dropped when the hook returns; top-level
// temporaries are dropped by GarbageCollect or ContextSweepTemporaries.
// ValueProtect keeps a value alive past that point until the matching
// ValueUnprotect. Handle ids are never reused.
//
// # Classes
//
// A ClassDefinition supplies hooks. Objects made from a class that has a
// call or construct hook are functions:
//
//	cls := engine.ClassCreate(&engine.ClassDefinition{
//		ClassName:      "sum",
//		CallAsFunction: sumHook,
//		Finalize:       freePrivate,
//	})
//	fn := engine.ObjectMake(ctx, cls, private)
//
// ObjectGetPrivate returns the private pointer inside a hook. Finalize runs
// exactly once per object, either on the Go cleanup goroutine after the
// object becomes unreachable or synchronously when its context is released.
//
// # Threading
//
// A context must be driven from one goroutine at a time. Class and context
// tables are process-wide and safe for concurrent use, as are the string
// functions.
//
// Programming errors such as unknown handles panic with an
// errors.KindBridgeInternal error.
package engine
