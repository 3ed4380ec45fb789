// Package runtime is the high-level API over the engine ABI.
//
// A Context owns one engine global context. Every script value handed to
// Go is a *Value: a protected handle that must be released. Host functions
// are Go closures registered with NewFunction; the engine holds only an
// 8-byte carrier with a registry id, and the closure is dropped when the
// engine finalizes the function object.
//
// # Ownership
//
//	Evaluate, Get, Call, ...   return owned Values; the caller releases them
//	Func this and args         are borrowed for the duration of the call
//	Func return value          is consumed; return a Clone to keep a copy
//	Context.Exception()        is owned by the context until a call not made on it
//
// A Value dropped without Release is unprotected on a later call into its
// context after the Go collector finds it.
//
// # Errors
//
// A script exception surfaces as an *errors.Error of kind
// engine_exception carrying the message, stack and cause chain. An error
// returned by a Func is thrown into script as an Error; if script lets it
// propagate back out of Evaluate or Call, the original Go error is
// returned, so errors.Is and == keep working across the round trip.
//
// # Conversions
//
// ValueOf maps Go values into script values and Export maps them back.
// ToArray and ToObject fail closed: if reading any element raises a script
// exception the result is empty rather than partial.
package runtime
