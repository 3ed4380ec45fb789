// Package errors provides structured error types for the jsbridge library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: property path, Go/JS type names, the
// engine stack and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseProperty, errors.KindNotAnObject).
//		Path("config", "port").
//		JSType("number").
//		Detail("cannot set property on a primitive").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotCallable(errors.PhaseCall, "number")
//	err := errors.EngineException(errors.PhaseEvaluate, "ReferenceError: x is not defined", nil)
//
// Sentinels match by Kind only, so callers can test categories across phases:
//
//	if errors.Is(err, errors.ErrNotCallable) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
