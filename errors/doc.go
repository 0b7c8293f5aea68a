// Package errors provides structured error types for the samlang runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the offending address or value, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCell, errors.KindOutOfBounds).
//		Path("args", "1").
//		Address(0x10008).
//		Detail("element read past end of memory").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AllocationFailed(errors.PhaseAlloc, 64)
//	err := errors.InvalidInput(errors.PhaseConfig, "word size must be 4 or 8")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
