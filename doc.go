// Package samruntime is the runtime support layer for samlang compiled programs.
//
// A compiled program is a core WebAssembly module that reads and writes the
// runtime's cell layout directly. This library supplies what the program cannot
// generate itself: heap allocation, the array/string representation, integer
// and text conversion, output, fatal termination, and the entry protocol that
// hands command-line arguments to the program.
//
// # Architecture Overview
//
//	samruntime/          Root package with the linear memory contract
//	├── layout/          Cell header layout shared by every primitive
//	├── memory/          Go-backed and wazero-backed linear memories
//	├── heap/            Allocator adapter (lazy init, collected or arena mode)
//	├── cell/            Array/string cells: make, length, get, set
//	├── builtins/        intToString, stringToInt, concat, println, panic
//	├── entry/           Argument marshaling and entry point invocation
//	├── host/            wazero host module exposing the builtins to guests
//	├── runtime/         Load, validate and run compiled programs
//	├── config/          TOML configuration
//	└── errors/          Structured error types
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.LoadFile(ctx, "program.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	status, err := mod.Run(ctx, []string{"program.wasm", "42"})
//
// # Cell Layout
//
// Arrays and strings share one layout: a header (optional tag word, then the
// element count) followed by count elements of one word each. Strings hold one
// code point per element. The default layout is the one the samlang wasm
// backend emits:
//
//	offset 0   tag   (i32, 1 for runtime cells, 0 for static data)
//	offset 4   count (i32)
//	offset 8   elements...
//
// The header can instead sit before element 0, and the word can be 64 bits;
// see package layout. A build picks one layout and the compiler must agree.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. Each Run gets its own guest
// instance and heap. A single guest heap is not thread-safe.
package samruntime
