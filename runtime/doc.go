// Package runtime loads and runs compiled samlang programs.
//
// # Quick Start
//
//	ctx := context.Background()
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
// # Loading
//
// LoadWASM and LoadFile compile a core wasm module and check it before any
// code runs:
//
//	every function import comes from the "builtins" module
//	every builtin import has the signature the runtime provides
//	the memory is defined by the module or imported as env.memory
//	the entry export takes the argument array pointer (i32)
//	the entry returns nothing, an i32, or an i64 status
//
// A missing builtin is reported as *errors.MissingImportsError.
//
// # Running
//
// Module.Run creates a fresh instance per call. The instance's heap starts
// at the end of the guest's initial memory, so static data segments are
// never overwritten. A program importing env.memory gets a fresh memory of
// the imported limits for every instance. A panic in the program, or a fatal builtin failure
// such as running out of memory, ends the run with status 1 and no error.
// Traps and other engine failures return status 1 and the error.
//
// Programs written in Go can run on the same primitives with RunNative:
//
//	status, err := rt.RunNative(ctx, func(ctx context.Context, b *builtins.Builtins, args cell.Ref) (int64, error) {
//	    msg, err := b.Store().MakeStringFromText("hello")
//	    if err != nil {
//	        return 0, err
//	    }
//	    return b.Println(msg)
//	}, os.Args)
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use; each Run has its own
// instance and heap. Instance is NOT thread-safe.
package runtime
