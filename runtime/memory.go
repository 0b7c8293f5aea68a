package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/samlang-runtime/internal/wasmbin"
)

// Programs emitted by the samlang wasm backend import their linear memory
// instead of defining it.
const (
	MemoryImportModule = "env"
	MemoryImportName   = "memory"
)

// compileMemoryProvider builds a module exporting one memory that satisfies
// the program's memory import.
func (r *Runtime) compileMemoryProvider(ctx context.Context, def api.MemoryDefinition) (wazero.CompiledModule, error) {
	m := &wasmbin.Module{}
	var maxPages *uint32
	if n, ok := def.Max(); ok {
		maxPages = &n
	}
	m.MemoryLimits(def.Min(), maxPages)
	m.ExportMemory(MemoryImportName)
	return r.wz.CompileModule(ctx, m.Encode())
}

// withMemoryProvider routes the program's env imports to provider. Each run
// has its own provider, so runs never share or collide on the name "env".
func withMemoryProvider(ctx context.Context, provider api.Module) context.Context {
	return experimental.WithImportResolver(ctx, func(name string) api.Module {
		if name == MemoryImportModule {
			return provider
		}
		return nil
	})
}
