package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/host"
)

// Module is a compiled program validated against the runtime's builtins.
type Module struct {
	runtime  *Runtime
	compiled wazero.CompiledModule
	name     string
	entry    api.FunctionDefinition
	// memory provides env.memory when the program imports it; nil otherwise.
	memory wazero.CompiledModule
	runs   atomic.Uint64
}

// Import is one function or memory the program imports.
type Import struct {
	Module  string
	Name    string
	Kind    string // "func" or "memory"
	Params  []api.ValueType
	Results []api.ValueType
}

// Export is one item the program exports.
type Export struct {
	Name string
	Kind string // "func" or "memory"
}

// LoadWASM compiles a core wasm module. Every function import must be a
// builtin with a matching signature, the only memory import allowed is
// env.memory, and the configured entry export must take one i32 argument and
// return nothing or one integer.
func (r *Runtime) LoadWASM(ctx context.Context, wasm []byte) (*Module, error) {
	return r.load(ctx, wasm, "program")
}

// LoadFile reads and compiles the module at path.
func (r *Runtime) LoadFile(ctx context.Context, path string) (*Module, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "read "+path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return r.load(ctx, wasm, name)
}

func (r *Runtime) load(ctx context.Context, wasm []byte, name string) (*Module, error) {
	compiled, err := r.wz.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	if err := r.checkImports(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	entry, err := r.checkEntry(compiled)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	var provider wazero.CompiledModule
	if mems := compiled.ImportedMemories(); len(mems) == 1 {
		provider, err = r.compileMemoryProvider(ctx, mems[0])
		if err != nil {
			_ = compiled.Close(ctx)
			return nil, errors.Load("compile env.memory provider", err)
		}
	}

	Logger().Debug("module loaded",
		zap.String("name", name),
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.String("entry", entry.Name()),
		zap.Bool("imports_memory", provider != nil))

	return &Module{
		runtime:  r,
		compiled: compiled,
		name:     name,
		entry:    entry,
		memory:   provider,
	}, nil
}

func (r *Runtime) checkImports(compiled wazero.CompiledModule) error {
	var missing []string
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if mod != host.ModuleName {
			missing = append(missing, mod+"#"+name)
			continue
		}
		sig, ok := r.binder.Signature(name)
		if !ok {
			missing = append(missing, mod+"#"+name)
			continue
		}
		if !sameTypes(def.ParamTypes(), sig.Params) || !sameTypes(def.ResultTypes(), sig.Results) {
			return errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
				Path(mod, name).
				Detail("imported as %s, provided as %s (%s)",
					typeList(def.ParamTypes(), def.ResultTypes()),
					typeList(sig.Params, sig.Results),
					sig.WIT).
				Build()
		}
	}
	for _, def := range compiled.ImportedMemories() {
		mod, name, _ := def.Import()
		if mod != MemoryImportModule || name != MemoryImportName {
			missing = append(missing, mod+"#"+name)
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func (r *Runtime) checkEntry(compiled wazero.CompiledModule) (api.FunctionDefinition, error) {
	name := r.cfg.Entry.Export
	def, ok := compiled.ExportedFunctions()[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "entry export", name)
	}
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(params) != 1 || params[0] != api.ValueTypeI32 || len(results) > 1 ||
		(len(results) == 1 && results[0] != api.ValueTypeI32 && results[0] != api.ValueTypeI64) {
		return nil, errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
			Path(name).
			Detail("entry must be (i32) or (i32) -> i32/i64, got %s", typeList(params, results)).
			Build()
	}
	return def, nil
}

func (m *Module) Name() string { return m.name }

// Entry returns the name of the entry export.
func (m *Module) Entry() string { return m.entry.Name() }

// Imports lists the program's function imports followed by its memory
// import, if any.
func (m *Module) Imports() []Import {
	defs := m.compiled.ImportedFunctions()
	mems := m.compiled.ImportedMemories()
	out := make([]Import, 0, len(defs)+len(mems))
	for _, def := range defs {
		mod, name, _ := def.Import()
		out = append(out, Import{
			Module:  mod,
			Name:    name,
			Kind:    "func",
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	for _, def := range mems {
		mod, name, _ := def.Import()
		out = append(out, Import{Module: mod, Name: name, Kind: "memory"})
	}
	return out
}

// Exports lists exported functions and memories sorted by name.
func (m *Module) Exports() []Export {
	var out []Export
	for name := range m.compiled.ExportedFunctions() {
		out = append(out, Export{Name: name, Kind: "func"})
	}
	for name := range m.compiled.ExportedMemories() {
		out = append(out, Export{Name: name, Kind: "memory"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Signatures returns the builtins the runtime provides.
func (m *Module) Signatures() []host.Signature {
	return m.runtime.binder.Signatures()
}

// Run instantiates the program, runs its entry with argv and closes the
// instance. It returns the program's exit status.
func (m *Module) Run(ctx context.Context, argv []string) (int, error) {
	inst, err := m.Instantiate(ctx)
	if err != nil {
		if code, ok := exitCode(err); ok {
			// the start function terminated the program
			return code, nil
		}
		return 1, err
	}
	defer inst.Close(ctx)
	return inst.Run(ctx, argv)
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	if m.memory != nil {
		_ = m.memory.Close(ctx)
	}
	return m.compiled.Close(ctx)
}

func sameTypes(a, b []api.ValueType) bool {
	return string(a) == string(b)
}

func typeList(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		s := make([]string, len(ts))
		for i, t := range ts {
			s[i] = api.ValueTypeName(t)
		}
		return strings.Join(s, ", ")
	}
	return "(" + names(params) + ") -> (" + names(results) + ")"
}
