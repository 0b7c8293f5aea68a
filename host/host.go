// Package host exposes the runtime primitives to compiled wasm programs as
// the wazero host module "builtins".
//
// Every guest module gets its own Session (heap, cell store and builtins
// over the guest's linear memory). Sessions are created on the guest's first
// builtin call, which may come from a start function before the entry point
// runs, and are dropped with Binder.Forget.
package host

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/samlang-runtime/builtins"
	"github.com/wippyai/samlang-runtime/cell"
	"github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/heap"
	"github.com/wippyai/samlang-runtime/layout"
	"github.com/wippyai/samlang-runtime/memory"
)

// ModuleName is the import module compiled programs link against.
const ModuleName = "builtins"

// Exported builtin names.
const (
	FuncStringConcat = "__Builtins$stringConcat"
	FuncIntToString  = "__Builtins$intToString"
	FuncStringToInt  = "__Builtins$stringToInt"
	FuncPrintln      = "__Process$println"
	FuncPanic        = "__Process$panic"
	FuncMalloc       = "_builtin_malloc"
	FuncFree         = "_builtin_free"
)

// Options configures the host module and the sessions it creates.
type Options struct {
	Layout   layout.Layout
	Heap     heap.Options
	Builtins builtins.Options
	// Receiver adds the leading context parameter samlang passes to class
	// functions (intToString, stringToInt, println, panic).
	Receiver bool
	// Stdout receives program output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Session is the runtime state bound to one guest module.
type Session struct {
	Module   api.Module
	Memory   *memory.Wazero
	Heap     *heap.Heap
	Store    *cell.Store
	Builtins *builtins.Builtins
}

// Binder creates the host module and tracks guest sessions.
type Binder struct {
	opts     Options
	sigs     []Signature
	mu       sync.Mutex
	sessions map[api.Module]*Session
}

// NewBinder validates opts and prepares the builtin signatures.
func NewBinder(opts Options) (*Binder, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	sigs, err := Signatures(opts.Layout, opts.Receiver)
	if err != nil {
		return nil, err
	}
	return &Binder{
		opts:     opts,
		sigs:     sigs,
		sessions: make(map[api.Module]*Session),
	}, nil
}

func (b *Binder) Options() Options { return b.opts }

// Signatures returns the signatures of the exported builtins.
func (b *Binder) Signatures() []Signature {
	out := make([]Signature, len(b.sigs))
	copy(out, b.sigs)
	return out
}

// Signature looks up one builtin by export name.
func (b *Binder) Signature(name string) (Signature, bool) {
	for _, s := range b.sigs {
		if s.Name == name {
			return s, true
		}
	}
	return Signature{}, false
}

// Session returns the session for mod, creating it on first use.
func (b *Binder) Session(mod api.Module) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sessions[mod]; ok {
		return s, nil
	}

	mem := mod.Memory()
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseHost, "memory", mod.Name())
	}
	wm := memory.NewWazero(mem)
	h := heap.New(wm, b.opts.Heap)
	store := cell.NewStore(h, wm, b.opts.Layout)
	bi := builtins.New(store, b.opts.Stdout, b.opts.Builtins)
	bi.SetTerminator(func(code uint32) { terminate(mod, code) })

	s := &Session{
		Module:   mod,
		Memory:   wm,
		Heap:     h,
		Store:    store,
		Builtins: bi,
	}
	b.sessions[mod] = s

	Logger().Debug("session created",
		zap.String("module", mod.Name()),
		zap.Stringer("layout", b.opts.Layout),
		zap.Stringer("heap", b.opts.Heap.Mode))
	return s, nil
}

// Forget drops the session of mod, if any.
func (b *Binder) Forget(mod api.Module) {
	b.mu.Lock()
	delete(b.sessions, mod)
	b.mu.Unlock()
}

// Prune drops sessions whose module has been closed, such as a guest whose
// start function exited before instantiation returned. It returns the number
// of sessions removed.
func (b *Binder) Prune() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for mod := range b.sessions {
		if mod.IsClosed() {
			delete(b.sessions, mod)
			n++
		}
	}
	return n
}

// Len reports the number of live sessions.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Instantiate registers the builtins host module in r.
func (b *Binder) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(ModuleName)
	for _, sig := range b.sigs {
		fn, ok := b.handler(sig.Name)
		if !ok {
			return nil, errors.Registration(errors.PhaseHost, ModuleName, sig.Name,
				errors.NotFound(errors.PhaseHost, "handler", sig.Name))
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(fn, sig.Params, sig.Results).
			WithName(sig.Name).
			Export(sig.Name)
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Registration(errors.PhaseHost, ModuleName, "", err)
	}
	Logger().Debug("host module instantiated",
		zap.String("module", ModuleName),
		zap.Int("functions", len(b.sigs)),
		zap.Bool("receiver", b.opts.Receiver))
	return mod, nil
}

// terminate closes mod with code and unwinds the current host call. wazero
// reports the unwind to the caller as *sys.ExitError.
func terminate(mod api.Module, code uint32) {
	_ = mod.CloseWithExitCode(context.Background(), code)
	panic(sys.NewExitError(code))
}
