package runtime

import (
	"context"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/samlang-runtime/builtins"
	"github.com/wippyai/samlang-runtime/cell"
	"github.com/wippyai/samlang-runtime/config"
	"github.com/wippyai/samlang-runtime/entry"
	"github.com/wippyai/samlang-runtime/heap"
	"github.com/wippyai/samlang-runtime/host"
	"github.com/wippyai/samlang-runtime/layout"
	"github.com/wippyai/samlang-runtime/memory"
)

// Option customizes a Runtime.
type Option func(*options)

type options struct {
	stdout io.Writer
}

// WithStdout redirects program output. The default is os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// Runtime runs compiled samlang programs. One Runtime can load and run any
// number of modules; each run gets a fresh guest instance and heap.
type Runtime struct {
	cfg    config.Config
	layout layout.Layout
	heap   heap.Options
	stdout io.Writer
	wz     wazero.Runtime
	binder *host.Binder
}

// New creates a runtime for cfg and registers the builtins host module.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	o := options{stdout: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, err := cfg.CellLayout()
	if err != nil {
		return nil, err
	}
	heapOpts, err := cfg.HeapOptions()
	if err != nil {
		return nil, err
	}

	binder, err := host.NewBinder(host.Options{
		Layout:   l,
		Heap:     heapOpts,
		Builtins: builtins.Options{Diagnostics: cfg.Builtins.Diagnostics},
		Receiver: cfg.Entry.Receiver,
		Stdout:   o.stdout,
	})
	if err != nil {
		return nil, err
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.Heap.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.Heap.MemoryLimitPages)
	}
	wz := wazero.NewRuntimeWithConfig(ctx, rc)

	if _, err := binder.Instantiate(ctx, wz); err != nil {
		_ = wz.Close(ctx)
		return nil, err
	}

	Logger().Debug("runtime created",
		zap.Stringer("layout", l),
		zap.Stringer("heap", heapOpts.Mode),
		zap.String("entry", cfg.Entry.Export),
		zap.Uint32("memory_limit_pages", cfg.Heap.MemoryLimitPages))

	return &Runtime{
		cfg:    cfg,
		layout: l,
		heap:   heapOpts,
		stdout: o.stdout,
		wz:     wz,
		binder: binder,
	}, nil
}

// Close releases all runtime resources, closing any open instances.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wz.Close(ctx)
}

func (r *Runtime) Config() config.Config { return r.cfg }

func (r *Runtime) Layout() layout.Layout { return r.layout }

func (r *Runtime) Binder() *host.Binder { return r.binder }

// Native is a compiled program written in Go. It runs against a Go-backed
// linear memory and calls the primitives through b.
type Native func(ctx context.Context, b *builtins.Builtins, args cell.Ref) (int64, error)

// RunNative runs prog with the runtime's layout, heap mode and output, and
// returns its exit status.
func (r *Runtime) RunNative(ctx context.Context, prog Native, argv []string) (int, error) {
	mem := memory.NewLinear(0, r.cfg.Heap.MemoryLimitPages)
	h := heap.New(mem, r.heap)
	store := cell.NewStore(h, mem, r.layout)
	b := builtins.New(store, r.stdout, builtins.Options{Diagnostics: r.cfg.Builtins.Diagnostics})

	status, err := entry.Run(ctx, store, entry.ProgramFunc(func(ctx context.Context, args cell.Ref) (int64, error) {
		return prog(ctx, b, args)
	}), argv)

	st := h.Stats()
	Logger().Debug("native program finished",
		zap.Int("status", status),
		zap.Uint64("allocations", st.Allocations),
		zap.Error(err))
	return status, err
}
