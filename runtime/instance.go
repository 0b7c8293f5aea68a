package runtime

import (
	"context"
	stderrors "errors"
	"strconv"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/samlang-runtime/cell"
	"github.com/wippyai/samlang-runtime/entry"
	"github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/host"
)

// Instance is one instantiation of a Module with its own heap.
type Instance struct {
	module  *Module
	guest   api.Module
	memory  api.Module // env.memory provider, nil when the guest defines its memory
	session *host.Session
}

// Instantiate creates a guest instance. The guest's start function, if any,
// runs here and may already allocate.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	r := m.runtime
	name := m.name + "#" + strconv.FormatUint(m.runs.Add(1), 10)

	var provider api.Module
	instCtx := ctx
	if m.memory != nil {
		var err error
		provider, err = r.wz.InstantiateModule(ctx, m.memory,
			wazero.NewModuleConfig().WithName(name+"/"+MemoryImportModule))
		if err != nil {
			return nil, errors.Instantiation(err)
		}
		instCtx = withMemoryProvider(ctx, provider)
	}

	guest, err := r.wz.InstantiateModule(instCtx, m.compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		r.binder.Prune()
		if provider != nil {
			_ = provider.Close(ctx)
		}
		if _, ok := exitCode(err); ok {
			return nil, err
		}
		return nil, errors.Instantiation(err)
	}

	session, err := r.binder.Session(guest)
	if err != nil {
		_ = guest.Close(ctx)
		if provider != nil {
			_ = provider.Close(ctx)
		}
		return nil, errors.Instantiation(err)
	}

	return &Instance{module: m, guest: guest, memory: provider, session: session}, nil
}

// Session exposes the instance's heap and cell store.
func (i *Instance) Session() *host.Session { return i.session }

// Run calls the entry export with argv and returns the exit status.
func (i *Instance) Run(ctx context.Context, argv []string) (int, error) {
	fn := i.guest.ExportedFunction(i.module.entry.Name())
	if fn == nil {
		return 1, errors.NotFound(errors.PhaseEntry, "entry export", i.module.entry.Name())
	}

	status, err := entry.Run(ctx, i.session.Store, &wasmEntry{fn: fn}, argv)
	if ctxErr := ctx.Err(); ctxErr != nil && err == nil && isContextExit(status) {
		status, err = 1, errors.Wrap(errors.PhaseEntry, errors.KindInvalidInput, ctxErr, "run cancelled")
	}

	st := i.session.Heap.Stats()
	Logger().Debug("program finished",
		zap.String("module", i.guest.Name()),
		zap.Int("status", status),
		zap.Uint64("allocations", st.Allocations),
		zap.Uint32("heap_top", st.Top),
		zap.Error(err))
	return status, err
}

// Close drops the session and closes the guest and its memory provider.
func (i *Instance) Close(ctx context.Context) error {
	i.module.runtime.binder.Forget(i.guest)
	err := i.guest.Close(ctx)
	if i.memory != nil {
		if merr := i.memory.Close(ctx); err == nil {
			err = merr
		}
	}
	return err
}

// wasmEntry calls a guest entry export as an entry.Program.
type wasmEntry struct {
	fn api.Function
}

func (e *wasmEntry) Main(ctx context.Context, args cell.Ref) (int64, error) {
	res, err := e.fn.Call(ctx, api.EncodeU32(uint32(args)))
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	if e.fn.Definition().ResultTypes()[0] == api.ValueTypeI32 {
		return int64(api.DecodeI32(res[0])), nil
	}
	return int64(res[0]), nil
}

func exitCode(err error) (int, bool) {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return int(exit.ExitCode()), true
	}
	return 0, false
}

func isContextExit(status int) bool {
	return uint32(status) == sys.ExitCodeContextCanceled || uint32(status) == sys.ExitCodeDeadlineExceeded
}
