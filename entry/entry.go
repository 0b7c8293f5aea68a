// Package entry converts a process argument vector into an argument array
// cell and runs a compiled program's entry point with it.
package entry

import (
	"context"
	stderrors "errors"
	"strconv"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/samlang-runtime/builtins"
	"github.com/wippyai/samlang-runtime/cell"
	"github.com/wippyai/samlang-runtime/errors"
)

// Program is a compiled program's entry point. It receives the argument
// array and returns the process status.
type Program interface {
	Main(ctx context.Context, args cell.Ref) (int64, error)
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx context.Context, args cell.Ref) (int64, error)

func (f ProgramFunc) Main(ctx context.Context, args cell.Ref) (int64, error) {
	return f(ctx, args)
}

// BuildArgs allocates an array cell with one string cell per argument.
// Each byte of an argument becomes one element; no UTF-8 decoding happens.
func BuildArgs(store *cell.Store, argv []string) (cell.Ref, error) {
	arr, err := store.MakeArray(uint32(len(argv)))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEntry, errors.KindAllocation, err, "argument array")
	}
	for i, arg := range argv {
		s, err := store.MakeStringFromBytes([]byte(arg))
		if err != nil {
			return 0, errors.New(errors.PhaseEntry, errors.KindAllocation).
				Path("args", strconv.Itoa(i)).
				Cause(err).
				Detail("argument string of %d bytes", len(arg)).
				Build()
		}
		if err := store.Set(arr, uint32(i), int64(s)); err != nil {
			return 0, errors.Wrap(errors.PhaseEntry, errors.KindOutOfBounds, err, "store argument")
		}
	}
	return arr, nil
}

// Run builds the argument array from argv, calls prog and returns its
// status. A *sys.ExitError, returned or raised as a panic, ends the program
// with its exit code and no error. Any other failure yields status 1 and
// the error.
func Run(ctx context.Context, store *cell.Store, prog Program, argv []string) (status int, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			if code, ok := exitCode(e); ok {
				status, err = code, nil
				return
			}
		}
		panic(r)
	}()

	args, err := BuildArgs(store, argv)
	if err != nil {
		return builtins.FatalExitCode, err
	}

	ret, err := prog.Main(ctx, args)
	if err != nil {
		if code, ok := exitCode(err); ok {
			return code, nil
		}
		return builtins.FatalExitCode, err
	}
	return int(ret), nil
}

func exitCode(err error) (int, bool) {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return int(exit.ExitCode()), true
	}
	return 0, false
}
