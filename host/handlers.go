package host

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/samlang-runtime/builtins"
	"github.com/wippyai/samlang-runtime/cell"
)

// call runs one builtin over the guest's arguments (receiver already
// stripped) and returns the encoded result.
type call func(s *Session, args []uint64) (uint64, error)

func (b *Binder) handler(name string) (api.GoModuleFunc, bool) {
	var fn call
	switch name {
	case FuncStringConcat:
		fn = func(s *Session, args []uint64) (uint64, error) {
			ref, err := s.Builtins.Concat(decodeRef(args[0]), decodeRef(args[1]))
			return encodeRef(ref), err
		}
	case FuncIntToString:
		fn = func(s *Session, args []uint64) (uint64, error) {
			ref, err := s.Builtins.IntToString(b.decodeWord(args[0]))
			return encodeRef(ref), err
		}
	case FuncStringToInt:
		fn = func(s *Session, args []uint64) (uint64, error) {
			n, err := s.Builtins.StringToInt(decodeRef(args[0]))
			return b.encodeWord(n), err
		}
	case FuncPrintln:
		fn = func(s *Session, args []uint64) (uint64, error) {
			n, err := s.Builtins.Println(decodeRef(args[0]))
			return b.encodeWord(n), err
		}
	case FuncPanic:
		fn = func(s *Session, args []uint64) (uint64, error) {
			return 0, s.Builtins.Panic(decodeRef(args[0]))
		}
	case FuncMalloc:
		fn = func(s *Session, args []uint64) (uint64, error) {
			ptr, err := s.Heap.Alloc(api.DecodeU32(args[0]))
			return api.EncodeU32(ptr), err
		}
	case FuncFree:
		fn = func(s *Session, args []uint64) (uint64, error) {
			return 0, s.Heap.Release(api.DecodeU32(args[0]))
		}
	default:
		return nil, false
	}

	skip := 0
	if b.opts.Receiver {
		for _, d := range decls {
			if d.name == name && d.receiver {
				skip = 1
			}
		}
	}

	return func(ctx context.Context, mod api.Module, stack []uint64) {
		s, err := b.Session(mod)
		if err != nil {
			Logger().Error("builtin call without session",
				zap.String("builtin", name),
				zap.String("module", mod.Name()),
				zap.Error(err))
			terminate(mod, builtins.FatalExitCode)
		}
		result, err := fn(s, stack[skip:])
		if err != nil {
			Logger().Error("fatal builtin failure",
				zap.String("builtin", name),
				zap.String("module", mod.Name()),
				zap.Error(err))
			_ = s.Builtins.Exit(builtins.FatalExitCode)
			terminate(mod, builtins.FatalExitCode)
		}
		stack[0] = result
	}, true
}

func decodeRef(v uint64) cell.Ref { return cell.Ref(api.DecodeU32(v)) }

func encodeRef(r cell.Ref) uint64 { return api.EncodeU32(uint32(r)) }

func (b *Binder) decodeWord(v uint64) int64 {
	if b.opts.Layout.WordSize == 4 {
		return int64(api.DecodeI32(v))
	}
	return int64(v)
}

func (b *Binder) encodeWord(n int64) uint64 {
	if b.opts.Layout.WordSize == 4 {
		return api.EncodeI32(int32(n))
	}
	return api.EncodeI64(n)
}
