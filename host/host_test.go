package host

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/samlang-runtime/heap"
	"github.com/wippyai/samlang-runtime/internal/wasmbin"
	"github.com/wippyai/samlang-runtime/layout"
)

var (
	i32  = []byte{wasmbin.I32}
	i64  = []byte{wasmbin.I64}
	i32s = []byte{wasmbin.I32, wasmbin.I32}
)

type guest struct {
	mod    api.Module
	binder *Binder
	out    *bytes.Buffer
}

func instantiate(t *testing.T, opts Options, m *wasmbin.Module) *guest {
	t.Helper()
	ctx := context.Background()

	var out bytes.Buffer
	opts.Stdout = &out
	if opts.Layout.WordSize == 0 {
		opts.Layout = layout.Default()
	}
	b, err := NewBinder(opts)
	if err != nil {
		t.Fatalf("NewBinder: %v", err)
	}

	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })
	if _, err := b.Instantiate(ctx, r); err != nil {
		t.Fatalf("Instantiate host: %v", err)
	}
	mod, err := r.Instantiate(ctx, m.Encode())
	if err != nil {
		t.Fatalf("Instantiate guest: %v", err)
	}
	return &guest{mod: mod, binder: b, out: &out}
}

func (g *guest) call(t *testing.T, name string, params ...uint64) ([]uint64, error) {
	t.Helper()
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		t.Fatalf("export %s not found", name)
	}
	return fn.Call(context.Background(), params...)
}

func exitCode(t *testing.T, err error) uint32 {
	t.Helper()
	var exit *sys.ExitError
	if !stderrors.As(err, &exit) {
		t.Fatalf("error = %v, want *sys.ExitError", err)
	}
	return exit.ExitCode()
}

func TestSignatures(t *testing.T) {
	sigs, err := Signatures(layout.Default(), false)
	if err != nil {
		t.Fatalf("Signatures: %v", err)
	}
	if len(sigs) != 7 {
		t.Fatalf("got %d signatures, want 7", len(sigs))
	}
	if sigs[0].Name != FuncStringConcat || sigs[0].WIT != "func(a: s32, b: s32) -> s32" {
		t.Errorf("first signature = %+v", sigs[0])
	}

	tests := []struct {
		name     string
		layout   layout.Layout
		receiver bool
		fn       string
		params   []api.ValueType
		results  []api.ValueType
	}{
		{"concat", layout.Default(), false, FuncStringConcat,
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}},
		{"intToString i32", layout.Default(), false, FuncIntToString,
			[]api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}},
		{"intToString i64", layout.Layout{WordSize: 8}, false, FuncIntToString,
			[]api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI32}},
		{"stringToInt i64", layout.Layout{WordSize: 8}, false, FuncStringToInt,
			[]api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}},
		{"println receiver", layout.Default(), true, FuncPrintln,
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}},
		{"malloc ignores receiver", layout.Default(), true, FuncMalloc,
			[]api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}},
		{"free word result", layout.Layout{WordSize: 8}, false, FuncFree,
			[]api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBinder(Options{Layout: tt.layout, Receiver: tt.receiver})
			if err != nil {
				t.Fatal(err)
			}
			sig, ok := b.Signature(tt.fn)
			if !ok {
				t.Fatalf("no signature for %s", tt.fn)
			}
			if string(sig.Params) != string(tt.params) {
				t.Errorf("params = %v, want %v", sig.Params, tt.params)
			}
			if string(sig.Results) != string(tt.results) {
				t.Errorf("results = %v, want %v", sig.Results, tt.results)
			}
		})
	}
}

func TestSignatures_InvalidLayout(t *testing.T) {
	if _, err := NewBinder(Options{Layout: layout.Layout{WordSize: 2}}); err == nil {
		t.Error("expected error for word size 2")
	}
}

func TestLowerType(t *testing.T) {
	tests := []struct {
		typ  wit.Type
		want api.ValueType
	}{
		{wit.S32{}, api.ValueTypeI32},
		{wit.U32{}, api.ValueTypeI32},
		{wit.S64{}, api.ValueTypeI64},
		{wit.U64{}, api.ValueTypeI64},
	}
	for _, tt := range tests {
		got, err := lowerType(tt.typ)
		if err != nil {
			t.Fatalf("lowerType(%s): %v", tt.typ.WIT(nil, ""), err)
		}
		if got != tt.want {
			t.Errorf("lowerType(%s) = %v, want %v", tt.typ.WIT(nil, ""), got, tt.want)
		}
	}

	for _, bad := range []wit.Type{wit.String{}, wit.F32{}, wit.Bool{}} {
		if _, err := lowerType(bad); err == nil {
			t.Errorf("lowerType(%s) succeeded", bad.WIT(nil, ""))
		}
	}
}

func TestRenderWIT(t *testing.T) {
	l := layout.Layout{WordSize: 8, Placement: layout.Inline, Tagged: true}
	var stringToInt builtinDecl
	for _, d := range decls {
		if d.name == FuncStringToInt {
			stringToInt = d
		}
	}
	params, result := witFunc(stringToInt, l, true)
	if got := renderWIT(params, result); got != "func(this: s32, s: s32) -> s64" {
		t.Errorf("renderWIT = %q", got)
	}
}

// printGuest imports println and exports run() printing the static string s.
func printGuest(s string, receiver bool) *wasmbin.Module {
	m := &wasmbin.Module{}
	code := wasmbin.NewCode()
	var printlnFn uint32
	if receiver {
		printlnFn = m.ImportFunc(ModuleName, FuncPrintln, i32s, i32)
		code.I32Const(0)
	} else {
		printlnFn = m.ImportFunc(ModuleName, FuncPrintln, i32, i32)
	}
	code.I32Const(16).Call(printlnFn)
	m.Memory(1)
	m.StaticString(16, s)
	m.ExportFunc("run", m.Func(nil, i32, nil, code))
	return m
}

func TestPrintln(t *testing.T) {
	for _, receiver := range []bool{false, true} {
		g := instantiate(t, Options{Receiver: receiver}, printGuest("héllo", receiver))
		res, err := g.call(t, "run")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if res[0] != 0 {
			t.Errorf("println returned %d, want 0", res[0])
		}
		// static strings hold one element per byte
		if g.out.String() != "hÃ©llo\n" {
			t.Errorf("receiver=%v output = %q", receiver, g.out.String())
		}
	}
}

func TestIntToStringAndConcat(t *testing.T) {
	m := &wasmbin.Module{}
	intToString := m.ImportFunc(ModuleName, FuncIntToString, i32, i32)
	concat := m.ImportFunc(ModuleName, FuncStringConcat, i32s, i32)
	printlnFn := m.ImportFunc(ModuleName, FuncPrintln, i32, i32)
	m.Memory(1)
	code := wasmbin.NewCode().
		I32Const(40).Call(intToString).
		I32Const(2).Call(intToString).
		Call(concat).
		Call(printlnFn)
	m.ExportFunc("run", m.Func(nil, i32, nil, code))

	g := instantiate(t, Options{}, m)
	if _, err := g.call(t, "run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if g.out.String() != "402\n" {
		t.Errorf("output = %q, want 402\\n", g.out.String())
	}
}

func TestStringToInt_Word8(t *testing.T) {
	m := &wasmbin.Module{}
	intToString := m.ImportFunc(ModuleName, FuncIntToString, i64, i32)
	stringToInt := m.ImportFunc(ModuleName, FuncStringToInt, i32, i64)
	m.Memory(1)
	code := wasmbin.NewCode().
		LocalGet(0).Call(intToString).
		Call(stringToInt)
	m.ExportFunc("roundtrip", m.Func(i64, i64, nil, code))

	g := instantiate(t, Options{Layout: layout.Layout{WordSize: 8, Placement: layout.Before}}, m)
	for _, n := range []int64{0, -7, 1 << 40, -(1 << 62)} {
		res, err := g.call(t, "roundtrip", api.EncodeI64(n))
		if err != nil {
			t.Fatalf("roundtrip(%d): %v", n, err)
		}
		if int64(res[0]) != n {
			t.Errorf("roundtrip(%d) = %d", n, int64(res[0]))
		}
	}
}

func TestStringToInt_Receiver(t *testing.T) {
	m := &wasmbin.Module{}
	stringToInt := m.ImportFunc(ModuleName, FuncStringToInt, i32s, i32)
	m.Memory(1)
	m.StaticString(16, "-123")
	code := wasmbin.NewCode().I32Const(0).I32Const(16).Call(stringToInt)
	m.ExportFunc("run", m.Func(nil, i32, nil, code))

	g := instantiate(t, Options{Receiver: true}, m)
	res, err := g.call(t, "run")
	if err != nil {
		t.Fatal(err)
	}
	if api.DecodeI32(res[0]) != -123 {
		t.Errorf("stringToInt = %d, want -123", api.DecodeI32(res[0]))
	}
}

func TestPanic(t *testing.T) {
	m := &wasmbin.Module{}
	panicFn := m.ImportFunc(ModuleName, FuncPanic, i32, i32)
	printlnFn := m.ImportFunc(ModuleName, FuncPrintln, i32, i32)
	m.Memory(1)
	m.StaticString(16, "boom")
	code := wasmbin.NewCode().
		I32Const(16).Call(panicFn).Drop().
		I32Const(16).Call(printlnFn)
	m.ExportFunc("run", m.Func(nil, i32, nil, code))

	g := instantiate(t, Options{}, m)
	_, err := g.call(t, "run")
	if code := exitCode(t, err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if g.out.String() != "boom\n" {
		t.Errorf("output = %q, want boom\\n only", g.out.String())
	}
}

func TestMallocFromStartFunction(t *testing.T) {
	m := &wasmbin.Module{}
	malloc := m.ImportFunc(ModuleName, FuncMalloc, i32, i32)
	m.Memory(1)
	// mem[0] = malloc(16)
	start := m.Func(nil, nil, nil, wasmbin.NewCode().
		I32Const(0).I32Const(16).Call(malloc).I32Store(0))
	m.Start(start)
	m.ExportFunc("saved", m.Func(nil, i32, nil, wasmbin.NewCode().I32Const(0).I32Load(0)))

	g := instantiate(t, Options{}, m)
	if g.binder.Len() != 1 {
		t.Fatalf("sessions = %d, want 1 after start function", g.binder.Len())
	}
	s, err := g.binder.Session(g.mod)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Heap.Initialized() {
		t.Error("heap not initialized by start function")
	}

	res, err := g.call(t, "saved")
	if err != nil {
		t.Fatal(err)
	}
	ptr := api.DecodeU32(res[0])
	if ptr < 65536 || ptr%heap.Alignment != 0 {
		t.Errorf("malloc from start = %#x, want aligned address past initial memory", ptr)
	}
}

func freeGuest() *wasmbin.Module {
	m := &wasmbin.Module{}
	malloc := m.ImportFunc(ModuleName, FuncMalloc, i32, i32)
	free := m.ImportFunc(ModuleName, FuncFree, i32, i32)
	m.Memory(1)
	m.ExportFunc("malloc", m.Func(i32, i32, nil, wasmbin.NewCode().LocalGet(0).Call(malloc)))
	m.ExportFunc("free", m.Func(i32, i32, nil, wasmbin.NewCode().LocalGet(0).Call(free)))
	return m
}

func TestFree_Arena(t *testing.T) {
	g := instantiate(t, Options{Heap: heap.Options{Mode: heap.Arena}}, freeGuest())

	res, err := g.call(t, "malloc", api.EncodeU32(24))
	if err != nil {
		t.Fatal(err)
	}
	first := res[0]
	if _, err := g.call(t, "free", first); err != nil {
		t.Fatal(err)
	}
	res, err = g.call(t, "malloc", api.EncodeU32(24))
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != first {
		t.Errorf("malloc after free = %#x, want reuse of %#x", res[0], first)
	}

	s, _ := g.binder.Session(g.mod)
	if st := s.Heap.Stats(); st.Reuses != 1 {
		t.Errorf("reuses = %d, want 1", st.Reuses)
	}
}

func TestFree_DoubleReleaseIsFatal(t *testing.T) {
	g := instantiate(t, Options{Heap: heap.Options{Mode: heap.Arena}}, freeGuest())

	res, err := g.call(t, "malloc", api.EncodeU32(8))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.call(t, "free", res[0]); err != nil {
		t.Fatal(err)
	}
	_, err = g.call(t, "free", res[0])
	if code := exitCode(t, err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestMalloc_FailureIsFatal(t *testing.T) {
	ctx := context.Background()
	b, err := NewBinder(Options{Layout: layout.Default()})
	if err != nil {
		t.Fatal(err)
	}
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(2))
	defer r.Close(ctx)
	if _, err := b.Instantiate(ctx, r); err != nil {
		t.Fatal(err)
	}
	mod, err := r.Instantiate(ctx, freeGuest().Encode())
	if err != nil {
		t.Fatal(err)
	}

	_, err = mod.ExportedFunction("malloc").Call(ctx, api.EncodeU32(3*65536))
	if code := exitCode(t, err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestNoMemoryIsFatal(t *testing.T) {
	m := &wasmbin.Module{}
	printlnFn := m.ImportFunc(ModuleName, FuncPrintln, i32, i32)
	m.ExportFunc("run", m.Func(nil, i32, nil, wasmbin.NewCode().I32Const(0).Call(printlnFn)))

	g := instantiate(t, Options{}, m)
	_, err := g.call(t, "run")
	if code := exitCode(t, err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if g.binder.Len() != 0 {
		t.Errorf("sessions = %d, want 0", g.binder.Len())
	}
}

func TestForget(t *testing.T) {
	g := instantiate(t, Options{}, printGuest("x", false))
	if _, err := g.call(t, "run"); err != nil {
		t.Fatal(err)
	}
	first, _ := g.binder.Session(g.mod)
	g.binder.Forget(g.mod)
	if g.binder.Len() != 0 {
		t.Fatalf("sessions = %d after Forget", g.binder.Len())
	}
	second, _ := g.binder.Session(g.mod)
	if first == second {
		t.Error("Session after Forget returned the old session")
	}
}

func TestPrune(t *testing.T) {
	g := instantiate(t, Options{}, printGuest("x", false))
	if _, err := g.call(t, "run"); err != nil {
		t.Fatal(err)
	}
	if n := g.binder.Prune(); n != 0 {
		t.Errorf("Prune removed %d live sessions", n)
	}
	if err := g.mod.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := g.binder.Prune(); n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	if g.binder.Len() != 0 {
		t.Errorf("sessions = %d after Prune", g.binder.Len())
	}
}
