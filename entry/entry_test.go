package entry

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/samlang-runtime/builtins"
	"github.com/wippyai/samlang-runtime/cell"
	rterrors "github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/heap"
	"github.com/wippyai/samlang-runtime/layout"
	"github.com/wippyai/samlang-runtime/memory"
)

func newStore(l layout.Layout, maxPages uint32) *cell.Store {
	mem := memory.NewLinear(1, maxPages)
	return cell.NewStore(heap.New(mem, heap.Options{}), mem, l)
}

func TestBuildArgs(t *testing.T) {
	layouts := []layout.Layout{
		layout.Default(),
		{WordSize: 8, Placement: layout.Before, Tagged: true},
	}
	for _, l := range layouts {
		t.Run(l.String(), func(t *testing.T) {
			store := newStore(l, 0)
			argv := []string{"prog", "", "é"}

			arr, err := BuildArgs(store, argv)
			if err != nil {
				t.Fatalf("BuildArgs: %v", err)
			}
			if n, _ := store.Len(arr); n != 3 {
				t.Fatalf("argc = %d, want 3", n)
			}

			want := [][]int64{{'p', 'r', 'o', 'g'}, {}, {0xC3, 0xA9}}
			for i, w := range want {
				ref, err := store.Get(arr, uint32(i))
				if err != nil {
					t.Fatal(err)
				}
				got, err := store.Elements(cell.Ref(uint32(ref)))
				if err != nil {
					t.Fatalf("arg %d: %v", i, err)
				}
				if len(got) != len(w) {
					t.Fatalf("arg %d = %v, want %v", i, got, w)
				}
				for j := range w {
					if got[j] != w[j] {
						t.Errorf("arg %d element %d = %d, want %d", i, j, got[j], w[j])
					}
				}
			}
		})
	}
}

func TestBuildArgs_Empty(t *testing.T) {
	store := newStore(layout.Default(), 0)
	arr, err := BuildArgs(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Len(arr); n != 0 {
		t.Errorf("argc = %d, want 0", n)
	}
}

func TestBuildArgs_AllocationFailure(t *testing.T) {
	store := newStore(layout.Default(), 1)
	huge := string(make([]byte, 70000))
	_, err := BuildArgs(store, []string{huge})
	if !stderrors.Is(err, &rterrors.Error{Phase: rterrors.PhaseEntry, Kind: rterrors.KindAllocation}) {
		t.Errorf("BuildArgs error = %v, want entry allocation error", err)
	}
}

// parseSecond mirrors a compiled program that prints args[1] and returns it
// parsed as an integer.
func parseSecond(b *builtins.Builtins) ProgramFunc {
	return func(ctx context.Context, args cell.Ref) (int64, error) {
		store := b.Store()
		argc, err := store.Len(args)
		if err != nil || argc < 2 {
			return 0, err
		}
		v, err := store.Get(args, 1)
		if err != nil {
			return 0, err
		}
		s := cell.Ref(uint32(v))
		if _, err := b.Println(s); err != nil {
			return 0, err
		}
		return b.StringToInt(s)
	}
}

func TestRun_Scenario(t *testing.T) {
	store := newStore(layout.Default(), 0)
	var out bytes.Buffer
	b := builtins.New(store, &out, builtins.Options{})

	status, err := Run(context.Background(), store, parseSecond(b), []string{"prog", "42"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != 42 {
		t.Errorf("status = %d, want 42", status)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want 42\\n", out.String())
	}
}

func TestRun_Status(t *testing.T) {
	store := newStore(layout.Default(), 0)
	tests := []struct {
		name    string
		prog    ProgramFunc
		status  int
		wantErr bool
	}{
		{
			name:   "returns nothing",
			prog:   func(context.Context, cell.Ref) (int64, error) { return 0, nil },
			status: 0,
		},
		{
			name:   "returns status",
			prog:   func(context.Context, cell.Ref) (int64, error) { return 3, nil },
			status: 3,
		},
		{
			name:   "returned exit error",
			prog:   func(context.Context, cell.Ref) (int64, error) { return 0, sys.NewExitError(7) },
			status: 7,
		},
		{
			name: "panicked exit error",
			prog: func(context.Context, cell.Ref) (int64, error) {
				panic(sys.NewExitError(1))
			},
			status: 1,
		},
		{
			name:    "other error",
			prog:    func(context.Context, cell.Ref) (int64, error) { return 0, stderrors.New("trap") },
			status:  1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := Run(context.Background(), store, tt.prog, []string{"prog"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
		})
	}
}

func TestRun_PanicStopsProgram(t *testing.T) {
	store := newStore(layout.Default(), 0)
	var out bytes.Buffer
	b := builtins.New(store, &out, builtins.Options{})

	prog := ProgramFunc(func(ctx context.Context, args cell.Ref) (int64, error) {
		msg, _ := store.MakeStringFromText("boom")
		_ = b.Panic(msg)
		after, _ := store.MakeStringFromText("after")
		_, _ = b.Println(after)
		return 0, nil
	})

	status, err := Run(context.Background(), store, prog, []string{"prog"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != builtins.FatalExitCode {
		t.Errorf("status = %d, want %d", status, builtins.FatalExitCode)
	}
	if out.String() != "boom\n" {
		t.Errorf("output = %q, want only boom\\n", out.String())
	}
}

func TestRun_ForeignPanicPropagates(t *testing.T) {
	store := newStore(layout.Default(), 0)
	defer func() {
		if r := recover(); r != "bug" {
			t.Errorf("recovered %v, want bug", r)
		}
	}()
	_, _ = Run(context.Background(), store, ProgramFunc(func(context.Context, cell.Ref) (int64, error) {
		panic("bug")
	}), nil)
	t.Error("Run returned")
}
