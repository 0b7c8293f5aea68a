package host

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/layout"
)

// Signature is the wasm-level type of one builtin under a given layout.
type Signature struct {
	Name    string
	WIT     string // rendered for listings, e.g. "func(a: s32, b: s32) -> s32"
	Params  []api.ValueType
	Results []api.ValueType
}

type paramKind uint8

const (
	kindPtr paramKind = iota
	kindWord
)

type param struct {
	name string
	kind paramKind
}

type builtinDecl struct {
	name     string
	params   []param
	result   paramKind
	receiver bool // takes the class-function context word when Options.Receiver is set
}

var decls = []builtinDecl{
	{FuncStringConcat, []param{{"a", kindPtr}, {"b", kindPtr}}, kindPtr, false},
	{FuncIntToString, []param{{"n", kindWord}}, kindPtr, true},
	{FuncStringToInt, []param{{"s", kindPtr}}, kindWord, true},
	{FuncPrintln, []param{{"s", kindPtr}}, kindWord, true},
	{FuncPanic, []param{{"s", kindPtr}}, kindWord, true},
	{FuncMalloc, []param{{"size", kindPtr}}, kindPtr, false},
	{FuncFree, []param{{"p", kindPtr}}, kindWord, false},
}

// witType is the WIT type of a parameter kind. Pointers are always 32-bit.
func witType(k paramKind, l layout.Layout) wit.Type {
	if k == kindWord && l.WordSize == 8 {
		return wit.S64{}
	}
	return wit.S32{}
}

type witParam struct {
	name string
	typ  wit.Type
}

// witFunc returns the parameters and result of d for layout l.
func witFunc(d builtinDecl, l layout.Layout, receiver bool) ([]witParam, wit.Type) {
	params := make([]witParam, 0, len(d.params)+1)
	if receiver && d.receiver {
		params = append(params, witParam{"this", wit.S32{}})
	}
	for _, p := range d.params {
		params = append(params, witParam{p.name, witType(p.kind, l)})
	}
	return params, witType(d.result, l)
}

// renderWIT writes a WIT function type, e.g. "func(a: s32, b: s32) -> s32".
func renderWIT(params []witParam, result wit.Type) string {
	var b strings.Builder
	b.WriteString("func(")
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.name)
		b.WriteString(": ")
		b.WriteString(p.typ.WIT(nil, ""))
	}
	b.WriteString(") -> ")
	b.WriteString(result.WIT(nil, ""))
	return b.String()
}

// lowerType maps an integer WIT type to its core wasm value type.
func lowerType(t wit.Type) (api.ValueType, error) {
	switch t.(type) {
	case wit.S32, wit.U32:
		return api.ValueTypeI32, nil
	case wit.S64, wit.U64:
		return api.ValueTypeI64, nil
	default:
		return 0, errors.Unsupported(errors.PhaseHost, "builtin parameter type "+t.WIT(nil, ""))
	}
}

// Signatures returns the builtin signatures for layout l, in export order.
func Signatures(l layout.Layout, receiver bool) ([]Signature, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	sigs := make([]Signature, 0, len(decls))
	for _, d := range decls {
		wparams, wresult := witFunc(d, l, receiver)
		sig := Signature{Name: d.name, WIT: renderWIT(wparams, wresult)}
		for _, p := range wparams {
			vt, err := lowerType(p.typ)
			if err != nil {
				return nil, errors.Registration(errors.PhaseHost, ModuleName, d.name, err)
			}
			sig.Params = append(sig.Params, vt)
		}
		vt, err := lowerType(wresult)
		if err != nil {
			return nil, errors.Registration(errors.PhaseHost, ModuleName, d.name, err)
		}
		sig.Results = []api.ValueType{vt}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
