// Package wasmbin assembles small core wasm modules.
//
// The runtime uses it to build the module that provides env.memory to
// programs importing their memory. Tests use it for guests exercising the
// builtins: function and memory imports, one memory, data segments, exported
// functions, and a start function. Function bodies are written with Code.
package wasmbin

import "encoding/binary"

// Value types.
const (
	I32 byte = 0x7F
	I64 byte = 0x7E
)

const (
	sectionType   = 1
	sectionImport = 2
	sectionFunc   = 3
	sectionMemory = 5
	sectionExport = 7
	sectionStart  = 8
	sectionCode   = 10
	sectionData   = 11

	kindFunc   = 0x00
	kindMemory = 0x02
)

type funcType struct {
	params, results []byte
}

type funcImport struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []byte
	body    []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type limits struct {
	min uint32
	max *uint32
}

type memImport struct {
	module, name string
	limits       limits
}

type dataSegment struct {
	offset uint32
	bytes  []byte
}

// Module is a wasm module under construction. Imports must be declared before
// any function is defined so function indices stay stable.
type Module struct {
	start   *uint32
	memory  *limits
	memImp  *memImport
	types   []funcType
	imports []funcImport
	funcs   []function
	exports []export
	data    []dataSegment
}

func (m *Module) typeIndex(params, results []byte) uint32 {
	for i, t := range m.types {
		if string(t.params) == string(params) && string(t.results) == string(results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
func (m *Module) ImportFunc(module, name string, params, results []byte) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmbin: imports must precede function definitions")
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typeIdx: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and returns its index. body must not include the
// trailing end opcode.
func (m *Module) Func(params, results, locals []byte, body *Code) uint32 {
	m.funcs = append(m.funcs, function{typeIdx: m.typeIndex(params, results), locals: locals, body: body.Bytes})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory declares the module's memory with min pages and no maximum.
func (m *Module) Memory(minPages uint32) {
	m.MemoryLimits(minPages, nil)
}

// MemoryLimits declares the module's memory. A nil max leaves it unbounded.
func (m *Module) MemoryLimits(minPages uint32, maxPages *uint32) {
	m.memory = &limits{min: minPages, max: maxPages}
}

// ImportMemory imports memory 0 from module.name instead of defining it.
func (m *Module) ImportMemory(module, name string, minPages uint32, maxPages *uint32) {
	m.memImp = &memImport{module: module, name: name, limits: limits{min: minPages, max: maxPages}}
}

// ExportFunc exports function idx under name.
func (m *Module) ExportFunc(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kindFunc, idx: idx})
}

// ExportMemory exports memory 0 under name.
func (m *Module) ExportMemory(name string) {
	m.exports = append(m.exports, export{name: name, kind: kindMemory})
}

// Start makes idx the start function.
func (m *Module) Start(idx uint32) {
	m.start = &idx
}

// Data places bytes at offset in memory 0.
func (m *Module) Data(offset uint32, bytes []byte) {
	m.data = append(m.data, dataSegment{offset: offset, bytes: bytes})
}

// StaticString places a cell holding s at offset using the default samlang
// layout: tag 0, count, then one i32 per byte.
func (m *Module) StaticString(offset uint32, s string) {
	b := make([]byte, 8+4*len(s))
	binary.LittleEndian.PutUint32(b[4:], uint32(len(s)))
	for i := 0; i < len(s); i++ {
		binary.LittleEndian.PutUint32(b[8+4*i:], uint32(s[i]))
	}
	m.Data(offset, b)
}

// Encode returns the binary module.
func (m *Module) Encode() []byte {
	buf := &Buffer{}
	buf.WriteBytes([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}) // magic + version

	if len(m.types) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.types)))
		for _, t := range m.types {
			sec.AppendByte(0x60)
			sec.WriteU32(uint32(len(t.params)))
			sec.WriteBytes(t.params)
			sec.WriteU32(uint32(len(t.results)))
			sec.WriteBytes(t.results)
		}
		writeSection(buf, sectionType, sec)
	}

	if len(m.imports) > 0 || m.memImp != nil {
		sec := &Buffer{}
		n := uint32(len(m.imports))
		if m.memImp != nil {
			n++
		}
		sec.WriteU32(n)
		for _, imp := range m.imports {
			sec.WriteString(imp.module)
			sec.WriteString(imp.name)
			sec.AppendByte(kindFunc)
			sec.WriteU32(imp.typeIdx)
		}
		if mi := m.memImp; mi != nil {
			sec.WriteString(mi.module)
			sec.WriteString(mi.name)
			sec.AppendByte(kindMemory)
			sec.WriteLimits(mi.limits.min, mi.limits.max)
		}
		writeSection(buf, sectionImport, sec)
	}

	if len(m.funcs) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.WriteU32(f.typeIdx)
		}
		writeSection(buf, sectionFunc, sec)
	}

	if m.memory != nil {
		sec := &Buffer{}
		sec.WriteU32(1)
		sec.WriteLimits(m.memory.min, m.memory.max)
		writeSection(buf, sectionMemory, sec)
	}

	if len(m.exports) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.exports)))
		for _, e := range m.exports {
			sec.WriteString(e.name)
			sec.AppendByte(e.kind)
			sec.WriteU32(e.idx)
		}
		writeSection(buf, sectionExport, sec)
	}

	if m.start != nil {
		sec := &Buffer{}
		sec.WriteU32(*m.start)
		writeSection(buf, sectionStart, sec)
	}

	if len(m.funcs) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := &Buffer{}
			body.WriteU32(uint32(len(f.locals)))
			for _, l := range f.locals {
				body.WriteU32(1)
				body.AppendByte(l)
			}
			body.WriteBytes(f.body)
			body.AppendByte(opEnd)
			sec.WriteU32(uint32(len(body.Bytes)))
			sec.WriteBytes(body.Bytes)
		}
		writeSection(buf, sectionCode, sec)
	}

	if len(m.data) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.data)))
		for _, d := range m.data {
			sec.WriteU32(0) // active, memory 0
			sec.AppendByte(opI32Const)
			sec.WriteI32(int32(d.offset))
			sec.AppendByte(opEnd)
			sec.WriteU32(uint32(len(d.bytes)))
			sec.WriteBytes(d.bytes)
		}
		writeSection(buf, sectionData, sec)
	}

	return buf.Bytes
}
