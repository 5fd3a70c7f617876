// Package wasmbin encodes small core wasm modules for tests: function
// imports, plain function bodies, one memory and exports. It exists so the
// isolated environment can be exercised without shipping a compiled backend.
package wasmbin

const (
	Magic   uint32 = 0x6D736100 // "\0asm"
	Version uint32 = 1

	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionMemory   byte = 5
	SectionExport   byte = 7
	SectionCode     byte = 10

	KindFunc   byte = 0
	KindMemory byte = 2

	FuncTypeByte byte = 0x60
)

// ValType is a core value type.
type ValType byte

const (
	ValI32 ValType = 0x7F
	ValI64 ValType = 0x7E
	ValF32 ValType = 0x7D
	ValF64 ValType = 0x7C
)

// Opcodes used by generated bodies.
const (
	OpEnd      byte = 0x0B
	OpCall     byte = 0x10
	OpLocalGet byte = 0x20
	OpI32Const byte = 0x41
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is a function import.
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
}

// Func is a defined function. Body holds instructions without the locals
// vector or the trailing end opcode.
type Func struct {
	Body    []byte
	TypeIdx uint32
}

// Export names a function or memory.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Memory is the single linear memory, sized in 64KiB pages.
type Memory struct {
	Min uint32
	Max *uint32
}

// Module is a minimal core module. Function indices count imports first.
type Module struct {
	Memory  *Memory
	Types   []FuncType
	Imports []Import
	Funcs   []Func
	Exports []Export
}

// AddType returns the index of ft, appending it if not present.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if equalVals(t.Params, ft.Params) && equalVals(t.Results, ft.Results) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

func equalVals(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(KindFunc)
			sec.WriteU32(imp.TypeIdx)
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			sec.WriteU32(f.TypeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if m.Memory != nil {
		sec := NewWriter()
		sec.WriteU32(1)
		if m.Memory.Max != nil {
			sec.Byte(0x01)
			sec.WriteU32(m.Memory.Min)
			sec.WriteU32(*m.Memory.Max)
		} else {
			sec.Byte(0x00)
			sec.WriteU32(m.Memory.Min)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, e := range m.Exports {
			sec.WriteName(e.Name)
			sec.Byte(e.Kind)
			sec.WriteU32(e.Index)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			body := NewWriter()
			body.WriteU32(0) // no locals
			body.WriteBytes(f.Body)
			body.Byte(OpEnd)
			sec.WriteU32(uint32(body.Len()))
			sec.WriteBytes(body.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	return w.Bytes()
}

func writeValTypes(w *Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeSection(w *Writer, id byte, content []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(content)))
	w.WriteBytes(content)
}

// Forward returns a body that passes all nparams locals to function idx.
func Forward(idx uint32, nparams int) []byte {
	body := NewWriter()
	for i := 0; i < nparams; i++ {
		body.Byte(OpLocalGet)
		body.WriteU32(uint32(i))
	}
	body.Byte(OpCall)
	body.WriteU32(idx)
	return body.Bytes()
}
