package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/internal/wasmbin"
)

var i32s = []wasmbin.ValType{wasmbin.ValI32}

// guestModule imports add, malloc and free from "host" and re-exports them
// together with one page of memory.
func guestModule() []byte {
	var m wasmbin.Module
	binary := m.AddType(wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.ValI32, wasmbin.ValI32}, Results: i32s})
	unary := m.AddType(wasmbin.FuncType{Params: i32s, Results: i32s})
	sink := m.AddType(wasmbin.FuncType{Params: i32s})

	m.Imports = []wasmbin.Import{
		{Module: "host", Name: "add", TypeIdx: binary},
		{Module: "host", Name: "malloc", TypeIdx: unary},
		{Module: "host", Name: "free", TypeIdx: sink},
	}
	m.Funcs = []wasmbin.Func{
		{TypeIdx: binary, Body: wasmbin.Forward(0, 2)},
		{TypeIdx: unary, Body: wasmbin.Forward(1, 1)},
		{TypeIdx: sink, Body: wasmbin.Forward(2, 1)},
	}
	m.Memory = &wasmbin.Memory{Min: 1}
	m.Exports = []wasmbin.Export{
		{Name: "add", Kind: wasmbin.KindFunc, Index: 3},
		{Name: "malloc", Kind: wasmbin.KindFunc, Index: 4},
		{Name: "free", Kind: wasmbin.KindFunc, Index: 5},
		{Name: "memory", Kind: wasmbin.KindMemory, Index: 0},
	}
	return m.Encode()
}

type hostState struct {
	next  atomic.Uint32
	frees atomic.Int32
}

func newTestEngine(t *testing.T) (*Engine, *hostState) {
	t.Helper()
	ctx := context.Background()

	e, err := New(ctx, &Config{MemoryLimitPages: 16})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })

	state := &hostState{}
	state.next.Store(1024)

	i32 := api.ValueTypeI32
	_, err = e.Runtime().NewHostModuleBuilder("host").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = api.EncodeU32(api.DecodeU32(stack[0]) + api.DecodeU32(stack[1]))
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("add").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			size := api.DecodeU32(stack[0])
			if size > 8192 {
				stack[0] = 0
				return
			}
			stack[0] = api.EncodeU32(state.next.Add(size) - size)
		}), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("malloc").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {
			state.frees.Add(1)
		}), []api.ValueType{i32}, nil).
		Export("free").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("host module: %v", err)
	}
	return e, state
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{CloseOnContextDone: true}, "close on done"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := New(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer e.Close(ctx)

			if e.Runtime() == nil {
				t.Error("runtime should not be nil")
			}
		})
	}
}

func TestEngine_InitWASI_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close(ctx)

	for i := 0; i < 3; i++ {
		if err := e.InitWASI(ctx); err != nil {
			t.Fatalf("InitWASI #%d: %v", i, err)
		}
	}
	if e.Runtime().Module(wasiModuleName) == nil {
		t.Error("WASI module not instantiated")
	}
}

func TestEngine_CompileRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	e, _ := New(ctx, nil)
	defer e.Close(ctx)

	_, err := e.Compile(ctx, nil)
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Errorf("expected invalid input, got %v", err)
	}

	_, err = e.Compile(ctx, []byte("not wasm"))
	if err == nil {
		t.Error("expected compile error")
	}
}

func TestModule_Inspect(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	mod, err := e.Compile(ctx, guestModule())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if !mod.ImportsFrom("host") {
		t.Error("expected host imports")
	}
	if mod.ImportsFrom(wasiModuleName) || mod.ImportsFrom(emscriptenModuleName) {
		t.Error("unexpected WASI or env imports")
	}
}

func TestModule_Validate(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	mod, err := e.Compile(ctx, guestModule())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	add := backend.Signature{Name: "add", Params: []wit.Type{wit.U32{}, wit.U32{}}, Results: []wit.Type{wit.U32{}}}
	tests := []struct {
		name   string
		prefix string
		sigs   []backend.Signature
		kind   errors.Kind
	}{
		{"matching", "", []backend.Signature{add}, ""},
		{"bool lowers to i32", "", []backend.Signature{{Name: "malloc", Params: []wit.Type{wit.U8{}}, Results: []wit.Type{wit.Bool{}}}}, ""},
		{"missing", "", []backend.Signature{{Name: "sub"}}, errors.KindMissingExport},
		{"prefixed missing", "_", []backend.Signature{add}, errors.KindMissingExport},
		{"wrong arity", "", []backend.Signature{{Name: "add", Params: []wit.Type{wit.U32{}}, Results: []wit.Type{wit.U32{}}}}, errors.KindSignatureMismatch},
		{"wrong width", "", []backend.Signature{{Name: "free", Params: []wit.Type{wit.U64{}}}}, errors.KindSignatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mod.Validate(tt.prefix, tt.sigs)
			if tt.kind == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !stderrors.Is(err, &errors.Error{Kind: tt.kind}) {
				t.Errorf("Validate error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestInstance_CallAndMemory(t *testing.T) {
	ctx := context.Background()
	e, state := newTestEngine(t)

	mod, err := e.Compile(ctx, guestModule())
	if err != nil {
		t.Fatal(err)
	}
	inst, err := mod.Instantiate(ctx, &InstanceConfig{Name: "guest"})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	sum, err := inst.Call(ctx, "add", 40, 2)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if api.DecodeU32(sum) != 42 {
		t.Errorf("add(40, 2) = %d", sum)
	}

	if _, err := inst.Call(ctx, "missing"); !stderrors.Is(err, &errors.Error{Kind: errors.KindMissingExport}) {
		t.Errorf("expected missing export, got %v", err)
	}

	mem := inst.Memory()
	if mem == nil {
		t.Fatal("expected exported memory")
	}
	if mem.Size() != wasmPageSize {
		t.Errorf("Size = %d, want %d", mem.Size(), wasmPageSize)
	}

	alloc, err := inst.Allocator("malloc", "free")
	if err != nil {
		t.Fatalf("Allocator: %v", err)
	}
	ptr, err := alloc.Alloc(ctx, 16, 1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if ptr != 1024 {
		t.Errorf("Alloc ptr = %d, want 1024", ptr)
	}

	payload := []byte("ktx2-payload")
	if err := mem.Write(ptr, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	view, err := mem.Read(ptr, uint32(len(payload)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	copied, err := mem.ReadCopy(ptr, uint32(len(payload)))
	if err != nil {
		t.Fatalf("ReadCopy: %v", err)
	}
	_ = mem.Write(ptr, []byte{'K'})
	if view[0] != 'K' {
		t.Error("Read should return a view")
	}
	if !bytes.Equal(copied, payload) {
		t.Errorf("ReadCopy = %q, want %q", copied, payload)
	}

	if _, err := mem.Read(wasmPageSize-2, 4); !stderrors.Is(err, &errors.Error{Kind: errors.KindOutOfBounds}) {
		t.Errorf("expected out of bounds, got %v", err)
	}

	if _, err := alloc.Alloc(ctx, 1<<20, 1); !stderrors.Is(err, &errors.Error{Kind: errors.KindAllocation}) {
		t.Errorf("expected allocation failure, got %v", err)
	}

	alloc.Free(ctx, ptr, 16, 1)
	alloc.Free(ctx, 0, 0, 1)
	if n := state.frees.Load(); n != 1 {
		t.Errorf("free calls = %d, want 1", n)
	}
}

func TestInstance_CloseTwice(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	mod, err := e.Compile(ctx, guestModule())
	if err != nil {
		t.Fatal(err)
	}
	inst, err := mod.Instantiate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := inst.Call(ctx, "add", 1, 2); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("Call after Close = %v, want not initialized", err)
	}
}
