package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

const (
	wasiModuleName       = wasi_snapshot_preview1.ModuleName
	emscriptenModuleName = "env"

	wasmPageSize = 65536
)

// InstantiateWASI instantiates WASI preview1. Emscripten standalone builds
// of the backend import fd_write and proc_exit for diagnostics.
func InstantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasiModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}

// InstantiateEmscripten instantiates the "env" functions the guest imports:
// wazero's emscripten set (memory growth notification, invoke_* trampolines)
// plus the libc helpers a standalone build leaves unresolved.
func InstantiateEmscripten(ctx context.Context, r wazero.Runtime, guest wazero.CompiledModule) (api.Module, error) {
	exporter, err := emscripten.NewFunctionExporterForModule(guest)
	if err != nil {
		return nil, err
	}

	builder := r.NewHostModuleBuilder(emscriptenModuleName)
	exporter.ExportFunctions(builder)

	for _, fn := range guest.ImportedFunctions() {
		module, name, _ := fn.Import()
		if module != emscriptenModuleName {
			continue
		}
		stub, ok := envStubs[name]
		if !ok {
			continue
		}
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(stub.fn, stub.params, stub.results).
			Export(name)
	}

	return builder.Instantiate(ctx)
}

type envStub struct {
	fn      api.GoModuleFunc
	params  []api.ValueType
	results []api.ValueType
}

var i32 = api.ValueTypeI32

var envStubs = map[string]envStub{
	"abort": {
		fn: func(context.Context, api.Module, []uint64) {
			panic("backend called abort")
		},
	},
	"emscripten_memcpy_js":   {fn: memcpy, params: []api.ValueType{i32, i32, i32}},
	"emscripten_memcpy_big":  {fn: memcpy, params: []api.ValueType{i32, i32, i32}},
	"emscripten_resize_heap": {fn: resizeHeap, params: []api.ValueType{i32}, results: []api.ValueType{i32}},
}

func memcpy(_ context.Context, mod api.Module, stack []uint64) {
	dst, src, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	mem := mod.Memory()
	data, ok := mem.Read(src, n)
	if !ok || !mem.Write(dst, data) {
		panic("memcpy out of bounds")
	}
}

func resizeHeap(_ context.Context, mod api.Module, stack []uint64) {
	requested := api.DecodeU32(stack[0])
	mem := mod.Memory()
	current := mem.Size()
	if requested <= current {
		stack[0] = 1
		return
	}
	delta := (requested - current + wasmPageSize - 1) / wasmPageSize
	if _, ok := mem.Grow(delta); !ok {
		Logger().Warn("resize heap refused",
			zap.Uint32("requested", requested),
			zap.Uint32("current", current))
		stack[0] = 0
		return
	}
	stack[0] = 1
}
