package backendtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/internal/wasmbin"
)

// HostModule is the import module name of the guest shim.
const HostModule = "host"

const (
	pageSize  = 65536
	heapStart = 1024
)

type guestBuf struct{ ptr, n uint32 }

// Host backs the guest shim's imports with a Library. Buffers the shim's
// malloc hands out live in guest memory; decoded output is copied into
// guest memory after each successful transcode, as the real backend's
// output lives in its own heap.
type Host struct {
	lib *Library

	mu   sync.Mutex
	next uint32
	dst  map[uint32]guestBuf

	mallocs atomic.Int32
	frees   atomic.Int32
}

// NewHost returns a host over lib.
func NewHost(lib *Library) *Host {
	return &Host{lib: lib, next: heapStart, dst: make(map[uint32]guestBuf)}
}

// Outstanding returns guest malloc calls not matched by a free.
func (h *Host) Outstanding() int {
	return int(h.mallocs.Load() - h.frees.Load())
}

// alloc bumps the guest heap, growing memory as needed. Returns 0 on failure.
func (h *Host) alloc(mem api.Memory, size uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	ptr := (h.next + 7) &^ 7
	end := uint64(ptr) + uint64(size)
	if end > uint64(mem.Size()) {
		delta := (end - uint64(mem.Size()) + pageSize - 1) / pageSize
		if _, ok := mem.Grow(uint32(delta)); !ok {
			return 0
		}
	}
	h.next = uint32(end)
	return ptr
}

// Register instantiates the host module in r. It has the signature of
// isolated.Config.Prepare.
func (h *Host) Register(ctx context.Context, r wazero.Runtime) error {
	sigs, err := backend.ABI()
	if err != nil {
		return err
	}

	impls := map[string]api.GoModuleFunc{
		backend.ExportInit: func(context.Context, api.Module, []uint64) {
			h.lib.Init()
		},
		backend.ExportNew: func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = uint64(uint32(h.lib.New()))
		},
		backend.ExportDelete: func(_ context.Context, _ api.Module, stack []uint64) {
			t := api.DecodeU32(stack[0])
			h.lib.Delete(uintptr(t))
			h.mu.Lock()
			delete(h.dst, t)
			h.mu.Unlock()
		},
		backend.ExportTranscode: func(_ context.Context, mod api.Module, stack []uint64) {
			t := api.DecodeU32(stack[0])
			data, ok := mod.Memory().Read(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			if !ok {
				panic("transcode input out of bounds")
			}
			in := append([]byte(nil), data...)
			if !h.lib.TranscodeImage(uintptr(t), in, uint8(stack[3])) {
				stack[0] = 0
				return
			}
			out := h.lib.DstBuf(uintptr(t))
			ptr := h.alloc(mod.Memory(), uint32(len(out)))
			if ptr == 0 || !mod.Memory().Write(ptr, out) {
				stack[0] = 0
				return
			}
			h.mu.Lock()
			h.dst[t] = guestBuf{ptr: ptr, n: uint32(len(out))}
			h.mu.Unlock()
			stack[0] = 1
		},
		backend.ExportDstBuf: func(_ context.Context, _ api.Module, stack []uint64) {
			h.mu.Lock()
			stack[0] = uint64(h.dst[api.DecodeU32(stack[0])].ptr)
			h.mu.Unlock()
		},
		backend.ExportDstBufLen: func(_ context.Context, _ api.Module, stack []uint64) {
			h.mu.Lock()
			stack[0] = uint64(h.dst[api.DecodeU32(stack[0])].n)
			h.mu.Unlock()
		},
		backend.ExportWidth:        h.getter(h.lib.Width),
		backend.ExportHeight:       h.getter(h.lib.Height),
		backend.ExportLevels:       h.getter(h.lib.Levels),
		backend.ExportLayers:       h.getter(h.lib.Layers),
		backend.ExportFaces:        h.getter(h.lib.Faces),
		backend.ExportTargetFormat: h.getter(h.lib.TargetFormat),
		backend.ExportIsSRGB: func(_ context.Context, _ api.Module, stack []uint64) {
			if h.lib.IsSRGB(uintptr(api.DecodeU32(stack[0]))) {
				stack[0] = 1
			} else {
				stack[0] = 0
			}
		},
		backend.ExportMalloc: func(_ context.Context, mod api.Module, stack []uint64) {
			h.mallocs.Add(1)
			stack[0] = uint64(h.alloc(mod.Memory(), api.DecodeU32(stack[0])))
		},
		backend.ExportFree: func(_ context.Context, _ api.Module, stack []uint64) {
			if api.DecodeU32(stack[0]) != 0 {
				h.frees.Add(1)
			}
		},
	}

	builder := r.NewHostModuleBuilder(HostModule)
	for _, sig := range sigs {
		fn, ok := impls[sig.Name]
		if !ok {
			return fmt.Errorf("backendtest: no host implementation for %s", sig.Name)
		}
		params, results := i32s(sig.Params), i32s(sig.Results)
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(fn, toValueTypes(params), toValueTypes(results)).
			Export(sig.Name)
	}
	_, err = builder.Instantiate(ctx)
	return err
}

func (h *Host) getter(get func(uintptr) uint32) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = uint64(get(uintptr(api.DecodeU32(stack[0]))))
	}
}

// i32s lowers ABI types, all of which are 32-bit or narrower scalars.
func i32s(types []wit.Type) []wasmbin.ValType {
	out := make([]wasmbin.ValType, len(types))
	for i, t := range types {
		switch t.(type) {
		case wit.Bool, wit.U8, wit.U32:
		default:
			panic(fmt.Sprintf("backendtest: unexpected ABI type %T", t))
		}
		out[i] = wasmbin.ValI32
	}
	return out
}

func toValueTypes(types []wasmbin.ValType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i := range types {
		out[i] = api.ValueTypeI32
	}
	return out
}

// GuestModule returns a wasm module exporting every ABI entry point as
// prefix+name, each forwarding to the same-named import from HostModule,
// plus one page of exported memory.
func GuestModule(prefix string) []byte {
	sigs, err := backend.ABI()
	if err != nil {
		panic(err)
	}

	var m wasmbin.Module
	n := uint32(len(sigs))
	for i, sig := range sigs {
		params := i32s(sig.Params)
		ti := m.AddType(wasmbin.FuncType{Params: params, Results: i32s(sig.Results)})
		m.Imports = append(m.Imports, wasmbin.Import{Module: HostModule, Name: sig.Name, TypeIdx: ti})
		m.Funcs = append(m.Funcs, wasmbin.Func{TypeIdx: ti, Body: wasmbin.Forward(uint32(i), len(params))})
		m.Exports = append(m.Exports, wasmbin.Export{Name: prefix + sig.Name, Kind: wasmbin.KindFunc, Index: n + uint32(i)})
	}
	m.Memory = &wasmbin.Memory{Min: 1}
	m.Exports = append(m.Exports, wasmbin.Export{Name: "memory", Kind: wasmbin.KindMemory, Index: 0})
	return m.Encode()
}
