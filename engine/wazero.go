package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	ktx2 "github.com/wippyai/ktx2-transcoder"
	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/errors"
)

// Engine owns one wazero runtime hosting the backend module.
type Engine struct {
	runtime      wazero.Runtime
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CloseOnContextDone makes guest calls observe context cancellation.
	// Off by default: a cancelled transcode leaves the backend heap in an
	// unknown state, so the instance must be discarded afterwards.
	CloseOnContextDone bool
}

// New creates a new engine with custom configuration. A nil cfg uses defaults.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CloseOnContextDone {
			runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return &Engine{runtime: runtime}, nil
}

// Runtime exposes the wazero runtime for registering extra host modules.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// InitWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModuleName) != nil {
		e.wasiInitDone.Store(true)
		return nil
	}

	if _, err := InstantiateWASI(ctx, e.runtime); err != nil {
		if e.runtime.Module(wasiModuleName) == nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Compile compiles the backend module without instantiating it.
func (e *Engine) Compile(ctx context.Context, wasmBytes []byte) (*Module, error) {
	if len(wasmBytes) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "empty wasm module")
	}
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "compile backend module")
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// Module is a compiled backend module.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// ImportsFrom reports whether the module imports any function from module.
func (m *Module) ImportsFrom(module string) bool {
	for _, fn := range m.compiled.ImportedFunctions() {
		if mod, _, ok := fn.Import(); ok && mod == module {
			return true
		}
	}
	return false
}

// Validate checks that every entry point in sigs is exported as
// prefix+name with its lowered core signature. All problems are reported.
func (m *Module) Validate(prefix string, sigs []backend.Signature) error {
	exports := m.compiled.ExportedFunctions()

	var errs error
	for _, sig := range sigs {
		name := prefix + sig.Name
		def, ok := exports[name]
		if !ok {
			errs = multierr.Append(errs, errors.MissingExport(name))
			continue
		}
		errs = multierr.Append(errs, checkExport(name, def, sig))
	}

	if len(m.compiled.ExportedMemories()) == 0 {
		errs = multierr.Append(errs, errors.MissingExport("memory"))
	}
	return errs
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	Name   string
	Stdout io.Writer
	Stderr io.Writer
}

// Instantiate links WASI and emscripten imports when the module needs
// them and runs the reactor initializer if present.
func (m *Module) Instantiate(ctx context.Context, cfg *InstanceConfig) (*Instance, error) {
	if cfg == nil {
		cfg = &InstanceConfig{}
	}

	r := m.engine.runtime
	inst := &Instance{funcs: make(map[string]api.Function)}

	if m.ImportsFrom(wasiModuleName) {
		if err := m.engine.InitWASI(ctx); err != nil {
			return nil, errors.Instantiation(err)
		}
	}

	if m.ImportsFrom(emscriptenModuleName) && r.Module(emscriptenModuleName) == nil {
		env, err := InstantiateEmscripten(ctx, r, m.compiled)
		if err != nil {
			return nil, errors.Instantiation(err)
		}
		inst.env = env
	}

	modCfg := wazero.NewModuleConfig().
		WithName(cfg.Name).
		WithStartFunctions("_initialize")
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}

	mod, err := r.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		if inst.env != nil {
			_ = inst.env.Close(ctx)
		}
		return nil, errors.Instantiation(err)
	}
	inst.module = mod

	if mem := mod.Memory(); mem != nil {
		inst.memory = &Memory{mem: mem}
	}
	return inst, nil
}

// Instance is a running backend module. It is NOT safe for concurrent use;
// callers serialize access.
type Instance struct {
	module   api.Module
	env      api.Module
	funcs    map[string]api.Function
	memory   *Memory
	stackBuf []uint64
}

// Function returns an exported function, cached after first lookup.
func (i *Instance) Function(name string) (api.Function, error) {
	if fn, ok := i.funcs[name]; ok {
		return fn, nil
	}
	if i.module == nil {
		return nil, errors.NotInitialized(errors.PhaseBackend, "instance")
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.MissingExport(name)
	}
	i.funcs[name] = fn
	return fn, nil
}

// Call invokes an export and returns its first result, or 0 if it has none.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	fn, err := i.Function(name)
	if err != nil {
		return 0, err
	}

	def := fn.Definition()
	n := max(len(def.ParamTypes()), len(def.ResultTypes()), len(args))
	if cap(i.stackBuf) < n {
		i.stackBuf = make([]uint64, n)
	}
	stack := i.stackBuf[:n]
	copy(stack, args)

	if err := fn.CallWithStack(ctx, stack); err != nil {
		return 0, errors.Trap(name, err)
	}
	if len(def.ResultTypes()) == 0 {
		return 0, nil
	}
	return stack[0], nil
}

// Memory returns the module's exported linear memory, or nil.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// Allocator returns an allocator backed by the module's malloc and free exports.
func (i *Instance) Allocator(mallocName, freeName string) (*Allocator, error) {
	mallocFn, err := i.Function(mallocName)
	if err != nil {
		return nil, err
	}
	freeFn, err := i.Function(freeName)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		mallocFn: mallocFn,
		freeFn:   freeFn,
		stackBuf: make([]uint64, 1),
	}, nil
}

func (i *Instance) Close(ctx context.Context) error {
	var errs error
	if i.module != nil {
		errs = multierr.Append(errs, i.module.Close(ctx))
		i.module = nil
	}
	if i.env != nil {
		errs = multierr.Append(errs, i.env.Close(ctx))
		i.env = nil
	}
	i.funcs = nil
	i.memory = nil
	i.stackBuf = nil
	return errs
}

// Allocator calls the backend's malloc and free. Alignment and size on free
// are ignored: malloc aligns for any scalar and free takes only the pointer.
type Allocator struct {
	mallocFn   api.Function
	freeFn     api.Function
	stackBuf   []uint64
	stackMutex sync.Mutex
}

func (a *Allocator) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	a.stackMutex.Lock()
	defer a.stackMutex.Unlock()

	a.stackBuf[0] = api.EncodeU32(size)
	if err := a.mallocFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseBackend, size, err)
	}
	ptr := api.DecodeU32(a.stackBuf[0])
	if ptr == 0 && size != 0 {
		return 0, errors.AllocationFailed(errors.PhaseBackend, size, nil)
	}
	return ptr, nil
}

func (a *Allocator) Free(ctx context.Context, ptr, size, align uint32) {
	if ptr == 0 {
		return
	}

	a.stackMutex.Lock()
	defer a.stackMutex.Unlock()

	a.stackBuf[0] = api.EncodeU32(ptr)
	if err := a.freeFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
		Logger().Warn("Free: failed to release scratch buffer",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// Memory wraps wazero memory to implement ktx2transcoder.Memory
type Memory struct {
	mem api.Memory
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseBackend, offset, length)
	}
	return data, nil
}

// ReadCopy reads length bytes into a new slice that outlives memory growth.
func (m *Memory) ReadCopy(offset uint32, length uint32) ([]byte, error) {
	data, err := m.Read(offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseBackend, offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time check that Memory implements ktx2transcoder.Memory
var _ ktx2.Memory = (*Memory)(nil)

// Compile-time check that Allocator implements ktx2transcoder.Allocator
var _ ktx2.Allocator = (*Allocator)(nil)
