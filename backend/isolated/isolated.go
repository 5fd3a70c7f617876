package isolated

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	ktx2 "github.com/wippyai/ktx2-transcoder"
	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/engine"
	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/resource"
)

// DefaultModuleName names the backend instance inside its runtime.
const DefaultModuleName = "basisu"

// Config holds configuration for the isolated environment.
type Config struct {
	// MemoryLimitPages caps the backend's linear memory (64KB pages).
	// 0 keeps the runtime default.
	MemoryLimitPages uint32

	// ModuleName is the instance name. Defaults to DefaultModuleName.
	ModuleName string

	// ExportPrefix is prepended to every ABI export name, for toolchains
	// that mangle C symbols (emscripten builds without EXPORT_NAME rewriting
	// export "_malloc").
	ExportPrefix string

	// CloseOnContextDone makes guest calls stop when their context is done.
	// An interrupted call closes the backend instance and every later call
	// fails; discard the environment.
	CloseOnContextDone bool

	// Stdout and Stderr receive the backend's WASI output. Discarded if nil.
	Stdout io.Writer
	Stderr io.Writer

	// Prepare registers extra host modules the backend imports. It runs
	// after the runtime is created and before the backend is instantiated.
	Prepare func(ctx context.Context, r wazero.Runtime) error
}

// Environment runs the backend as a wasm module in its own wazero runtime.
// Container bytes are copied into the sandbox and the decoded buffer is
// copied out; no pointer crosses the boundary. One mutex serializes every
// guest call.
type Environment struct {
	mu      sync.Mutex
	engine  *engine.Engine
	inst    *engine.Instance
	mem     ktx2.Memory
	alloc   ktx2.Allocator
	handles *resource.Arena
	prefix  string
	closed  bool
}

// New compiles wasmBytes, checks it against the backend ABI and
// instantiates it. A nil cfg uses defaults.
func New(ctx context.Context, wasmBytes []byte, cfg *Config) (*Environment, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	name := cfg.ModuleName
	if name == "" {
		name = DefaultModuleName
	}

	eng, err := engine.New(ctx, &engine.Config{
		MemoryLimitPages:   cfg.MemoryLimitPages,
		CloseOnContextDone: cfg.CloseOnContextDone,
	})
	if err != nil {
		return nil, err
	}

	env, err := build(ctx, eng, wasmBytes, name, cfg)
	if err != nil {
		return nil, multierr.Append(err, eng.Close(ctx))
	}
	return env, nil
}

func build(ctx context.Context, eng *engine.Engine, wasmBytes []byte, name string, cfg *Config) (*Environment, error) {
	if cfg.Prepare != nil {
		if err := cfg.Prepare(ctx, eng.Runtime()); err != nil {
			return nil, errors.Instantiation(err)
		}
	}

	mod, err := eng.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}

	sigs, err := backend.ABI()
	if err != nil {
		return nil, err
	}
	if err := mod.Validate(cfg.ExportPrefix, sigs); err != nil {
		return nil, err
	}

	inst, err := mod.Instantiate(ctx, &engine.InstanceConfig{
		Name:   name,
		Stdout: cfg.Stdout,
		Stderr: cfg.Stderr,
	})
	if err != nil {
		return nil, err
	}

	mem := inst.Memory()
	if mem == nil {
		return nil, multierr.Append(errors.MissingExport("memory"), inst.Close(ctx))
	}

	alloc, err := inst.Allocator(cfg.ExportPrefix+backend.ExportMalloc, cfg.ExportPrefix+backend.ExportFree)
	if err != nil {
		return nil, multierr.Append(err, inst.Close(ctx))
	}

	backend.Logger().Debug("isolated backend instantiated",
		zap.String("module", name),
		zap.Uint32("memory_bytes", mem.Size()))

	handles := resource.NewArena()
	handles.Subscribe(backend.HandleLogger(backend.KindIsolated))

	return &Environment{
		engine:  eng,
		inst:    inst,
		mem:     mem,
		alloc:   alloc,
		handles: handles,
		prefix:  cfg.ExportPrefix,
	}, nil
}

func (e *Environment) Kind() backend.Kind {
	return backend.KindIsolated
}

// call invokes an ABI export. Callers hold e.mu.
func (e *Environment) call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	if e.closed {
		return 0, errors.NotInitialized(errors.PhaseBackend, "closed environment")
	}
	return e.inst.Call(ctx, e.prefix+name, args...)
}

func (e *Environment) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.call(ctx, backend.ExportInit)
	return err
}

func (e *Environment) NewHandle(ctx context.Context) (backend.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ret, err := e.call(ctx, backend.ExportNew)
	if err != nil {
		return 0, errors.SessionCreationFailed(err)
	}
	t := api.DecodeU32(ret)
	if t == 0 {
		return 0, errors.SessionCreationFailed(nil)
	}
	h, err := e.handles.Insert(resource.Rep(t))
	if err != nil {
		_, _ = e.call(ctx, backend.ExportDelete, api.EncodeU32(t))
		return 0, errors.SessionCreationFailed(err)
	}
	return h, nil
}

func (e *Environment) DeleteHandle(ctx context.Context, h backend.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep, ok := e.handles.Remove(h)
	if !ok {
		return errors.InvalidHandle(uint32(h))
	}
	_, err := e.call(ctx, backend.ExportDelete, uint64(rep))
	return err
}

func (e *Environment) transcoder(h backend.Handle) (uint64, error) {
	rep, ok := e.handles.Rep(h)
	if !ok {
		return 0, errors.InvalidHandle(uint32(h))
	}
	return uint64(rep), nil
}

// Transcode copies data into a scratch buffer that is freed before return,
// whatever the outcome.
func (e *Environment) Transcode(ctx context.Context, h backend.Handle, data []byte, mask uint8) (bool, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return false, errors.InvalidInput(errors.PhaseTranscode, "container larger than 4GiB")
	}
	size := uint32(len(data))

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.transcoder(h)
	if err != nil {
		return false, err
	}
	if e.closed {
		return false, errors.NotInitialized(errors.PhaseBackend, "closed environment")
	}

	ptr, err := e.alloc.Alloc(ctx, size, 1)
	if err != nil {
		return false, err
	}
	defer e.alloc.Free(ctx, ptr, size, 1)

	if err := e.mem.Write(ptr, data); err != nil {
		return false, err
	}

	ret, err := e.call(ctx, backend.ExportTranscode, t, api.EncodeU32(ptr), api.EncodeU32(size), uint64(mask))
	if err != nil {
		return false, err
	}
	return api.DecodeU32(ret) != 0, nil
}

func (e *Environment) getter(ctx context.Context, h backend.Handle, name string) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.transcoder(h)
	if err != nil {
		return 0, err
	}
	ret, err := e.call(ctx, name, t)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(ret), nil
}

func (e *Environment) Width(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(ctx, h, backend.ExportWidth)
}

func (e *Environment) Height(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(ctx, h, backend.ExportHeight)
}

func (e *Environment) Levels(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(ctx, h, backend.ExportLevels)
}

func (e *Environment) Layers(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(ctx, h, backend.ExportLayers)
}

func (e *Environment) Faces(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(ctx, h, backend.ExportFaces)
}

func (e *Environment) TargetFormat(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(ctx, h, backend.ExportTargetFormat)
}

func (e *Environment) IsSRGB(ctx context.Context, h backend.Handle) (bool, error) {
	v, err := e.getter(ctx, h, backend.ExportIsSRGB)
	return v != 0, err
}

func (e *Environment) PixelBuffer(ctx context.Context, h backend.Handle) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.transcoder(h)
	if err != nil {
		return nil, err
	}
	ptr, err := e.call(ctx, backend.ExportDstBuf, t)
	if err != nil {
		return nil, err
	}
	n, err := e.call(ctx, backend.ExportDstBufLen, t)
	if err != nil {
		return nil, err
	}
	return copyOut(e.mem, api.DecodeU32(ptr), api.DecodeU32(n))
}

// copyOut copies the decoded buffer out of linear memory. A null buffer
// with a non-zero length is a backend fault, not pixel data.
func copyOut(mem ktx2.Memory, ptr, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if ptr == 0 {
		return nil, errors.InvariantViolation(errors.PhaseBackend, n, "null destination buffer with non-zero length")
	}
	return mem.ReadCopy(ptr, n)
}

func (e *Environment) Handles() *resource.Arena {
	return e.handles
}

// Close deletes live transcoders and tears down the runtime.
func (e *Environment) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	var errs error
	leaked := e.handles.Close()
	for _, rep := range leaked {
		_, err := e.call(ctx, backend.ExportDelete, uint64(rep))
		errs = multierr.Append(errs, err)
	}
	if len(leaked) > 0 {
		backend.Logger().Warn("isolated environment closed with live transcoders",
			zap.Int("count", len(leaked)))
	}

	e.closed = true
	errs = multierr.Append(errs, e.inst.Close(ctx))
	errs = multierr.Append(errs, e.engine.Close(ctx))
	backend.Forget(e)
	return errs
}

var _ backend.Environment = (*Environment)(nil)
