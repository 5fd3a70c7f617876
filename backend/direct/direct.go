package direct

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/resource"
)

// Library is the backend's C entry points. Transcoder values are opaque
// non-zero addresses owned by the library.
type Library interface {
	Init()
	New() uintptr
	Delete(t uintptr)

	// TranscodeImage reads data in place for the duration of the call.
	TranscodeImage(t uintptr, data []byte, mask uint8) bool

	// DstBuf returns a view of the decoded bytes, valid until the next
	// TranscodeImage or Delete on t.
	DstBuf(t uintptr) []byte

	Width(t uintptr) uint32
	Height(t uintptr) uint32
	Levels(t uintptr) uint32
	Layers(t uintptr) uint32
	Faces(t uintptr) uint32
	TargetFormat(t uintptr) uint32
	IsSRGB(t uintptr) bool
}

// libraryInits records which libraries ran their global init, so several
// environments over one process-wide library initialize it once.
var libraryInits sync.Map // Library -> *sync.Once

// Environment calls a Library in-process. Caller memory is passed by
// reference and only the decoded buffer is copied out. Calls on different
// handles run in parallel; Close waits for calls in flight.
type Environment struct {
	mu      sync.RWMutex
	lib     Library
	handles *resource.Arena
	closed  atomic.Bool
}

// New wraps lib. It returns an error if lib is nil.
func New(lib Library) (*Environment, error) {
	if lib == nil {
		return nil, errors.NotInitialized(errors.PhaseBackend, "native library")
	}
	handles := resource.NewArena()
	handles.Subscribe(backend.HandleLogger(backend.KindDirect))
	return &Environment{lib: lib, handles: handles}, nil
}

func (e *Environment) Kind() backend.Kind {
	return backend.KindDirect
}

func (e *Environment) Init(ctx context.Context) error {
	if e.closed.Load() {
		return errors.NotInitialized(errors.PhaseBackend, "closed environment")
	}
	v, _ := libraryInits.LoadOrStore(e.lib, &sync.Once{})
	v.(*sync.Once).Do(func() {
		e.lib.Init()
		backend.Logger().Debug("native backend initialized")
	})
	return nil
}

func (e *Environment) NewHandle(ctx context.Context) (backend.Handle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return 0, errors.NotInitialized(errors.PhaseBackend, "closed environment")
	}
	t := e.lib.New()
	if t == 0 {
		return 0, errors.SessionCreationFailed(nil)
	}
	h, err := e.handles.Insert(resource.Rep(t))
	if err != nil {
		e.lib.Delete(t)
		return 0, errors.SessionCreationFailed(err)
	}
	return h, nil
}

func (e *Environment) DeleteHandle(ctx context.Context, h backend.Handle) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rep, ok := e.handles.Remove(h)
	if !ok {
		return errors.InvalidHandle(uint32(h))
	}
	e.lib.Delete(uintptr(rep))
	return nil
}

// transcoder resolves h. Callers hold e.mu for reading until they are done
// with the address.
func (e *Environment) transcoder(h backend.Handle) (uintptr, error) {
	if e.closed.Load() {
		return 0, errors.NotInitialized(errors.PhaseBackend, "closed environment")
	}
	rep, ok := e.handles.Rep(h)
	if !ok {
		return 0, errors.InvalidHandle(uint32(h))
	}
	return uintptr(rep), nil
}

func (e *Environment) Transcode(ctx context.Context, h backend.Handle, data []byte, mask uint8) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, err := e.transcoder(h)
	if err != nil {
		return false, err
	}
	return e.lib.TranscodeImage(t, data, mask), nil
}

func (e *Environment) getter(h backend.Handle, get func(uintptr) uint32) (uint32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, err := e.transcoder(h)
	if err != nil {
		return 0, err
	}
	return get(t), nil
}

func (e *Environment) Width(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(h, e.lib.Width)
}

func (e *Environment) Height(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(h, e.lib.Height)
}

func (e *Environment) Levels(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(h, e.lib.Levels)
}

func (e *Environment) Layers(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(h, e.lib.Layers)
}

func (e *Environment) Faces(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(h, e.lib.Faces)
}

func (e *Environment) TargetFormat(ctx context.Context, h backend.Handle) (uint32, error) {
	return e.getter(h, e.lib.TargetFormat)
}

func (e *Environment) IsSRGB(ctx context.Context, h backend.Handle) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, err := e.transcoder(h)
	if err != nil {
		return false, err
	}
	return e.lib.IsSRGB(t), nil
}

func (e *Environment) PixelBuffer(ctx context.Context, h backend.Handle) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, err := e.transcoder(h)
	if err != nil {
		return nil, err
	}
	view := e.lib.DstBuf(t)
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

func (e *Environment) Handles() *resource.Arena {
	return e.handles
}

// Close waits for calls in flight, then deletes every transcoder still
// live in the arena.
func (e *Environment) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	leaked := e.handles.Close()
	for _, rep := range leaked {
		e.lib.Delete(uintptr(rep))
	}
	if len(leaked) > 0 {
		backend.Logger().Warn("direct environment closed with live transcoders",
			zap.Int("count", len(leaked)))
	}
	backend.Forget(e)
	return nil
}

var _ backend.Environment = (*Environment)(nil)
