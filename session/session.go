package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/capability"
	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/format"
	"github.com/wippyai/ktx2-transcoder/topology"
)

// Stage names reported by TranscodeFailed.
const (
	StageNew       = "new"
	StageTranscode = "transcode_image"
	StageMetadata  = "get_metadata"
	StageDstBuf    = "get_dst_buf"
)

// State is a session's lifecycle position.
type State uint8

const (
	StateCreated State = iota
	StateTranscoded
	// StateFailed follows a rejected transcode; only Destroy is accepted.
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateTranscoded:
		return "transcoded"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type metadata struct {
	width, height uint32
	levels        uint32
	layers, faces uint32
	target        uint32
	srgb          bool
}

// Session owns one backend transcoder for a single container. All methods
// are serialized; distinct sessions share nothing but their environment.
type Session struct {
	mu     sync.Mutex
	env    backend.Environment
	handle backend.Handle
	state  State
	meta   metadata
	pixels []byte
	read   bool
}

// New allocates a backend transcoder. The token proves the environment
// was initialized.
func New(ctx context.Context, tok *backend.Token) (*Session, error) {
	if tok == nil || tok.Environment() == nil {
		return nil, errors.NotInitialized(errors.PhaseSession, "backend token")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.SessionCreationFailed(err)
	}

	env := tok.Environment()
	h, err := env.NewHandle(ctx)
	if err != nil {
		if errors.IsKind(err, errors.KindSessionCreationFailed) {
			return nil, err
		}
		return nil, errors.SessionCreationFailed(err)
	}
	if h == 0 {
		return nil, errors.SessionCreationFailed(nil)
	}

	Logger().Debug("session created",
		zap.Uint32("handle", uint32(h)),
		zap.Stringer("env", env.Kind()))

	return &Session{env: env, handle: h}, nil
}

// Run creates a session, passes it to fn and destroys it on every exit
// path. Errors from fn and Destroy are combined.
func Run(ctx context.Context, tok *backend.Token, fn func(*Session) error) (err error) {
	s, err := New(ctx, tok)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Destroy(ctx))
	}()
	return fn(s)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the environment handle backing the session.
func (s *Session) Handle() backend.Handle {
	return s.handle
}

// Transcode hands data to the backend with the negotiated mask. It is
// accepted once, in StateCreated. On success the metadata is read and
// cached; on failure the session moves to StateFailed.
func (s *Session) Transcode(ctx context.Context, data []byte, mask capability.Mask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return errors.InvalidState("transcode", s.state.String())
	}

	ok, err := s.env.Transcode(ctx, s.handle, data, uint8(mask))
	if err != nil || !ok {
		s.state = StateFailed
		Logger().Debug("transcode rejected",
			zap.Uint32("handle", uint32(s.handle)),
			zap.Stringer("mask", mask),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return errors.TranscodeFailed(StageTranscode, err)
	}

	meta, err := s.readMetadata(ctx)
	if err != nil {
		s.state = StateFailed
		return errors.TranscodeFailed(StageMetadata, err)
	}
	s.meta = meta
	s.state = StateTranscoded

	Logger().Debug("transcoded",
		zap.Uint32("handle", uint32(s.handle)),
		zap.Stringer("mask", mask),
		zap.Stringer("format", format.Code(meta.target)),
		zap.Uint32("width", meta.width),
		zap.Uint32("height", meta.height),
		zap.Uint32("levels", meta.levels))
	return nil
}

func (s *Session) readMetadata(ctx context.Context) (metadata, error) {
	var m metadata
	fields := []struct {
		dst *uint32
		get func(context.Context, backend.Handle) (uint32, error)
	}{
		{&m.width, s.env.Width},
		{&m.height, s.env.Height},
		{&m.levels, s.env.Levels},
		{&m.layers, s.env.Layers},
		{&m.faces, s.env.Faces},
		{&m.target, s.env.TargetFormat},
	}
	for _, f := range fields {
		v, err := f.get(ctx, s.handle)
		if err != nil {
			return metadata{}, err
		}
		*f.dst = v
	}
	srgb, err := s.env.IsSRGB(ctx, s.handle)
	if err != nil {
		return metadata{}, err
	}
	m.srgb = srgb
	return m, nil
}

// transcoded checks the getter precondition. Callers hold s.mu.
func (s *Session) transcoded(op string) error {
	if s.state != StateTranscoded {
		return errors.InvalidState(op, s.state.String())
	}
	return nil
}

func (s *Session) Width() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("width"); err != nil {
		return 0, err
	}
	return s.meta.width, nil
}

func (s *Session) Height() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("height"); err != nil {
		return 0, err
	}
	return s.meta.height, nil
}

func (s *Session) Levels() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("levels"); err != nil {
		return 0, err
	}
	return s.meta.levels, nil
}

func (s *Session) Layers() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("layers"); err != nil {
		return 0, err
	}
	return s.meta.layers, nil
}

func (s *Session) Faces() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("faces"); err != nil {
		return 0, err
	}
	return s.meta.faces, nil
}

func (s *Session) IsSRGB() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("is_srgb"); err != nil {
		return false, err
	}
	return s.meta.srgb, nil
}

// TargetFormat returns the backend's output code, unmapped.
func (s *Session) TargetFormat() (format.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("target_format"); err != nil {
		return 0, err
	}
	return format.Code(s.meta.target), nil
}

// PixelBuffer returns the decoded bytes, levels outermost, then layers,
// then faces. The first call copies them out of the backend; later calls
// return the same slice, which belongs to the caller.
func (s *Session) PixelBuffer(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("pixel_buffer"); err != nil {
		return nil, err
	}
	return s.pixelBuffer(ctx)
}

func (s *Session) pixelBuffer(ctx context.Context) ([]byte, error) {
	if s.read {
		return s.pixels, nil
	}
	buf, err := s.env.PixelBuffer(ctx, s.handle)
	if err != nil {
		return nil, errors.TranscodeFailed(StageDstBuf, err)
	}
	s.pixels, s.read = buf, true
	return buf, nil
}

// Image maps the cached metadata to GPU terms and bundles it with the
// pixel buffer.
func (s *Session) Image(ctx context.Context) (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transcoded("image"); err != nil {
		return nil, err
	}

	m := s.meta
	target, err := format.Map(format.Code(m.target), m.srgb)
	if err != nil {
		return nil, err
	}
	topo, err := topology.Resolve(m.layers, m.faces, m.width, m.height)
	if err != nil {
		return nil, err
	}
	pixels, err := s.pixelBuffer(ctx)
	if err != nil {
		return nil, err
	}

	return &Image{
		pixels:    pixels,
		gpuFormat: target.Format,
		encoding:  target.Encoding,
		code:      format.Code(m.target),
		srgb:      m.srgb,
		width:     m.width,
		height:    m.height,
		levels:    m.levels,
		layers:    m.layers,
		faces:     m.faces,
		topology:  topo,
	}, nil
}

// Destroy releases the backend transcoder. It is accepted in every state
// but StateDestroyed; a second call is reported, never retried.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		Logger().Error("session destroyed twice", zap.Uint32("handle", uint32(s.handle)))
		return errors.InvalidState("destroy", s.state.String())
	}

	s.state = StateDestroyed
	if err := s.env.DeleteHandle(ctx, s.handle); err != nil {
		return errors.Wrap(errors.PhaseSession, errors.KindInvalidHandle, err, "release transcoder")
	}
	Logger().Debug("session destroyed", zap.Uint32("handle", uint32(s.handle)))
	return nil
}
