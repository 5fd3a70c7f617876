package loader

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/backend/direct"
	"github.com/wippyai/ktx2-transcoder/backend/isolated"
	"github.com/wippyai/ktx2-transcoder/capability"
	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/format"
	"github.com/wippyai/ktx2-transcoder/session"
)

// DefaultUsage is the texture usage applied when Settings.Usage is zero.
const DefaultUsage = gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc

// Config selects and configures the environment a Loader owns.
type Config struct {
	// Environment is "direct" or "isolated". Empty picks isolated when WASM
	// is set and direct otherwise.
	Environment string

	// Features describes the device's compressed-texture support.
	Features capability.Features

	// WASM is the backend module for the isolated environment.
	WASM []byte

	// Isolated configures the isolated environment. Optional.
	Isolated *isolated.Config

	// Library is the backend for the direct environment. Nil uses
	// direct.Native.
	Library direct.Library
}

// Settings are consumer options copied into every loaded Texture.
type Settings struct {
	Label string

	// Sampler defaults to gputypes.DefaultSamplerDescriptor.
	Sampler *gputypes.SamplerDescriptor

	// Usage defaults to DefaultUsage.
	Usage gputypes.TextureUsage
}

// Texture is a loaded container with the descriptors needed to create and
// view it on a device.
type Texture struct {
	Image       *session.Image
	Descriptor  gputypes.TextureDescriptor
	View        gputypes.TextureViewDescriptor
	Sampler     gputypes.SamplerDescriptor
	Compression Compression
}

// Data returns every subresource, mip levels outermost.
func (t *Texture) Data() []byte {
	return t.Image.Pixels()
}

// Loader turns KTX2 bytes into Textures using one environment and one
// negotiated capability mask. It is safe for concurrent use.
//
// WebGPU has no ASTC HDR texture format, so a Loader never asks the backend
// for ASTC HDR output even when the mask allows it; HDR sources come back as
// BC6H or RGBA16Float instead.
type Loader struct {
	env   backend.Environment
	tok   *backend.Token
	mask  capability.Mask
	owned atomic.Bool
}

// New builds the configured environment, initializes it and negotiates the
// capability mask. The Loader owns the environment.
func New(ctx context.Context, cfg *Config) (*Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	kind := backend.KindDirect
	if len(cfg.WASM) > 0 {
		kind = backend.KindIsolated
	}
	if cfg.Environment != "" {
		k, err := backend.ParseKind(cfg.Environment)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "environment")
		}
		kind = k
	}

	env, err := newEnvironment(ctx, kind, cfg)
	if err != nil {
		return nil, err
	}

	tok, err := backend.Initialize(ctx, env)
	if err != nil {
		return nil, multierr.Append(err, env.Close(ctx))
	}
	neg, err := capability.NewNegotiator(tok)
	if err != nil {
		return nil, multierr.Append(err, env.Close(ctx))
	}

	l := &Loader{env: env, tok: tok, mask: neg.Negotiate(cfg.Features)}
	l.owned.Store(true)
	Logger().Info("loader ready",
		zap.Stringer("env", kind),
		zap.Stringer("mask", l.mask))
	return l, nil
}

func newEnvironment(ctx context.Context, kind backend.Kind, cfg *Config) (backend.Environment, error) {
	switch kind {
	case backend.KindDirect:
		lib := cfg.Library
		if lib == nil {
			native, err := direct.Native()
			if err != nil {
				return nil, err
			}
			lib = native
		}
		return direct.New(lib)

	case backend.KindIsolated:
		if len(cfg.WASM) == 0 {
			return nil, errors.InvalidInput(errors.PhaseLoad, "isolated environment needs a wasm module")
		}
		return isolated.New(ctx, cfg.WASM, cfg.Isolated)

	default:
		return nil, errors.Unsupported(errors.PhaseLoad, "environment "+kind.String())
	}
}

// FromToken returns a Loader over an environment the caller owns.
func FromToken(tok *backend.Token, mask capability.Mask) (*Loader, error) {
	if tok == nil || tok.Environment() == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "backend token")
	}
	return &Loader{env: tok.Environment(), tok: tok, mask: mask}, nil
}

// WithMask returns a Loader that shares l's environment but transcodes
// with mask. Closing it leaves the environment open.
func (l *Loader) WithMask(mask capability.Mask) *Loader {
	return &Loader{env: l.env, tok: l.tok, mask: mask}
}

// Extensions returns the file extensions the loader accepts.
func (l *Loader) Extensions() []string {
	return []string{"ktx2"}
}

// Mask returns the negotiated capability mask, ASTC HDR included.
func (l *Loader) Mask() capability.Mask {
	return l.mask
}

// Environment returns the environment the loader transcodes with.
func (l *Loader) Environment() backend.Environment {
	return l.env
}

// Load reads r to the end and loads the result. Read errors are returned
// as InputReadFailed wrapping the reader's error.
func (l *Loader) Load(ctx context.Context, r io.Reader, settings *Settings) (*Texture, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.InputReadFailed(err)
	}
	return l.LoadBytes(ctx, data, settings)
}

// LoadBytes transcodes one container, unwrapping an outer zstd or gzip
// stream first.
func (l *Loader) LoadBytes(ctx context.Context, data []byte, settings *Settings) (*Texture, error) {
	if settings == nil {
		settings = &Settings{}
	}

	raw, compression, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	if compression != CompressionNone {
		Logger().Debug("unwrapped container",
			zap.Stringer("compression", compression),
			zap.Int("compressed", len(data)),
			zap.Int("bytes", len(raw)))
	}

	var img *session.Image
	err = session.Run(ctx, l.tok, func(s *session.Session) error {
		if err := s.Transcode(ctx, raw, l.mask&^capability.ASTCHDR); err != nil {
			return err
		}
		var err error
		img, err = s.Image(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	enc := img.Encoding()
	if enc.Channel == format.ChannelHDR {
		return nil, errors.New(errors.PhaseMap, errors.KindUnsupported).
			Value(img.Code()).
			Detail("backend returned %s, which no GPU texture format describes", img.Code()).
			Build()
	}
	if !enc.Aligned(img.Width(), img.Height()) {
		Logger().Warn("texture extent is not a multiple of the block size",
			zap.String("label", settings.Label),
			zap.Stringer("format", img.Format()),
			zap.Uint32("width", img.Width()),
			zap.Uint32("height", img.Height()),
			zap.Uint32("block_width", enc.BlockWidth),
			zap.Uint32("block_height", enc.BlockHeight))
	}

	return newTexture(img, settings, compression), nil
}

func newTexture(img *session.Image, settings *Settings, compression Compression) *Texture {
	usage := settings.Usage
	if usage == 0 {
		usage = DefaultUsage
	}
	sampler := gputypes.DefaultSamplerDescriptor()
	if settings.Sampler != nil {
		sampler = *settings.Sampler
	}
	topo := img.Topology()

	return &Texture{
		Image: img,
		Descriptor: gputypes.TextureDescriptor{
			Label:         settings.Label,
			Size:          topo.Extent,
			MipLevelCount: img.Levels(),
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        img.Format(),
			Usage:         usage,
		},
		View: gputypes.TextureViewDescriptor{
			Label:           settings.Label,
			Format:          img.Format(),
			Dimension:       topo.View,
			Aspect:          gputypes.TextureAspectAll,
			MipLevelCount:   img.Levels(),
			ArrayLayerCount: topo.ArrayLayers(),
		},
		Sampler:     sampler,
		Compression: compression,
	}
}

// Close releases the environment if the loader owns it. Only the first
// call closes.
func (l *Loader) Close(ctx context.Context) error {
	if !l.owned.CompareAndSwap(true, false) {
		return nil
	}
	return l.env.Close(ctx)
}

// Upload creates a device texture from the first level, layer and face of
// an uncompressed RGBA8 texture. Compressed formats need a device path that
// accepts block data and are rejected.
func Upload(creator gpucontext.TextureCreator, tex *Texture) (gpucontext.Texture, error) {
	if creator == nil || tex == nil || tex.Image == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "upload needs a creator and a texture")
	}
	f := tex.Image.Format()
	if f != gputypes.TextureFormatRGBA8Unorm && f != gputypes.TextureFormatRGBA8UnormSrgb {
		return nil, errors.Unsupported(errors.PhaseLoad, "RGBA upload of "+f.String())
	}
	data, err := tex.Image.Subresource(0, 0, 0)
	if err != nil {
		return nil, err
	}
	return creator.NewTextureFromRGBA(int(tex.Image.Width()), int(tex.Image.Height()), data)
}
