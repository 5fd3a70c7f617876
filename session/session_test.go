package session

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/capability"
	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/format"
	"github.com/wippyai/ktx2-transcoder/internal/backendtest"
)

// tokens returns an initialized token for each environment kind.
func tokens(t *testing.T) map[backend.Kind]*backend.Token {
	t.Helper()
	ctx := context.Background()
	envs, err := backendtest.Environments(ctx, t.Cleanup)
	if err != nil {
		t.Fatalf("environments: %v", err)
	}
	toks := make(map[backend.Kind]*backend.Token, len(envs))
	for kind, env := range envs {
		tok, err := backend.Initialize(ctx, env)
		if err != nil {
			t.Fatalf("%v: %v", kind, err)
		}
		toks[kind] = tok
	}
	return toks
}

func stageOf(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Stage
	}
	return ""
}

var simple = backendtest.Texture{
	Basis: backendtest.UASTC4x4, Channel: backendtest.ChannelRGBA,
	Width: 8, Height: 8, Levels: 1, Faces: 1,
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(context.Background(), nil); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Fatalf("New(nil) = %v", err)
	}
}

func TestNew_InvalidHandle(t *testing.T) {
	ctx := context.Background()
	lib := backendtest.NewLibrary()
	lib.FailNew.Store(true)

	dir, _ := backendtest.NewDirectWith(lib)
	defer dir.Close(ctx)
	iso, _, err := backendtest.NewIsolatedWith(ctx, lib, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer iso.Close(ctx)

	for _, env := range []backend.Environment{dir, iso} {
		tok, err := backend.Initialize(ctx, env)
		if err != nil {
			t.Fatal(err)
		}
		_, err = New(ctx, tok)
		if !stderrors.Is(err, errors.ErrSessionCreationFailed) {
			t.Errorf("%v: New = %v, want session creation failed", env.Kind(), err)
		}
		if stageOf(err) != StageNew {
			t.Errorf("%v: stage = %q", env.Kind(), stageOf(err))
		}
	}
}

func TestNew_CancelledContext(t *testing.T) {
	toks := tokens(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(ctx, toks[backend.KindDirect]); !stderrors.Is(err, errors.ErrSessionCreationFailed) {
		t.Errorf("New = %v", err)
	}
	if n := toks[backend.KindDirect].Environment().Handles().Len(); n != 0 {
		t.Errorf("%d handles allocated", n)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	for kind, tok := range tokens(t) {
		t.Run(kind.String(), func(t *testing.T) {
			s, err := New(ctx, tok)
			if err != nil {
				t.Fatal(err)
			}
			if s.State() != StateCreated {
				t.Fatalf("state = %v", s.State())
			}

			if _, err := s.Width(); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("Width before transcode = %v", err)
			}
			if _, err := s.PixelBuffer(ctx); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("PixelBuffer before transcode = %v", err)
			}
			if _, err := s.Image(ctx); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("Image before transcode = %v", err)
			}

			if err := s.Transcode(ctx, backendtest.Encode(simple), capability.BC); err != nil {
				t.Fatal(err)
			}
			if s.State() != StateTranscoded {
				t.Fatalf("state = %v", s.State())
			}
			if err := s.Transcode(ctx, backendtest.Encode(simple), capability.BC); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("second Transcode = %v", err)
			}

			if w, err := s.Width(); err != nil || w != 8 {
				t.Errorf("Width = %d, %v", w, err)
			}

			if err := s.Destroy(ctx); err != nil {
				t.Fatal(err)
			}
			if tok.Environment().Handles().Len() != 0 {
				t.Error("handle not released")
			}

			if _, err := s.Height(); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("Height after destroy = %v", err)
			}
			if err := s.Transcode(ctx, nil, capability.None); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("Transcode after destroy = %v", err)
			}

			err = s.Destroy(ctx)
			if !stderrors.Is(err, errors.ErrInvariantViolation) || !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("double Destroy = %v", err)
			}
		})
	}
}

func TestTranscode_Failure(t *testing.T) {
	ctx := context.Background()
	for kind, tok := range tokens(t) {
		t.Run(kind.String(), func(t *testing.T) {
			s, err := New(ctx, tok)
			if err != nil {
				t.Fatal(err)
			}

			err = s.Transcode(ctx, []byte("not a ktx2 file"), capability.All)
			if !stderrors.Is(err, errors.ErrTranscodeFailed) {
				t.Fatalf("Transcode = %v", err)
			}
			if stageOf(err) != StageTranscode {
				t.Errorf("stage = %q, want %q", stageOf(err), StageTranscode)
			}
			if s.State() != StateFailed {
				t.Errorf("state = %v", s.State())
			}

			if _, err := s.Faces(); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("Faces after failure = %v", err)
			}
			if err := s.Transcode(ctx, backendtest.Encode(simple), capability.All); !stderrors.Is(err, errors.ErrInvalidState) {
				t.Errorf("retry after failure = %v", err)
			}

			if err := s.Destroy(ctx); err != nil {
				t.Fatalf("Destroy after failure = %v", err)
			}
			if tok.Environment().Handles().Len() != 0 {
				t.Error("handle not released")
			}
		})
	}
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		tex        backendtest.Texture
		mask       capability.Mask
		wantFormat gputypes.TextureFormat
		wantSRGB   bool
		wantView   gputypes.TextureViewDimension
		wantDepth  uint32
		compressed bool
	}{
		{
			name:       "etc2 mask etc1s",
			tex:        backendtest.Texture{Basis: backendtest.ETC1S, Channel: backendtest.ChannelRGBA, Width: 32, Height: 32, Levels: 6, Faces: 1},
			mask:       capability.ETC2,
			wantFormat: gputypes.TextureFormatETC2RGBA8Unorm,
			wantView:   gputypes.TextureViewDimension2D,
			wantDepth:  1,
			compressed: true,
		},
		{
			name:       "bc mask uastc srgb",
			tex:        backendtest.Texture{Basis: backendtest.UASTC4x4, Channel: backendtest.ChannelRGBA, SRGB: true, Width: 16, Height: 16, Levels: 1, Faces: 1},
			mask:       capability.BC,
			wantFormat: gputypes.TextureFormatBC7RGBAUnormSrgb,
			wantSRGB:   true,
			wantView:   gputypes.TextureViewDimension2D,
			wantDepth:  1,
			compressed: true,
		},
		{
			name:       "no compression",
			tex:        backendtest.Texture{Basis: backendtest.UASTC4x4, Channel: backendtest.ChannelRGB, Width: 5, Height: 3, Levels: 1, Faces: 1},
			mask:       capability.None,
			wantFormat: gputypes.TextureFormatRGBA8Unorm,
			wantView:   gputypes.TextureViewDimension2D,
			wantDepth:  1,
		},
		{
			name:       "cube",
			tex:        backendtest.Texture{Basis: backendtest.ETC1S, Channel: backendtest.ChannelRGB, Width: 16, Height: 16, Levels: 1, Faces: 6},
			mask:       capability.BC,
			wantFormat: gputypes.TextureFormatBC7RGBAUnorm,
			wantView:   gputypes.TextureViewDimensionCube,
			wantDepth:  6,
			compressed: true,
		},
		{
			name:       "array",
			tex:        backendtest.Texture{Basis: backendtest.ETC1S, Channel: backendtest.ChannelR, Width: 8, Height: 8, Levels: 2, Layers: 3, Faces: 1},
			mask:       capability.BC,
			wantFormat: gputypes.TextureFormatBC4RUnorm,
			wantView:   gputypes.TextureViewDimension2DArray,
			wantDepth:  3,
			compressed: true,
		},
		{
			name:       "cube array hdr",
			tex:        backendtest.Texture{Basis: backendtest.UASTCHDR, Channel: backendtest.ChannelRGBA, SRGB: true, Width: 8, Height: 8, Levels: 1, Layers: 2, Faces: 6},
			mask:       capability.BC,
			wantFormat: gputypes.TextureFormatBC6HRGBUfloat,
			wantView:   gputypes.TextureViewDimensionCubeArray,
			wantDepth:  12,
			compressed: true,
		},
	}

	for kind, tok := range tokens(t) {
		for _, tt := range tests {
			t.Run(kind.String()+"/"+tt.name, func(t *testing.T) {
				var img *Image
				err := Run(ctx, tok, func(s *Session) error {
					if err := s.Transcode(ctx, backendtest.Encode(tt.tex), tt.mask); err != nil {
						return err
					}
					var err error
					img, err = s.Image(ctx)
					return err
				})
				if err != nil {
					t.Fatal(err)
				}

				if img.Format() != tt.wantFormat {
					t.Errorf("Format = %v, want %v", img.Format(), tt.wantFormat)
				}
				if img.IsSRGB() != tt.wantSRGB {
					t.Errorf("IsSRGB = %v", img.IsSRGB())
				}
				topo := img.Topology()
				if topo.View != tt.wantView || topo.Extent.DepthOrArrayLayers != tt.wantDepth {
					t.Errorf("Topology = %v depth %d, want %v depth %d",
						topo.View, topo.Extent.DepthOrArrayLayers, tt.wantView, tt.wantDepth)
				}
				if img.Encoding().Compressed() != tt.compressed {
					t.Errorf("Compressed = %v", img.Encoding().Compressed())
				}

				code := backendtest.Select(tt.tex.Basis, tt.tex.Channel, uint8(tt.mask))
				if !bytes.Equal(img.Pixels(), backendtest.Pixels(tt.tex, code)) {
					t.Error("pixel buffer differs from the backend's output")
				}
				if tok.Environment().Handles().Len() != 0 {
					t.Error("Run leaked a handle")
				}
			})
		}
	}
}

func TestPixelBuffer_StableAcrossReads(t *testing.T) {
	ctx := context.Background()
	tok := tokens(t)[backend.KindIsolated]

	s, err := New(ctx, tok)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy(ctx)

	if err := s.Transcode(ctx, backendtest.Encode(simple), capability.ASTCLDR); err != nil {
		t.Fatal(err)
	}

	a, err := s.PixelBuffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if code, _ := s.TargetFormat(); code != format.ASTC4x4RGBA {
		t.Errorf("TargetFormat = %v", code)
	}
	b, _ := s.PixelBuffer(ctx)
	img, err := s.Image(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) == 0 || &a[0] != &b[0] || &a[0] != &img.Pixels()[0] {
		t.Error("re-reads should return the same buffer")
	}
}

func TestImage_InvariantViolations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		tex   backendtest.Texture
		phase errors.Phase
	}{
		{"unmapped format", backendtest.Texture{Basis: 9, Width: 4, Height: 4, Levels: 1, Faces: 1}, errors.PhaseMap},
		{"three faces", backendtest.Texture{Basis: backendtest.ETC1S, Width: 4, Height: 4, Levels: 1, Faces: 3}, errors.PhaseTopology},
	}

	for kind, tok := range tokens(t) {
		for _, tt := range tests {
			t.Run(kind.String()+"/"+tt.name, func(t *testing.T) {
				err := Run(ctx, tok, func(s *Session) error {
					if err := s.Transcode(ctx, backendtest.Encode(tt.tex), capability.BC); err != nil {
						return err
					}
					_, err := s.Image(ctx)
					return err
				})
				want := &errors.Error{Phase: tt.phase, Kind: errors.KindInvariantViolation}
				if !stderrors.Is(err, want) {
					t.Errorf("err = %v, want %s invariant violation", err, tt.phase)
				}
			})
		}
	}
}

func TestRun_CombinesErrors(t *testing.T) {
	ctx := context.Background()
	tok := tokens(t)[backend.KindDirect]

	boom := stderrors.New("boom")
	err := Run(ctx, tok, func(s *Session) error {
		if err := s.Destroy(ctx); err != nil {
			return err
		}
		return boom
	})
	if !stderrors.Is(err, boom) {
		t.Errorf("fn error lost: %v", err)
	}
	if !stderrors.Is(err, errors.ErrInvalidState) {
		t.Errorf("double destroy not reported: %v", err)
	}
	if tok.Environment().Handles().Len() != 0 {
		t.Error("handle leaked")
	}
}

func TestImage_Subresource(t *testing.T) {
	ctx := context.Background()
	tok := tokens(t)[backend.KindDirect]
	tex := backendtest.Texture{Basis: backendtest.UASTC4x4, Width: 8, Height: 4, Levels: 2, Layers: 2, Faces: 1}

	var img *Image
	err := Run(ctx, tok, func(s *Session) error {
		if err := s.Transcode(ctx, backendtest.Encode(tex), capability.None); err != nil {
			return err
		}
		var err error
		img, err = s.Image(ctx)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// RGBA32: level 0 is 8x4x4 = 128 bytes per layer, level 1 is 4x2x4 = 32.
	tests := []struct {
		level, layer uint32
		offset, size int
	}{
		{0, 0, 0, 128},
		{0, 1, 128, 128},
		{1, 0, 256, 32},
		{1, 1, 288, 32},
	}
	for _, tt := range tests {
		got, err := img.Subresource(tt.level, tt.layer, 0)
		if err != nil {
			t.Fatalf("Subresource(%d, %d): %v", tt.level, tt.layer, err)
		}
		want := img.Pixels()[tt.offset : tt.offset+tt.size]
		if !bytes.Equal(got, want) {
			t.Errorf("Subresource(%d, %d) at wrong offset", tt.level, tt.layer)
		}
	}
	if len(img.Pixels()) != 320 {
		t.Errorf("total = %d, want 320", len(img.Pixels()))
	}

	if _, err := img.Subresource(2, 0, 0); err == nil {
		t.Error("expected out-of-range level error")
	}
	if w, h := img.LevelExtent(5); w != 1 || h != 1 {
		t.Errorf("LevelExtent(5) = %dx%d", w, h)
	}
}

func TestDirectAndIsolatedAgree(t *testing.T) {
	ctx := context.Background()
	toks := tokens(t)
	tex := backendtest.Texture{Basis: backendtest.ETC1S, Channel: backendtest.ChannelRG, SRGB: true, Width: 20, Height: 12, Levels: 3, Layers: 2, Faces: 6, Seed: 42}

	for _, mask := range []capability.Mask{capability.None, capability.BC, capability.ETC2, capability.All} {
		var imgs []*Image
		for _, kind := range []backend.Kind{backend.KindDirect, backend.KindIsolated} {
			err := Run(ctx, toks[kind], func(s *Session) error {
				if err := s.Transcode(ctx, backendtest.Encode(tex), mask); err != nil {
					return err
				}
				img, err := s.Image(ctx)
				imgs = append(imgs, img)
				return err
			})
			if err != nil {
				t.Fatalf("%v %v: %v", kind, mask, err)
			}
		}
		a, b := imgs[0], imgs[1]
		if a.Format() != b.Format() || a.IsSRGB() != b.IsSRGB() || a.Topology() != b.Topology() {
			t.Errorf("mask %v: metadata differs", mask)
		}
		if !bytes.Equal(a.Pixels(), b.Pixels()) {
			t.Errorf("mask %v: pixels differ", mask)
		}
	}
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	for kind, tok := range tokens(t) {
		t.Run(kind.String(), func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 32)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(seed uint8) {
					defer wg.Done()
					tex := simple
					tex.Seed = seed
					errs <- Run(ctx, tok, func(s *Session) error {
						if err := s.Transcode(ctx, backendtest.Encode(tex), capability.ETC2); err != nil {
							return err
						}
						buf, err := s.PixelBuffer(ctx)
						if err != nil {
							return err
						}
						code := backendtest.Select(tex.Basis, tex.Channel, backendtest.MaskETC2)
						if !bytes.Equal(buf, backendtest.Pixels(tex, code)) {
							return stderrors.New("pixels mismatch")
						}
						return nil
					})
				}(uint8(i))
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Error(err)
				}
			}
			if n := tok.Environment().Handles().Len(); n != 0 {
				t.Errorf("%d handles leaked", n)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateCreated, "created"},
		{StateTranscoded, "transcoded"},
		{StateFailed, "failed"},
		{StateDestroyed, "destroyed"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
