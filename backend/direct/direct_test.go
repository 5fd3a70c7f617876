package direct_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/backend/direct"
	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/internal/backendtest"
)

func TestNew_NilLibrary(t *testing.T) {
	if _, err := direct.New(nil); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Fatalf("New(nil) = %v, want not initialized", err)
	}
}

func TestInit_OncePerLibrary(t *testing.T) {
	ctx := context.Background()
	lib := backendtest.NewLibrary()

	a, _ := direct.New(lib)
	b, _ := direct.New(lib)
	defer a.Close(ctx)
	defer b.Close(ctx)

	for _, env := range []*direct.Environment{a, b} {
		if _, err := backend.Initialize(ctx, env); err != nil {
			t.Fatal(err)
		}
	}
	if n := lib.Inits(); n != 1 {
		t.Errorf("library init ran %d times, want 1", n)
	}
	if a.Kind() != backend.KindDirect {
		t.Errorf("Kind = %v", a.Kind())
	}
}

func TestNewHandle_NullTranscoder(t *testing.T) {
	ctx := context.Background()
	lib := backendtest.NewLibrary()
	lib.FailNew.Store(true)
	env, _ := direct.New(lib)
	defer env.Close(ctx)

	_, err := env.NewHandle(ctx)
	if !stderrors.Is(err, errors.ErrSessionCreationFailed) {
		t.Fatalf("NewHandle = %v, want session creation failed", err)
	}
	if env.Handles().Len() != 0 {
		t.Error("failed creation must not occupy an arena slot")
	}
}

func TestTranscode(t *testing.T) {
	ctx := context.Background()
	lib := backendtest.NewLibrary()
	env, _ := direct.New(lib)
	defer env.Close(ctx)

	tex := backendtest.Texture{
		Basis: backendtest.ETC1S, Channel: backendtest.ChannelRG, SRGB: true,
		Width: 16, Height: 8, Levels: 3, Layers: 0, Faces: 1, Seed: 9,
	}

	h, err := env.NewHandle(ctx)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := env.Transcode(ctx, h, backendtest.Encode(tex), backendtest.MaskBC)
	if err != nil || !ok {
		t.Fatalf("Transcode = %v, %v", ok, err)
	}

	getters := []struct {
		name string
		get  func(context.Context, backend.Handle) (uint32, error)
		want uint32
	}{
		{"width", env.Width, 16},
		{"height", env.Height, 8},
		{"levels", env.Levels, 3},
		{"layers", env.Layers, 0},
		{"faces", env.Faces, 1},
		{"target", env.TargetFormat, backendtest.Select(tex.Basis, tex.Channel, backendtest.MaskBC)},
	}
	for _, g := range getters {
		got, err := g.get(ctx, h)
		if err != nil || got != g.want {
			t.Errorf("%s = %d, %v; want %d", g.name, got, err, g.want)
		}
	}
	if srgb, _ := env.IsSRGB(ctx, h); !srgb {
		t.Error("expected sRGB")
	}

	want := backendtest.Pixels(tex, backendtest.Select(tex.Basis, tex.Channel, backendtest.MaskBC))
	got, err := env.PixelBuffer(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("PixelBuffer mismatch: %d bytes, want %d", len(got), len(want))
	}

	// The returned slice is a copy.
	got[0] ^= 0xff
	again, _ := env.PixelBuffer(ctx, h)
	if !bytes.Equal(again, want) {
		t.Error("mutating a returned buffer changed the backend's buffer")
	}

	ok, err = env.Transcode(ctx, h, []byte("garbage"), backendtest.MaskBC)
	if err != nil || ok {
		t.Errorf("Transcode(garbage) = %v, %v; want false, nil", ok, err)
	}

	if err := env.DeleteHandle(ctx, h); err != nil {
		t.Fatal(err)
	}
	if lib.Live() != 0 {
		t.Errorf("live transcoders = %d", lib.Live())
	}
}

func TestInvalidHandle(t *testing.T) {
	ctx := context.Background()
	env := backendtest.NewDirect()
	defer env.Close(ctx)

	if err := env.DeleteHandle(ctx, 42); !stderrors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("DeleteHandle(42) = %v", err)
	}
	if _, err := env.Width(ctx, 42); !stderrors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Width(42) = %v", err)
	}
	if _, err := env.Transcode(ctx, 42, nil, 0); !stderrors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Transcode(42) = %v", err)
	}

	h, _ := env.NewHandle(ctx)
	_ = env.DeleteHandle(ctx, h)
	if err := env.DeleteHandle(ctx, h); !stderrors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("double DeleteHandle = %v", err)
	}
}

func TestClose_ReleasesLiveTranscoders(t *testing.T) {
	ctx := context.Background()
	lib := backendtest.NewLibrary()
	env, _ := direct.New(lib)

	for i := 0; i < 3; i++ {
		if _, err := env.NewHandle(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if lib.Live() != 3 {
		t.Fatalf("live = %d", lib.Live())
	}

	if err := env.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if lib.Live() != 0 {
		t.Errorf("live after Close = %d", lib.Live())
	}
	if err := env.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := env.NewHandle(ctx); err == nil {
		t.Error("NewHandle after Close should fail")
	}
}

func TestClose_WaitsForCallsInFlight(t *testing.T) {
	ctx := context.Background()
	data := backendtest.Encode(backendtest.Texture{
		Basis: backendtest.UASTC4x4, Channel: backendtest.ChannelRGBA,
		Width: 32, Height: 32, Levels: 6, Faces: 1,
	})

	for round := 0; round < 20; round++ {
		lib := backendtest.NewLibrary()
		env, _ := direct.New(lib)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			h, err := env.NewHandle(ctx)
			if err != nil {
				t.Fatal(err)
			}
			wg.Add(1)
			go func(h backend.Handle) {
				defer wg.Done()
				for {
					if _, err := env.Transcode(ctx, h, data, backendtest.MaskBC); err != nil {
						checkClosedErr(t, err)
						return
					}
					if _, err := env.PixelBuffer(ctx, h); err != nil {
						checkClosedErr(t, err)
						return
					}
				}
			}(h)
		}

		if err := env.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		wg.Wait()

		if n := lib.Live(); n != 0 {
			t.Fatalf("round %d: %d transcoders live after Close", round, n)
		}
	}
}

func checkClosedErr(t *testing.T, err error) {
	t.Helper()
	if !stderrors.Is(err, errors.ErrNotInitialized) && !stderrors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("call after Close = %v, want not initialized or invalid handle", err)
	}
}
