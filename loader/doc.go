// Package loader turns KTX2 files into textures ready for a WebGPU device.
//
// A Loader owns one backend environment and the capability mask negotiated
// for the device at construction. Each Load runs its own session, so one
// Loader may serve many goroutines.
//
//	l, err := loader.New(ctx, &loader.Config{
//	    WASM:     basisWasm,
//	    Features: capability.FromGPU(adapterFeatures, false),
//	})
//	if err != nil {
//	    return err
//	}
//	defer l.Close(ctx)
//
//	tex, err := l.Load(ctx, file, &loader.Settings{Label: "albedo"})
//
// Input wrapped in a zstd or gzip stream is unwrapped before transcoding.
// The returned Texture carries texture, view and sampler descriptors; the
// pixel data is laid out mip levels outermost, then layers, then faces.
package loader
