// Package ktx2transcoder turns KTX2 / Basis Universal textures into data a
// WebGPU device can sample.
//
// A texture is transcoded by a backend (the Basis Universal transcoder)
// into the best compressed format the device supports, falling back to
// uncompressed RGBA when it supports none.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	ktx2transcoder/      Root package with core Memory and Allocator interfaces
//	├── loader/          High-level API: bytes in, descriptors and pixel data out
//	├── session/         One transcode lifecycle over a backend handle
//	├── capability/      Device features to backend capability mask
//	├── format/          Backend output codes to GPU texture formats
//	├── topology/        Layer and face counts to view dimension and extent
//	├── backend/         Environment contract, ABI table and init token
//	│   ├── direct/      In-process native backend
//	│   └── isolated/    Sandboxed wasm backend on wazero
//	├── engine/          Low-level wazero integration
//	├── resource/        Handle arena
//	└── errors/          Structured error types
//
// # Quick Start
//
//	l, err := loader.New(ctx, &loader.Config{
//	    WASM:     basisWasm,
//	    Features: capability.Features{BC: true},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Close(ctx)
//
//	tex, err := l.Load(ctx, file, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(tex.Descriptor.Format, tex.View.Dimension)
//
// # Environments
//
// The direct environment calls a native build of the transcoder and passes
// container bytes by reference. The isolated environment runs a wasm build
// in its own wazero runtime; bytes are copied into its linear memory and the
// decoded buffer is copied out. Both produce identical results.
//
// # Thread Safety
//
// Loaders and environments are safe for concurrent use. A Session is owned
// by one goroutine at a time; its methods are serialized.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Scratch buffers are freed
// after every call, so a long-lived isolated environment reaches a steady
// size set by the largest container it has seen.
package ktx2transcoder
