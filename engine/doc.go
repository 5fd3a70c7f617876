// Package engine hosts a compiled Basis Universal transcoder module on wazero.
//
// The package provides three types:
//
//	Engine   - owns a wazero runtime and the WASI singleton
//	Module   - a compiled backend, validated against the backend ABI
//	Instance - a running backend with cached exports and its linear memory
//
// # Instantiation Flow
//
//  1. Engine.Compile() compiles the module bytes
//  2. Module.Validate() checks every ABI export and its lowered signature
//  3. Module.Instantiate() links WASI and emscripten "env" imports only when
//     the module declares them, then runs _initialize if exported
//  4. Instance.Call() invokes exports; Instance.Allocator() wraps malloc/free
//
// # Signatures
//
// The backend ABI is declared in WIT (see backend.ABI). Each parameter and
// result lowers to exactly one core value:
//
//	WIT Type        Core Representation
//	───────────────────────────────────
//	bool, u8-u32    i32
//	u64, s64        i64
//	f32             f32
//	f64             f64
//
// # Memory
//
// Memory.Read returns a view into linear memory that is invalidated by the
// next guest call that grows memory. Use Memory.ReadCopy for data that must
// outlive the call, such as the transcoded pixel buffer.
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use.
// Instance is NOT thread-safe and should be used by a single goroutine.
package engine
