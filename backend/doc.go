// Package backend defines the contract between transcode sessions and the
// black-box transcoding library.
//
// The library is reachable two ways, each an Environment:
//
//	backend/direct    native library, caller memory passed by pointer
//	backend/isolated  wasm module in wazero, buffers copied across linear memory
//
// Both expose the same entry points (see ABI) and both hand out arena
// handles instead of raw addresses.
//
// # Initialization
//
// The library has a global init that must run once before any transcoder is
// created. Initialize performs it and returns a Token; anything that talks to
// the backend takes the token as an argument:
//
//	env, err := isolated.New(ctx, wasmBytes, nil)
//	tok, err := backend.Initialize(ctx, env)
//	s, err := session.New(ctx, tok)
//
// Initialize is safe for concurrent use and calls Init at most once per
// environment.
package backend
