// Package isolated runs the transcoder backend as a sandboxed wasm module.
//
// The module must export the entry points listed by backend.ABI, plus
// malloc, free and its memory. It may import WASI preview1 and the
// emscripten "env" helpers; both are provided only when declared.
//
// Per transcode the environment allocates a scratch buffer in guest memory,
// copies the container in, calls the backend and frees the buffer. The
// decoded result is copied out of guest memory on request. Transcoder
// pointers are guest offsets and never leave the environment's arena.
//
// Basic usage:
//
//	env, err := isolated.New(ctx, wasmBytes, nil)
//	if err != nil {
//	    return err
//	}
//	defer env.Close(ctx)
//
//	tok, err := backend.Initialize(ctx, env)
package isolated
