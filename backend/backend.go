package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/wippyai/ktx2-transcoder/resource"
)

// Handle identifies one backend transcoder inside an environment's arena.
type Handle = resource.Handle

// Kind selects an environment implementation.
type Kind uint8

const (
	// KindDirect calls a native backend with caller memory passed by pointer.
	KindDirect Kind = iota + 1
	// KindIsolated runs the backend as a sandboxed wasm module and copies
	// every buffer across its linear memory.
	KindIsolated
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindIsolated:
		return "isolated"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind parses "direct" or "isolated".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "native":
		return KindDirect, nil
	case "isolated", "wasm", "sandbox":
		return KindIsolated, nil
	default:
		return 0, fmt.Errorf("unknown environment %q", s)
	}
}

// Environment is the backend call contract. Direct and isolated
// implementations behave identically from the caller's point of view:
// same handles, same metadata, byte-identical pixel buffers.
//
// Getters are only meaningful after Transcode returned true for the handle.
type Environment interface {
	Kind() Kind

	// Init runs the backend's one-time global initialization.
	// Callers go through Initialize, which guarantees a single call.
	Init(ctx context.Context) error

	NewHandle(ctx context.Context) (Handle, error)
	DeleteHandle(ctx context.Context, h Handle) error

	// Transcode hands data and the capability mask to the backend.
	// A false result is a backend rejection; err is reserved for
	// environment faults (bad handle, sandbox trap, allocation).
	Transcode(ctx context.Context, h Handle, data []byte, mask uint8) (bool, error)

	Width(ctx context.Context, h Handle) (uint32, error)
	Height(ctx context.Context, h Handle) (uint32, error)
	Levels(ctx context.Context, h Handle) (uint32, error)
	Layers(ctx context.Context, h Handle) (uint32, error)
	Faces(ctx context.Context, h Handle) (uint32, error)
	IsSRGB(ctx context.Context, h Handle) (bool, error)
	TargetFormat(ctx context.Context, h Handle) (uint32, error)

	// PixelBuffer returns a caller-owned copy of the decoded bytes.
	PixelBuffer(ctx context.Context, h Handle) ([]byte, error)

	// Handles exposes the arena for lifecycle observation.
	Handles() *resource.Arena

	Close(ctx context.Context) error
}
