package ktx2transcoder

import "context"

// Memory is the backend's linear memory as the isolated environment sees it.
type Memory interface {
	// Read returns a view that is invalidated when memory grows.
	Read(offset uint32, length uint32) ([]byte, error)
	// ReadCopy returns bytes that outlive memory growth.
	ReadCopy(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	// Size is the current size in bytes.
	Size() uint32
}

// Allocator allocates scratch buffers in linear memory
type Allocator interface {
	Alloc(ctx context.Context, size, align uint32) (uint32, error)
	Free(ctx context.Context, ptr, size, align uint32)
}
