//go:build !basisu_native || !cgo

package direct

// Native returns ErrUnavailable: the binary was built without the
// basisu_native tag or without cgo.
func Native() (Library, error) {
	return nil, ErrUnavailable
}
