package direct

import "github.com/wippyai/ktx2-transcoder/errors"

// ErrUnavailable is returned by Native when no native library is linked.
var ErrUnavailable = errors.Unsupported(errors.PhaseBackend, "native backend not linked; build with -tags basisu_native")
