package backend

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ktx2-transcoder/resource"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the logger shared by the environment implementations.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the environments' logger.
// This must be called before any environment is created.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// HandleLogger returns an arena observer that logs transcoder handles
// created and dropped by an environment of kind at debug level.
func HandleLogger(kind Kind) resource.Observer {
	return resource.ObserverFunc(func(e resource.Event) {
		Logger().Debug("transcoder handle "+e.Type.String(),
			zap.Stringer("env", kind),
			zap.Uint32("handle", uint32(e.Handle)),
			zap.Uint64("rep", uint64(e.Rep)))
	})
}
