package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/samlang-runtime/heap"
	"github.com/wippyai/samlang-runtime/host"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the runtime package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the logger of the runtime package and of the heap and
// host packages it drives. Call it before creating a Runtime.
func SetLogger(l *zap.Logger) {
	logger = l
	heap.SetLogger(l.Named("heap"))
	host.SetLogger(l.Named("host"))
}
