package transport

import (
	"github.com/luma/kvcheck/storage"
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT. Without it only one listener
	// is started.
	Reuseport bool

	// Trace logs every request and response at debug level. This is only
	// useful in local debugging
	Trace bool

	NumListeners int

	Store storage.Store

	Log *zap.Logger
}
