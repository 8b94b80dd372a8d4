package client

import (
	"time"

	"go.uber.org/zap"
)

// Framing selects how the value in a get reply is delimited.
type Framing string

const (
	// FramingLength reads exactly the number of bytes announced in the
	// `OK <size>` header.
	FramingLength Framing = "length"

	// FramingDrain reads the header line and then whatever arrives within
	// DrainWindow, taking the second line as the value.
	FramingDrain Framing = "drain"
)

const (
	DefaultDrainWindow    = 5 * time.Millisecond
	DefaultReadBufferSize = 4096
)

type Options struct {
	// DialTimeout bounds connection establishment. Zero means no timeout.
	DialTimeout time.Duration

	// ReadTimeout bounds every response read. Zero means reads block until
	// the context is done.
	ReadTimeout time.Duration

	WriteTimeout time.Duration

	Framing Framing

	DrainWindow time.Duration

	// SplitWrite sends a set's command line and value as two writes with
	// SplitDelay between them, instead of one.
	SplitWrite bool
	SplitDelay time.Duration

	ReadBufferSize int

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Framing == "" {
		o.Framing = FramingLength
	}

	if o.DrainWindow <= 0 {
		o.DrainWindow = DefaultDrainWindow
	}

	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

// ParseFraming converts a configuration string into a Framing.
func ParseFraming(s string) (Framing, bool) {
	switch Framing(s) {
	case FramingLength, "":
		return FramingLength, true
	case FramingDrain:
		return FramingDrain, true
	default:
		return "", false
	}
}
