package verifier

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrMismatch means the value read back differs from the value written.
	ErrMismatch = errors.New("value read back does not match value written")

	// ErrMissing means the server reported a key that was just set as missing.
	ErrMissing = errors.New("key that was just set is missing")
)

// Failure describes the round trip that ended a run.
type Failure struct {
	Iteration int

	// State is the state the round trip was in when it failed
	State State

	Key    string
	Status string

	Sent     []byte
	Received []byte

	// Offset is the first byte at which Sent and the value read back differ,
	// or -1 when the failure is not a mismatch.
	Offset int

	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("iteration %d failed in state %s for key '%s': %v", f.Iteration, f.State, f.Key, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fields returns the failure as log fields, including the last data sent and
// received.
func (f *Failure) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("iteration", f.Iteration),
		zap.Stringer("state", f.State),
		zap.String("key", f.Key),
		zap.String("status", f.Status),
		zap.Int("offset", f.Offset),
		zap.ByteString("sent", f.Sent),
		zap.ByteString("received", f.Received),
		zap.Error(f.Err),
	}
}

func firstDifference(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}

	return n
}
