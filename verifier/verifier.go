package verifier

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luma/kvcheck/internal/random"
	"github.com/luma/kvcheck/protocol"
)

const (
	DefaultKeyLength     = 20
	DefaultValueLength   = 1024
	DefaultIterations    = 10000
	DefaultProgressEvery = 1000
)

// Client is the connection the verifier drives.
type Client interface {
	Set(ctx context.Context, key string, value []byte) (string, error)
	Get(ctx context.Context, key string) (*protocol.GetResponse, error)
}

// Source supplies random key and value bytes. Keys must not contain spaces
// or line terminators.
type Source interface {
	Bytes(length int) []byte
}

type Options struct {
	KeyLength int

	// ValueLength may be zero, a negative length selects the default.
	ValueLength int

	Iterations int

	// ProgressEvery logs progress after this many iterations. Zero or less
	// disables progress logs.
	ProgressEvery int

	Source Source

	// OnTransition, if set, is called on every state change.
	OnTransition func(iteration int, from, to State)

	Log *zap.Logger
}

type Report struct {
	Iterations int
	ValueBytes int64
	Elapsed    time.Duration
}

// Verifier repeatedly sets a random key to a random value and reads it back,
// stopping at the first round trip that does not return the value written.
type Verifier struct {
	client Client
	opts   Options
	log    *zap.Logger
}

func New(client Client, opts Options) *Verifier {
	if opts.KeyLength <= 0 {
		opts.KeyLength = DefaultKeyLength
	}

	if opts.ValueLength < 0 {
		opts.ValueLength = DefaultValueLength
	}

	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}

	if opts.Source == nil {
		opts.Source = random.New(0)
	}

	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return &Verifier{
		client: client,
		opts:   opts,
		log:    opts.Log,
	}
}

// Run performs the configured number of round trips. It returns a *Failure
// for the first round trip that fails, or ctx.Err() if ctx is done between
// round trips.
func (v *Verifier) Run(ctx context.Context) (Report, error) {
	var report Report
	start := time.Now()

	defer func() {
		report.Elapsed = time.Since(start)
	}()

	v.log.Info("Starting round trips",
		zap.Int("iterations", v.opts.Iterations),
		zap.Int("keyLength", v.opts.KeyLength),
		zap.Int("valueLength", v.opts.ValueLength))

	for i := 0; i < v.opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := v.Step(ctx, i); err != nil {
			return report, err
		}

		report.Iterations++
		report.ValueBytes += int64(v.opts.ValueLength)

		if v.opts.ProgressEvery > 0 && report.Iterations%v.opts.ProgressEvery == 0 {
			v.log.Info("Progress",
				zap.Int("iterations", report.Iterations),
				zap.Duration("elapsed", time.Since(start)))
		}
	}

	return report, nil
}

// Step performs a single round trip.
func (v *Verifier) Step(ctx context.Context, iteration int) error {
	state := Idle
	transition := func(to State) {
		if v.opts.OnTransition != nil {
			v.opts.OnTransition(iteration, state, to)
		}
		state = to
	}

	key := string(v.opts.Source.Bytes(v.opts.KeyLength))
	value := v.opts.Source.Bytes(v.opts.ValueLength)
	transition(KeyValueGenerated)

	failure := &Failure{
		Iteration: iteration,
		Key:       key,
		Sent:      value,
		Offset:    -1,
	}

	fail := func(err error) error {
		failure.State = state
		failure.Err = err
		transition(Failed)
		return failure
	}

	transition(SetSent)
	status, err := v.client.Set(ctx, key, value)
	if err != nil {
		return fail(err)
	}

	failure.Status = status
	transition(SetConfirmed)

	transition(GetSent)
	resp, err := v.client.Get(ctx, key)
	if resp != nil {
		failure.Received = resp.Raw
	}

	if err != nil {
		return fail(err)
	}

	transition(GetReceived)

	if !resp.Found {
		return fail(ErrMissing)
	}

	if !bytes.Equal(resp.Value, value) {
		failure.Offset = firstDifference(resp.Value, value)
		return fail(ErrMismatch)
	}

	transition(Verified)

	v.log.Debug("Verified",
		zap.Int("iteration", iteration),
		zap.String("key", key),
		zap.String("status", status))

	transition(Idle)

	return nil
}
