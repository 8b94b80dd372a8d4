package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/luma/kvcheck/client"
	"github.com/luma/kvcheck/internal/env"
	"github.com/luma/kvcheck/internal/random"
	"github.com/luma/kvcheck/verifier"
)

var verifyFlags struct {
	host        string
	port        int
	keyLength   int
	valueLength int
	iterations  int
	seed        int64
	readTimeout time.Duration
	framing     string
	splitWrite  bool
	splitDelay  time.Duration
}

func init() {
	flags := VerifyCmd.Flags()

	flags.StringVarP(&verifyFlags.host, "host", "a", "localhost", "The host of the server under test")
	flags.IntVarP(&verifyFlags.port, "port", "p", 10011, "The port of the server under test")
	flags.IntVar(&verifyFlags.keyLength, "key-length", verifier.DefaultKeyLength, "Length of each random key")
	flags.IntVar(&verifyFlags.valueLength, "value-length", verifier.DefaultValueLength, "Length of each random value")
	flags.IntVarP(&verifyFlags.iterations, "iterations", "n", verifier.DefaultIterations, "Number of set/get round trips")
	flags.Int64Var(&verifyFlags.seed, "seed", 0, "Seed for keys and values, 0 seeds from the clock")
	flags.DurationVar(&verifyFlags.readTimeout, "read-timeout", 0, "Give up on a response after this long, 0 waits forever")
	flags.StringVar(&verifyFlags.framing, "framing", string(client.FramingLength), "How get values are framed: length or drain")
	flags.BoolVar(&verifyFlags.splitWrite, "split-write", false, "Send a set's command line and value as separate writes")
	flags.DurationVar(&verifyFlags.splitDelay, "split-delay", 100*time.Microsecond, "Pause between the two writes of --split-write")
}

var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run set/get round trips against a server",
	Long: `Run set/get round trips against a server

Each round trip sets a fresh random key to a random value, gets it back and
compares the bytes. The run stops at the first failure and exits non-zero.

Usage
	kvcheck verify --host localhost --port 10011 -n 10000

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx, profile)
		if err != nil {
			return err
		}

		applyVerifyFlags(cmd.Flags(), conf)

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		framing, ok := client.ParseFraming(conf.Framing)
		if !ok {
			return fmt.Errorf("Unknown framing '%s', expected length or drain", conf.Framing)
		}

		conn, err := client.Dial(ctx, conf.Addr(), client.Options{
			DialTimeout:  conf.DialTimeout,
			ReadTimeout:  conf.ReadTimeout,
			WriteTimeout: conf.WriteTimeout,
			Framing:      framing,
			DrainWindow:  conf.DrainWindow,
			SplitWrite:   conf.SplitWrite,
			SplitDelay:   conf.SplitDelay,
			Log:          log.Named("client"),
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		log.Info("Connected",
			zap.String("addr", conf.Addr()),
			zap.String("framing", string(framing)),
			zap.Bool("splitWrite", conf.SplitWrite))

		v := verifier.New(conn, verifier.Options{
			KeyLength:     conf.KeyLength,
			ValueLength:   conf.ValueLength,
			Iterations:    conf.Iterations,
			ProgressEvery: verifier.DefaultProgressEvery,
			Source:        random.New(conf.Seed),
			Log:           log.Named("verifier"),
		})

		report, err := v.Run(ctx)
		if err != nil {
			var failure *verifier.Failure
			if errors.As(err, &failure) {
				log.Error("Round trip failed", failure.Fields()...)
			} else {
				log.Error("Run stopped", zap.Int("iterations", report.Iterations), zap.Error(err))
			}

			return err
		}

		log.Info("All round trips verified",
			zap.Int("iterations", report.Iterations),
			zap.Int64("valueBytes", report.ValueBytes),
			zap.Duration("elapsed", report.Elapsed))

		return nil
	},
}

// applyVerifyFlags overrides the configuration with flags set on the command
// line.
func applyVerifyFlags(flags *pflag.FlagSet, conf *env.Config) {
	if flags.Changed("host") {
		conf.Host = verifyFlags.host
	}
	if flags.Changed("port") {
		conf.Port = verifyFlags.port
	}
	if flags.Changed("key-length") {
		conf.KeyLength = verifyFlags.keyLength
	}
	if flags.Changed("value-length") {
		conf.ValueLength = verifyFlags.valueLength
	}
	if flags.Changed("iterations") {
		conf.Iterations = verifyFlags.iterations
	}
	if flags.Changed("seed") {
		conf.Seed = verifyFlags.seed
	}
	if flags.Changed("read-timeout") {
		conf.ReadTimeout = verifyFlags.readTimeout
	}
	if flags.Changed("framing") {
		conf.Framing = verifyFlags.framing
	}
	if flags.Changed("split-write") {
		conf.SplitWrite = verifyFlags.splitWrite
	}
	if flags.Changed("split-delay") {
		conf.SplitDelay = verifyFlags.splitDelay
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
}
