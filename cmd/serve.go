package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/luma/kvcheck/internal/env"
	"github.com/luma/kvcheck/storage"
	"github.com/luma/kvcheck/transport"
)

var serveFlags struct {
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for tcp clients on
	port int

	listeners int
	trace     bool
}

func init() {
	flags := ServeCmd.Flags()

	flags.IntVarP(&serveFlags.port, "port", "p", 10011, "The port to listen client connections on, overrides KVCHECK_PORT")
	flags.StringVar(&serveFlags.httpPort, "http-port", "10012", "The port to listen to HTTP requests on")
	flags.StringVarP(&serveFlags.host, "host", "a", "localhost", "The host to listen on, overrides KVCHECK_HOST")
	flags.IntVar(&serveFlags.listeners, "listeners", 0, "Number of SO_REUSEPORT listeners, defaults to the number of CPUs")
	flags.BoolVar(&serveFlags.trace, "trace", false, "Log every request at debug level")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a reference server for the set/get protocol",
	Long: `Start a reference server for the set/get protocol

Values are held in memory. Once KVCHECK_MAX_BYTES of values are stored the
oldest keys are evicted. If KVCHECK_SNAPSHOT names a file the store is
restored from it on start and written back to it on shutdown.

Usage
	kvcheck serve

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx, profile)
		if err != nil {
			return err
		}

		applyServeFlags(cmd.Flags(), conf)

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		store := storage.NewInmemoryStore(conf.MaxBytes)
		defer store.Close()

		if err := restoreSnapshot(store, conf.Snapshot); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, store.Stats())
		})

		router.GET("/snapshot", func(c *gin.Context) {
			snapshot, err := store.Backup()
			if err != nil {
				c.String(http.StatusInternalServerError, err.Error())
				return
			}

			c.Data(http.StatusOK, "application/json", snapshot)
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(conf.Host, serveFlags.httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		tcp := transport.NewTCP(transport.Options{
			Host:         conf.Host,
			Port:         conf.Port,
			Reuseport:    true,
			NumListeners: serveFlags.listeners,
			Trace:        serveFlags.trace,
			Store:        store,
			Log:          log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.String("addr", tcp.Addr()),
			zap.String("httpPort", serveFlags.httpPort),
			zap.Int("maxBytes", conf.MaxBytes))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		if err := writeSnapshot(store, conf.Snapshot); err != nil {
			log.Error("Failed to write snapshot", zap.String("path", conf.Snapshot), zap.Error(err))
			return err
		}

		log.Info("Exiting")
		return nil
	},
}

// applyServeFlags overrides the configuration with flags set on the command
// line.
func applyServeFlags(flags *pflag.FlagSet, conf *env.Config) {
	if flags.Changed("host") {
		conf.Host = serveFlags.host
	}
	if flags.Changed("port") {
		conf.Port = serveFlags.port
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, in RFC3339
	// UTC time.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func restoreSnapshot(store storage.Store, path string) error {
	if path == "" {
		return nil
	}

	snapshot, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	return store.Restore(snapshot)
}

func writeSnapshot(store storage.Store, path string) error {
	if path == "" {
		return nil
	}

	snapshot, err := store.Backup()
	if err != nil {
		return err
	}

	return os.WriteFile(path, snapshot, 0600)
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
