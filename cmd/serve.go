package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/pubsub/hub"
	"github.com/luma/pubsub/internal/env"
	"github.com/luma/pubsub/transport"
)

var (
	// The port to listen for http requests on
	httpPort string

	numListeners int
)

func init() {
	flags := ServeCmd.Flags()

	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.IntVar(&numListeners, "listeners", 0, "Number of reuseport listeners, defaults to the number of CPUs")
	flags.String("require-pass", "", "Password clients must AUTH with")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a local pub/sub broker",
	Long: `Start a local pub/sub broker

The broker speaks enough of the Redis protocol for publishers and
subscribers. It also serves /ping, /stats and /metrics over HTTP.

Usage
	pubsub serve --port 6379 --http-port 7362

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer signalStop()

		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("require-pass") {
			if conf.RequirePass, err = cmd.Flags().GetString("require-pass"); err != nil {
				return err
			}
		}

		log, err := env.MakeLogger(conf.Log())
		if err != nil {
			return err
		}
		defer log.Sync()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		h := hub.NewInmemoryHub()

		tcp := transport.NewTCP(transport.Options{
			Host:         conf.Host,
			Port:         conf.Port,
			Reuseport:    true,
			NumListeners: numListeners,
			RequirePass:  conf.RequirePass,
			Username:     conf.Username,
			Trace:        conf.LogLevel == "debug",
			Hub:          h,
			Log:          log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, tcp, log)

		s := &http.Server{
			Addr:    net.JoinHostPort(conf.Host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.String("addr", tcp.Addr()),
			zap.String("httpPort", httpPort),
			zap.Bool("auth", conf.RequirePass != ""))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		err = multierr.Combine(
			s.Shutdown(shutdownCtx),
			tcp.Shutdown(shutdownCtx),
		)

		if stats, serr := h.Stats(); serr == nil {
			log.Info("Broker stopped",
				zap.Int64("published", gjson.GetBytes(stats, "published").Int()),
				zap.Int64("channels", gjson.GetBytes(stats, "channels.#").Int()))
		}

		err = multierr.Append(err, h.Close())
		if err != nil {
			log.Error("Forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return err
	},
}

func setupRouter(debugHTTP bool, tcp *transport.TCP, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/stats", func(c *gin.Context) {
		stats, err := tcp.Hub().Stats()
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}

		c.Data(http.StatusOK, "application/json", stats)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(tcp.Metrics().Registry, promhttp.HandlerOpts{})))

	return r
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
