package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bobsans/vibemq/internal/ack"
	"github.com/Bobsans/vibemq/internal/auth"
	"github.com/Bobsans/vibemq/internal/broker"
	"github.com/Bobsans/vibemq/internal/config"
	"github.com/Bobsans/vibemq/internal/httpapi"
	"github.com/Bobsans/vibemq/internal/logging"
	"github.com/Bobsans/vibemq/internal/metrics"
	"github.com/Bobsans/vibemq/internal/queue"
	"github.com/Bobsans/vibemq/internal/ratelimit"
	"github.com/Bobsans/vibemq/internal/registry"
)

func serveCmd() *cobra.Command {
	var (
		listenAddr string
		httpAddr   string
		authToken  string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the VibeMQ broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("listen") {
				cfg.Listen.Addr = listenAddr
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTP.Addr = httpAddr
			}
			if cmd.Flags().Changed("auth-token") {
				cfg.Auth.Token = authToken
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, cfg.Metrics.HistogramBuckets)
			}

			return runBroker(cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "TCP listen address (default :7711)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP sidecar listen address (default :7712)")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "shared auth token; empty disables authentication")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn, or error")

	return cmd
}

func runBroker(cfg *config.Config) error {
	ttl, err := parseOptionalDuration(cfg.QueueDefaults.MessageTTL)
	if err != nil {
		return fmt.Errorf("queue_defaults.message_ttl: %w", err)
	}

	defaults := queue.Options{
		Mode:                  queue.Mode(cfg.QueueDefaults.Mode),
		MaxQueueSize:          cfg.QueueDefaults.MaxQueueSize,
		MessageTTL:            ttl,
		EnableDeadLetterQueue: cfg.QueueDefaults.EnableDeadLetterQueue,
		OverflowStrategy:      queue.Overflow(cfg.QueueDefaults.OverflowStrategy),
		MaxRetryAttempts:      cfg.QueueDefaults.MaxRetryAttempts,
	}.Normalize()

	reg := registry.New(cfg.MaxConnections)
	m := metrics.Global()

	ackCfg := ack.Config{
		BaseRetryDelay: cfg.Ack.BaseRetryDelay,
		MaxRetryDelay:  cfg.Ack.MaxRetryDelay,
		TickInterval:   cfg.Ack.TickInterval,
	}
	mgr := broker.NewManager(defaults, reg, ackCfg, m)
	mgr.Start()
	defer mgr.Dispose()

	limiter := ratelimit.New(ratelimit.Config{
		ConnectionWindow: cfg.RateLimit.ConnectionWindow,
		ConnectionCap:    cfg.RateLimit.ConnectionCap,
		MessageWindow:    cfg.RateLimit.MessageWindow,
		MessageCap:       cfg.RateLimit.MessageCap,
	})

	authenticator := auth.New(cfg.Auth.Token)

	brokerCfg := broker.Config{
		ListenAddr:    cfg.Listen.Addr,
		MaxFrameBytes: 16 * 1024 * 1024,
		DrainTimeout:  cfg.Shutdown.DrainTimeout,
	}
	if cfg.Listen.TLS.Enabled {
		tls, err := broker.LoadTLSConfig(cfg.Listen.TLS.BundlePath, cfg.Listen.TLS.BundlePasswd)
		if err != nil {
			return fmt.Errorf("load tls bundle: %w", err)
		}
		brokerCfg.TLS = tls
	}

	b := broker.New(brokerCfg, reg, mgr, limiter, authenticator, m)

	var httpServer *http.Server
	if cfg.HTTP.Addr != "" {
		mux := httpapi.NewMux(httpapi.Deps{
			Metrics:     m,
			QueueCount:  mgr.QueueCount,
			ActiveConns: reg.Count,
			PendingAcks: mgr.PendingAcks,
		})
		httpServer = &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
		go func() {
			logging.Op().Info("http sidecar listening", "addr", cfg.HTTP.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Error("http sidecar failed", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- b.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logging.Op().Info("shutdown signal received")
	case err := <-serveErr:
		logging.Op().Error("broker listener failed", "error", err)
	}

	b.Shutdown()
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(ctx)
		cancel()
	}

	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
