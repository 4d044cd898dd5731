package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
	"github.com/alfredjeanlab/tasknotify/internal/config"
	"github.com/alfredjeanlab/tasknotify/internal/events"
	"github.com/alfredjeanlab/tasknotify/internal/hub"
	"github.com/alfredjeanlab/tasknotify/internal/idgen"
	"github.com/alfredjeanlab/tasknotify/internal/metrics"
	"github.com/alfredjeanlab/tasknotify/internal/relay"
	"github.com/alfredjeanlab/tasknotify/internal/router"
	"github.com/alfredjeanlab/tasknotify/internal/server"
	"github.com/alfredjeanlab/tasknotify/internal/store"
	"github.com/alfredjeanlab/tasknotify/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the notification server",
	GroupID: "service",
	Long: `Start the websocket notification server.

Required: NOTIFY_JWT_SECRET. The relay backend is NATS when NOTIFY_NATS_URL is
set, Redis when NOTIFY_REDIS_URL is set, and in-process otherwise; override
with NOTIFY_RELAY. Event ingest (POST /v1/events) needs NOTIFY_SERVICE_TOKEN,
and the audit log needs NOTIFY_DATABASE_URL. NOTIFY_CONFIG names an optional
TOML file with the same settings in lower case.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		instance, err := idgen.InstanceID()
		if err != nil {
			return err
		}
		logger = logger.With("instance", instance)

		authn, err := auth.New(cfg.JWTSecret, cfg.AuthStrategy, auth.WithCookieName(cfg.AuthCookie))
		if err != nil {
			return err
		}

		m := metrics.New()
		bus := events.NewBus(logger, events.WithFailureFunc(func(t events.Type, subscriber string) {
			m.SubscriberFailed(string(t), subscriber)
		}))

		// The hub loop runs until shutdown has closed every connection.
		hubCtx, stopHub := context.WithCancel(context.Background())
		defer stopHub()
		h := hub.New(logger, m)
		go h.Run(hubCtx)

		// Connect the relay before accepting any client.
		rl := relay.New(newBackend(cfg), h.Deliver, logger, relay.WithMetrics(m), relay.WithInstance(instance))
		startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
		err = rl.Start(startCtx)
		cancelStart()
		if err != nil {
			return err
		}
		logger.Info("relay connected", "backend", rl.Backend(), "channel", cfg.RelayChannel)

		rt := router.New(rl, logger, m)
		if err := rt.Attach(bus); err != nil {
			rl.Close()
			return err
		}

		// Optional audit log.
		var audit store.Store
		if cfg.DatabaseURL != "" {
			dbCtx, dbCancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			pg, err := postgres.New(dbCtx, cfg.DatabaseURL)
			dbCancel()
			if err != nil {
				rl.Close()
				return err
			}
			if _, err := store.Attach(bus, pg); err != nil {
				pg.Close()
				rl.Close()
				return err
			}
			audit = pg
			logger.Info("audit log enabled")
		} else {
			logger.Info("audit log disabled (NOTIFY_DATABASE_URL not set)")
		}

		srv := server.New(server.Deps{
			Auth:    authn,
			Bus:     bus,
			Hub:     h,
			Relay:   rl,
			Router:  rt,
			Audit:   audit,
			Metrics: m,
			Logger:  logger,
		}, server.Options{
			Instance:       instance,
			AuthTimeout:    cfg.AuthTimeout,
			ServiceToken:   cfg.ServiceToken,
			AllowedOrigins: cfg.AllowedOrigins,
			SendBuffer:     cfg.SendBuffer,
		})
		if cfg.ServiceToken == "" {
			logger.Info("event ingest disabled (NOTIFY_SERVICE_TOKEN not set)")
		}

		// Start gRPC health listener.
		var grpcServer *grpc.Server
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				rl.Close()
				return err
			}
			grpcServer = server.NewGRPCServer(rl, logger)
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("notify server started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
			"auth_strategy", cfg.AuthStrategy,
			"relay", rl.Backend(),
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if grpcServer != nil {
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		}

		// Shutdown stops accepting; hijacked websockets are closed below.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := srv.CloseConnections(shutdownCtx); err != nil {
			logger.Error("closing connections", "err", err)
		}
		logger.Info("connections closed")

		if err := bus.Close(); err != nil {
			logger.Error("error closing event bus", "err", err)
		}
		rt.Detach()
		if err := rl.Close(); err != nil {
			logger.Error("error closing relay", "err", err)
		}
		if audit != nil {
			if err := audit.Close(); err != nil {
				logger.Error("error closing audit store", "err", err)
			}
		}
		stopHub()

		logger.Info("shutdown complete")
		return nil
	},
}

// newBackend selects the relay backend named by cfg.Relay.
func newBackend(cfg *config.Config) relay.Backend {
	switch cfg.Relay {
	case config.RelayNATS:
		return relay.NewNATS(cfg.NATSURL, cfg.RelayChannel, cfg.ReconnectWait)
	case config.RelayRedis:
		return relay.NewRedis(cfg.RedisURL, cfg.RelayChannel, cfg.ReconnectWait)
	}
	return relay.NewLoopback()
}
